package hub

import (
	"log/slog"
	"net/http"

	"github.com/pscheid92/pulsewire/internal/metrics"
)

// NewCheckOrigin returns a CheckOrigin function for the WebSocket upgrader.
// Requests without an Origin header are allowed (covers non-browser clients);
// any other origin must match the allow-list exactly.
func NewCheckOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" {
			return true
		}

		for _, a := range allowed {
			if origin == a {
				return true
			}
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		metrics.WebSocketOriginRejected.Inc()
		return false
	}
}
