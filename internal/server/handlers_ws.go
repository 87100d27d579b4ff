package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pulsewire/internal/metrics"
)

// handleWebSocket upgrades the request and hands the connection to the hub.
// Connection limits are checked before the upgrade; origin validation happens
// inside the upgrader itself.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionLimitRejections.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection rejected", "ip", ip, "reason", reason)
		if reason == LimitReasonRate {
			return c.String(http.StatusTooManyRequests, "Too many connection attempts")
		}
		return c.String(http.StatusServiceUnavailable, "Connection limit reached")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade failures include origin rejections; the upgrader has
		// already written the HTTP error response.
		s.limits.Release(ip)
		slog.Debug("WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}

	s.hub.Attach(conn, func() { s.limits.Release(ip) })
	return nil
}
