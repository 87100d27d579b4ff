package hub

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulsewire/internal/metrics"
)

// Maximum message size allowed from a peer. Clients only send pongs and
// close frames; anything larger is a protocol violation.
const maxMessageSize = 512 * 1024

// frameDelimiter separates coalesced messages inside a single text frame.
var frameDelimiter = []byte{'\n'}

// Client is one persistent WebSocket session. The read and write pumps are
// its only goroutines; they coordinate solely through the owning hub and the
// bounded send queue.
type Client struct {
	id      uuid.UUID
	hub     *Hub
	conn    *websocket.Conn
	clock   clockwork.Clock
	send    chan []byte
	onClose func()
}

func (h *Hub) newClient(conn *websocket.Conn, onClose func()) *Client {
	return &Client{
		id:      uuid.New(),
		hub:     h,
		conn:    conn,
		clock:   h.clock,
		send:    make(chan []byte, h.opts.SendBuffer),
		onClose: onClose,
	}
}

func (c *Client) pongWait() time.Duration {
	return c.hub.opts.LivenessWindow
}

// pingPeriod must be shorter than the liveness window so a pong has time to
// arrive before the read deadline expires.
func (c *Client) pingPeriod() time.Duration {
	return c.pongWait() * 9 / 10
}

func (c *Client) writeWait() time.Duration {
	return c.hub.opts.WriteWait
}

// readPump consumes inbound frames until the connection errors or the read
// deadline expires. This channel is broadcast-only: inbound payload is
// discarded, only pongs and disconnects matter.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(c.clock.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(c.clock.Now().Add(c.pongWait()))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Debug("WebSocket read error", "conn_id", c.id.String(), "error", err)
			}
			return
		}
	}
}

// writePump delivers queued messages to the peer and keeps the connection
// alive with periodic pings. It exits when the hub closes the send queue or
// any write fails.
func (c *Client) writePump() {
	ticker := c.clock.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(c.clock.Now().Add(c.writeWait()))
			if !ok {
				// Hub closed the queue
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			start := c.clock.Now()
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(msg)

			// Fold whatever is queued right now into the same frame to
			// amortize per-frame overhead under bursty load.
			n := len(c.send)
			for i := 0; i < n; i++ {
				extra, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write(frameDelimiter)
				_, _ = w.Write(extra)
			}

			if err := w.Close(); err != nil {
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(c.clock.Since(start).Seconds())

		case <-ticker.Chan():
			_ = c.conn.SetWriteDeadline(c.clock.Now().Add(c.writeWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				return
			}
		}
	}
}
