package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulsewire/internal/metrics"
)

const stopTimeout = 10 * time.Second

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	client *Client
}

type unregisterCmd struct {
	baseHubCmd
	client *Client
}

type broadcastCmd struct {
	baseHubCmd
	data []byte
}

type stopCmd struct {
	baseHubCmd
}

// Options tunes hub buffers and timing. Zero values fall back to defaults.
type Options struct {
	// BroadcastBuffer is the capacity of the coordinator's command channel.
	BroadcastBuffer int
	// SendBuffer is the capacity of each client's outbound queue.
	SendBuffer int
	// BatchMaxSize flushes the accumulator as soon as this many messages are pending.
	BatchMaxSize int
	// BatchWindow flushes the accumulator this long after the first pending message.
	BatchWindow time.Duration
	// LivenessWindow is how long a client may go without a pong before disconnect.
	LivenessWindow time.Duration
	// WriteWait bounds every write to a peer.
	WriteWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.BroadcastBuffer == 0 {
		o.BroadcastBuffer = 256
	}
	if o.SendBuffer == 0 {
		o.SendBuffer = 256
	}
	if o.BatchMaxSize == 0 {
		o.BatchMaxSize = 10
	}
	if o.BatchWindow == 0 {
		o.BatchWindow = 50 * time.Millisecond
	}
	if o.LivenessWindow == 0 {
		o.LivenessWindow = 60 * time.Second
	}
	if o.WriteWait == 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Hub maintains the set of active clients and fans broadcasts out to them.
// Membership is mutated only by the coordinator goroutine; the RWMutex exists
// so Count can be read concurrently with fan-out.
type Hub struct {
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	opts    Options
	batcher *Accumulator
	done    chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// New creates a hub and starts its coordinator goroutine.
func New(clock clockwork.Clock, opts Options) *Hub {
	h := newHub(clock, opts)
	go h.run()
	return h
}

func newHub(clock clockwork.Clock, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		cmdCh:   make(chan hubCmd, opts.BroadcastBuffer),
		clock:   clock,
		opts:    opts,
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
	}
	h.batcher = NewAccumulator(clock, opts.BatchMaxSize, opts.BatchWindow, h.submitMessage)
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c.client)
		case unregisterCmd:
			h.handleUnregister(c.client)
		case broadcastCmd:
			h.handleBroadcast(c.data)
		case stopCmd:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.HubConnectedClients.Set(float64(total))
	slog.Debug("Client connected", "conn_id", c.id.String(), "total_clients", total)
}

// handleUnregister removes the client and closes its outbound queue.
// Safe to run more than once for the same client: the membership check
// guarantees the queue is closed exactly once.
func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	_, active := h.clients[c]
	if active {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !active {
		return
	}
	metrics.HubConnectedClients.Set(float64(total))
	slog.Debug("Client disconnected", "conn_id", c.id.String(), "total_clients", total)
}

func (h *Hub) handleBroadcast(data []byte) {
	// Snapshot the active set so a slow per-client enqueue never holds the
	// membership lock.
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range snapshot {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		slog.Warn("Disconnecting slow client", "conn_id", c.id.String())
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(c)
	}

	metrics.HubBroadcastsTotal.Inc()
}

func (h *Hub) handleStop() {
	h.mu.Lock()
	total := len(h.clients)
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	metrics.HubConnectedClients.Set(0)
	slog.Info("Hub stopped, disconnected all clients", "clients", total)
}

// --- Public API ---

// Register adds a client to the active set.
func (h *Hub) Register(c *Client) {
	select {
	case h.cmdCh <- registerCmd{client: c}:
	case <-h.done:
		_ = c.conn.Close()
	}
}

// Unregister removes a client from the active set and closes its outbound
// queue. Calling it again for the same client is a no-op.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.cmdCh <- unregisterCmd{client: c}:
	case <-h.done:
		_ = c.conn.Close()
	}
}

// Broadcast sends a message to all connected clients immediately.
// Non-blocking: if the command channel is full, the message is dropped.
func (h *Hub) Broadcast(eventType string, data any) {
	h.submitMessage(Message{Type: eventType, Data: data})
}

// BroadcastBatched coalesces high-frequency events through the accumulator
// before fan-out. Non-blocking and thread-safe.
func (h *Hub) BroadcastBatched(eventType string, data any) {
	h.batcher.Add(Message{Type: eventType, Data: data})
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop flushes any pending batch, disconnects all clients, and waits for the
// coordinator goroutine to exit.
func (h *Hub) Stop() {
	h.batcher.Shutdown()

	select {
	case h.cmdCh <- stopCmd{}:
	case <-h.done:
		return
	}

	timeout := h.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

// Attach wraps an upgraded connection, registers it, and starts its read and
// write pumps. onClose runs once after the connection is torn down.
func (h *Hub) Attach(conn *websocket.Conn, onClose func()) *Client {
	c := h.newClient(conn, onClose)
	h.Register(c)
	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) submitMessage(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "type", m.Type, "error", err)
		metrics.HubMarshalErrors.Inc()
		return
	}
	h.enqueue(data)
}

func (h *Hub) enqueue(data []byte) {
	select {
	case h.cmdCh <- broadcastCmd{data: data}:
	default:
		slog.Warn("Broadcast queue full, dropping message")
		metrics.HubBroadcastDropped.Inc()
	}
}
