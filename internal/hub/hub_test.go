package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHub sets up a Hub with a test HTTP server that upgrades connections and
// attaches them. Returns the hub and a dial function to connect clients.
func testHub(t *testing.T, opts Options) (*Hub, func() *ws.Conn) {
	t.Helper()

	h := New(clockwork.NewRealClock(), opts)
	t.Cleanup(func() { h.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		h.Attach(conn, nil)
	}))
	t.Cleanup(server.Close)

	dial := func() *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return h, dial
}

// newTestConnPair upgrades a single connection and returns both ends.
func newTestConnPair(t *testing.T) (server, client *ws.Conn) {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	serverConns := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-serverConns
	t.Cleanup(func() { server.Close() })
	return server, client
}

// waitForCount polls until the hub reports the expected client count.
func waitForCount(h *Hub, expected int) bool {
	for i := 0; i < 500; i++ {
		if h.Count() == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestHub_BroadcastDeliversVerbatim(t *testing.T) {
	h, dial := testHub(t, Options{})

	conn := dial()
	require.True(t, waitForCount(h, 1))

	h.Broadcast("x", 1)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"x","data":1}`, string(msg))
}

func TestHub_MultipleClients(t *testing.T) {
	h, dial := testHub(t, Options{})

	conns := []*ws.Conn{dial(), dial(), dial()}
	require.True(t, waitForCount(h, 3))

	h.Broadcast("update", map[string]any{"value": 77.0})

	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var result Message
		require.NoError(t, json.Unmarshal(msg, &result))
		assert.Equal(t, "update", result.Type)
	}
}

func TestHub_UnregisterTwice_NoDoubleClose(t *testing.T) {
	h := New(clockwork.NewRealClock(), Options{})
	t.Cleanup(func() { h.Stop() })

	server, _ := newTestConnPair(t)
	c := h.newClient(server, nil)
	h.Register(c)
	require.True(t, waitForCount(h, 1))

	assert.NotPanics(t, func() {
		h.Unregister(c)
		h.Unregister(c)
	})
	require.True(t, waitForCount(h, 0))

	// Queue must be closed exactly once and stay closed
	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_SlowClientEvicted(t *testing.T) {
	h := New(clockwork.NewRealClock(), Options{SendBuffer: 1})
	t.Cleanup(func() { h.Stop() })

	// Register a client without pumps so its queue never drains
	server, _ := newTestConnPair(t)
	c := h.newClient(server, nil)
	h.Register(c)
	require.True(t, waitForCount(h, 1))

	// First broadcast fills the queue, repeated pressure triggers eviction
	for i := 0; i < 5; i++ {
		h.Broadcast("tick", i)
	}
	require.True(t, waitForCount(h, 0))

	// Drain the closed queue without fault
	assert.NotPanics(t, func() {
		for range c.send {
		}
	})
}

func TestHub_BroadcastNonBlockingWhenSaturated(t *testing.T) {
	// Coordinator deliberately not running: the submission queue fills up and
	// further broadcasts must drop instead of blocking the producer.
	h := newHub(clockwork.NewRealClock(), Options{BroadcastBuffer: 4})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			h.Broadcast("tick", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a saturated submission queue")
	}
	assert.Equal(t, 4, len(h.cmdCh))
}

func TestHub_CountConcurrent(t *testing.T) {
	h, dial := testHub(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = h.Count()
			}
		}()
	}

	dial()
	dial()
	h.Broadcast("x", "y")
	wg.Wait()

	require.True(t, waitForCount(h, 2))
}

func TestHub_OrderingPreservedPerConnection(t *testing.T) {
	h, dial := testHub(t, Options{})

	conn := dial()
	require.True(t, waitForCount(h, 1))

	const total = 50
	for i := 0; i < total; i++ {
		h.Broadcast("seq", i)
	}

	// Frames may coalesce several messages separated by newlines
	var got []int
	for len(got) < total {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)

		for _, raw := range strings.Split(string(frame), "\n") {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(raw), &m))
			got = append(got, int(m.Data.(float64)))
		}
	}

	for i, v := range got {
		require.Equal(t, i, v, "message %d out of order", i)
	}
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	h, dial := testHub(t, Options{})

	conn := dial()
	require.True(t, waitForCount(h, 1))

	h.Stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "expected close frame, got %v", err)
	assert.Equal(t, 0, h.Count())
}

func TestHub_StalledPeerDisconnected(t *testing.T) {
	// Short liveness window; the client never reads, so its side never
	// answers pings and the read deadline expires.
	h, dial := testHub(t, Options{LivenessWindow: 200 * time.Millisecond})

	dial()
	require.True(t, waitForCount(h, 1))
	require.True(t, waitForCount(h, 0), "stalled peer not disconnected within liveness window")
}

func TestHub_MarshalFailureDoesNotAbortCoordinator(t *testing.T) {
	h, dial := testHub(t, Options{})

	conn := dial()
	require.True(t, waitForCount(h, 1))

	// Channels cannot be marshaled; the message is dropped and logged
	h.Broadcast("bad", make(chan int))

	h.Broadcast("ok", "still alive")
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ok","data":"still alive"}`, string(msg))
}

func TestHub_BroadcastWithNoClients(t *testing.T) {
	h, _ := testHub(t, Options{})

	assert.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			h.Broadcast("tick", fmt.Sprintf("%d", i))
		}
	})
	assert.Equal(t, 0, h.Count())
}
