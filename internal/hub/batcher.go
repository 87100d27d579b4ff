package hub

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulsewire/internal/metrics"
)

// Accumulator coalesces high-frequency messages into a single batch envelope.
// A batch flushes when it reaches maxSize or when the window elapses after the
// first pending message, whichever comes first.
type Accumulator struct {
	clock   clockwork.Clock
	maxSize int
	window  time.Duration
	submit  func(Message)

	mu      sync.Mutex
	pending []Message
	timer   clockwork.Timer
	// generation increments on every flush; an armed timer only fires for the
	// window it was armed in, so a size flush and a timer flush can never both
	// drain the same window.
	generation uint64
}

// NewAccumulator creates an accumulator that hands finished batches to submit.
func NewAccumulator(clock clockwork.Clock, maxSize int, window time.Duration, submit func(Message)) *Accumulator {
	return &Accumulator{
		clock:   clock,
		maxSize: maxSize,
		window:  window,
		submit:  submit,
		pending: make([]Message, 0, maxSize),
	}
}

// Add appends a message to the pending batch. Flushes immediately at maxSize,
// otherwise arms the window timer if this is the first pending message.
func (a *Accumulator) Add(m Message) {
	a.mu.Lock()

	a.pending = append(a.pending, m)
	if len(a.pending) >= a.maxSize {
		batch := a.swapLocked()
		a.mu.Unlock()
		metrics.BatchFlushesTotal.WithLabelValues("size").Inc()
		a.submitBatch(batch)
		return
	}

	if a.timer == nil {
		gen := a.generation
		a.timer = a.clock.AfterFunc(a.window, func() { a.flushExpired(gen) })
	}
	a.mu.Unlock()
}

// Flush drains the pending batch immediately. A flush with nothing pending is
// a no-op.
func (a *Accumulator) Flush() {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.swapLocked()
	a.mu.Unlock()

	metrics.BatchFlushesTotal.WithLabelValues("manual").Inc()
	a.submitBatch(batch)
}

// Shutdown cancels any armed window timer and performs one final flush so no
// pending message is silently dropped on planned shutdown.
func (a *Accumulator) Shutdown() {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.disarmLocked()
		a.generation++
		a.mu.Unlock()
		return
	}
	batch := a.swapLocked()
	a.mu.Unlock()

	metrics.BatchFlushesTotal.WithLabelValues("shutdown").Inc()
	a.submitBatch(batch)
}

// Len returns the number of currently pending messages.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// flushExpired is the window-timer callback. It is a no-op if a size flush or
// shutdown already drained the window it was armed in.
func (a *Accumulator) flushExpired(gen uint64) {
	a.mu.Lock()
	if gen != a.generation || len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.swapLocked()
	a.mu.Unlock()

	metrics.BatchFlushesTotal.WithLabelValues("window").Inc()
	a.submitBatch(batch)
}

// swapLocked drains the pending batch, disarms the timer, and advances the
// generation. Must be called with mu held.
func (a *Accumulator) swapLocked() []Message {
	a.disarmLocked()
	a.generation++
	batch := a.pending
	a.pending = make([]Message, 0, a.maxSize)
	return batch
}

func (a *Accumulator) disarmLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// submitBatch hands the drained batch downstream outside the mutex so a slow
// submit never blocks concurrent Adds.
func (a *Accumulator) submitBatch(batch []Message) {
	metrics.BatchSize.Observe(float64(len(batch)))
	a.submit(Message{Type: TypeBatch, Data: batch})
}
