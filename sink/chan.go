package sink

import (
	"sync"
	"sync/atomic"

	"github.com/jonoton/go-logthrottle"
)

// Chan delivers reported envelopes on a channel so they can be consumed by a
// separate goroutine, such as a log shipper. Report never blocks the
// throttle: when the buffer is full the envelope is dropped and counted.
type Chan[T any] struct {
	output  chan *logthrottle.Envelope[T]
	dropped atomic.Uint64

	// mu guards closed so Report never sends on a closed channel.
	mu     sync.RWMutex
	closed bool
}

// NewChan creates a Chan with the given buffer size. Sizes below one are
// raised to one.
func NewChan[T any](size int) *Chan[T] {
	if size < 1 {
		size = 1
	}
	return &Chan[T]{output: make(chan *logthrottle.Envelope[T], size)}
}

// Report queues env for the consumer.
func (c *Chan[T]) Report(env *logthrottle.Envelope[T]) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}

	select {
	case c.output <- env:
	default:
		// The consumer is behind; keep the envelopes already queued.
		c.dropped.Add(1)
	}
}

// Output returns the read-only channel of reported envelopes.
func (c *Chan[T]) Output() <-chan *logthrottle.Envelope[T] {
	return c.output
}

// Dropped returns how many envelopes could not be queued.
func (c *Chan[T]) Dropped() uint64 {
	return c.dropped.Load()
}

// Close closes the output channel. Later reports are dropped. Close is
// idempotent.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.output)
	}
}
