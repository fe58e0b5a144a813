package core

import (
	"context"
	"sync"
)

// Barrier is a countdown latch: a counter plus a future that completes
// when the counter reaches zero. Used as the fan-in point for N async
// signal productions during mesh setup. A barrier over zero parties is
// complete from the start.
type Barrier struct {
	mu   sync.Mutex
	n    int
	done chan struct{}
}

func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n, done: make(chan struct{})}
	if n <= 0 {
		close(b.done)
	}
	return b
}

// Arrive decrements the counter. Arrivals past zero are ignored.
func (b *Barrier) Arrive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n <= 0 {
		return
	}
	b.n--
	if b.n == 0 {
		close(b.done)
	}
}

// Wait blocks until the counter reaches zero or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completed reports whether the barrier has already been released.
func (b *Barrier) Completed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
