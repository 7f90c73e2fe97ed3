package execution

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// Counter is the shared count of iterations an execution has left. Observers
// block in Wait until it reaches zero or the execution terminates, whichever
// comes first.
type Counter struct {
	remaining atomic.Int64
	done      chan struct{}
	once      sync.Once
}

// NewCounter returns a counter starting at n, saturated at math.MaxInt64. A
// zero counter never reaches zero by decrement and is released only when its
// execution ends.
func NewCounter(n uint) *Counter {
	c := &Counter{done: make(chan struct{})}
	v := int64(math.MaxInt64)
	if uint64(n) < math.MaxInt64 {
		v = int64(n)
	}
	c.remaining.Store(v)
	return c
}

// Remaining returns the iterations left.
func (c *Counter) Remaining() uint {
	n := c.remaining.Load()
	if n < 0 {
		return 0
	}
	return uint(n)
}

// Decrement consumes one iteration and returns what is left. The counter is
// released when this reaches zero.
func (c *Counter) Decrement() uint {
	n := c.remaining.Add(-1)
	if n <= 0 {
		c.remaining.Store(0)
		c.Release()
		return 0
	}
	return uint(n)
}

// Release wakes every waiter. Safe to call more than once.
func (c *Counter) Release() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the counter is released.
func (c *Counter) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the counter is released or ctx ends.
func (c *Counter) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
