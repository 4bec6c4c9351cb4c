package clock

import (
	"sync/atomic"
	"time"
)

// Clock exposes the current tick.
type Clock interface {
	// Now returns the current tick. It never decreases.
	Now() int64
}

// Counter is a Clock advanced explicitly by its owner.
// It's safe for concurrent readers.
type Counter struct {
	tick atomic.Int64
}

// NewCounter creates a counter starting at tick start.
func NewCounter(start int64) *Counter {
	c := &Counter{}
	c.tick.Store(start)
	return c
}

// Now returns the current tick.
func (c *Counter) Now() int64 {
	return c.tick.Load()
}

// Advance moves the clock forward by one tick and returns the new tick.
func (c *Counter) Advance() int64 {
	return c.tick.Add(1)
}

// AdvanceBy moves the clock forward by n ticks. Non-positive n is ignored.
func (c *Counter) AdvanceBy(n int64) int64 {
	if n <= 0 {
		return c.tick.Load()
	}
	return c.tick.Add(n)
}

// Fixed is a Clock stuck at a single tick, handy in tests.
type Fixed int64

// Now returns the fixed tick.
func (f Fixed) Now() int64 {
	return int64(f)
}

// Drive advances c once per interval until stop is closed, calling onTick
// with the new tick after each advance. It blocks.
func Drive(c *Counter, interval time.Duration, stop <-chan struct{}, onTick func(int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := c.Advance()
			if onTick != nil {
				onTick(now)
			}
		}
	}
}
