package testutil

import (
	"sync"
	"time"
)

// Epoch is the default starting time of a Clock: the morning of 18 October
// 2026, UTC.
var Epoch = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// Clock is a wall clock for tests that only moves when told to.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewClock creates a clock at start. A zero start means Epoch.
// Every call to Now advances the clock by step afterwards; zero keeps it still.
func NewClock(start time.Time, step time.Duration) *Clock {
	if start.IsZero() {
		start = Epoch
	}
	return &Clock{start: start, now: start, step: step}
}

// Now returns the current time and then advances by the step.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset returns the clock to its start time.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
