package auth

import (
	"sync"
	"time"
)

// Clock abstracts time for the resend cooldown.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Cooldown is a per-second countdown. It keeps a deadline instead of a
// ticking counter: Remaining drops by exactly one for every elapsed second,
// never goes below zero and cannot reach zero before the full period passed.
type Cooldown struct {
	mu       sync.Mutex
	clock    Clock
	period   time.Duration
	deadline time.Time
}

func NewCooldown(period time.Duration, clock Clock) *Cooldown {
	if clock == nil {
		clock = systemClock{}
	}
	if period <= 0 {
		period = DefaultResendCooldown
	}
	return &Cooldown{clock: clock, period: period}
}

// Reset restarts the countdown at the full period.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = c.clock.Now().Add(c.period)
}

// Stop sets the countdown to zero.
func (c *Cooldown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = time.Time{}
}

// Remaining returns the whole seconds left, rounded up.
func (c *Cooldown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline.IsZero() {
		return 0
	}
	left := c.deadline.Sub(c.clock.Now())
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

func (c *Cooldown) Ready() bool {
	return c.Remaining() == 0
}
