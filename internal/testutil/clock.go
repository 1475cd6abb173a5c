package testutil

import (
	"sync"
	"time"
)

// StepClock is a deterministic wall clock for tests.
//
// Every call to Now returns the current instant and then advances it by a
// fixed step, so start/finish timestamps of a run are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a clock starting at start and advancing by step.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current instant without advancing.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
