package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the booking engine
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock
type Real struct{}

// Now returns the current UTC time
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for tests and replaying reconciliation ticks
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock fixed at t
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the clock's current time
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
