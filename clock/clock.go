// Package clock provides the time source used by window keyers, limiters and
// local counter stores. Production code uses System; tests drive a Manual clock
// to make window rollover deterministic.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a Manual clock frozen at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the frozen time.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is allowed; keyers treat it as
// belonging to the current window.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
