package store

import (
	"context"
	"sync"
	"time"
)

type slot struct {
	count   int64
	expires time.Time
}

// Mutex is a Counter whose whole keyspace sits behind one lock. Every
// operation, reads included, serializes on it, which makes Mutex the baseline
// to measure Atomic against. State is local to the process.
type Mutex struct {
	opts  options
	mu    sync.Mutex
	slots map[string]slot

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMutex returns an empty store and starts its sweeper. Call Close to stop it.
func NewMutex(opts ...Option) *Mutex {
	m := &Mutex{
		opts:  newOptions(opts),
		slots: make(map[string]slot),
		stop:  make(chan struct{}),
	}
	sweeper(m.opts.cleanupInterval, m.stop, m.sweep)
	return m
}

// live returns the unexpired slot for key. Callers hold m.mu.
func (m *Mutex) live(key string, now time.Time) (slot, bool) {
	s, ok := m.slots[key]
	if !ok || now.After(s.expires) {
		return slot{}, false
	}
	return s, true
}

// Increment counts one against key, starting a fresh slot that expires after
// ttl when none is live.
func (m *Mutex) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.clock.Now()
	s, ok := m.live(key, now)
	if !ok {
		s = slot{expires: now.Add(ttl)}
	}
	s.count++
	m.slots[key] = s
	return s.count, nil
}

// Decrement gives back one count, never going below zero. Expired or missing
// keys are left alone.
func (m *Mutex) Decrement(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.live(key, m.opts.clock.Now()); ok && s.count > 0 {
		s.count--
		m.slots[key] = s
	}
	return nil
}

// Get returns the live count for key, or 0.
func (m *Mutex) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, _ := m.live(key, m.opts.clock.Now())
	return s.count, nil
}

// Reset drops key, live or expired.
func (m *Mutex) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.slots, key)
	m.mu.Unlock()
	return nil
}

// Len counts stored slots, including expired ones the sweeper has not reached.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Close stops the sweeper. Safe to call twice.
func (m *Mutex) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *Mutex) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.clock.Now()
	for key, s := range m.slots {
		if now.After(s.expires) {
			delete(m.slots, key)
		}
	}
}
