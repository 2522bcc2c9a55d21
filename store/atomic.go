package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// retired marks an entry that has been expired or reset. Increments that observe
// it start over with a fresh entry.
const retired = -1

type atomicEntry struct {
	count      atomic.Int64
	expiration time.Time
}

func (e *atomicEntry) expired(now time.Time) bool {
	return now.After(e.expiration)
}

// retire flips the entry to the retired state. Only one caller wins.
func (e *atomicEntry) retire() bool {
	for {
		old := e.count.Load()
		if old == retired {
			return false
		}
		if e.count.CompareAndSwap(old, retired) {
			return true
		}
	}
}

// Atomic is a lock-free Counter.
//
// Entries live in a sync.Map and are created with LoadOrStore. Each increment is
// a compare-and-swap loop on the entry's counter whose update is old+1, so a
// retry after losing a race never has side effects. Callers never block;
// under heavy contention a caller may retry several times.
//
// Expired entries are first retired (counter swapped to a sentinel) and only then
// removed, so an increment racing with expiry either lands in the live entry or
// retries against the replacement. No increment is lost.
type Atomic struct {
	opts      options
	entries   sync.Map // string -> *atomicEntry
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewAtomic creates a lock-free store. A background goroutine removes expired
// entries every cleanup interval (default one minute).
//
// Important: call Close() when done to stop the cleanup goroutine.
func NewAtomic(opts ...Option) *Atomic {
	a := &Atomic{
		opts:   newOptions(opts),
		stopCh: make(chan struct{}),
	}
	sweeper(a.opts.cleanupInterval, a.stopCh, a.sweep)
	return a
}

// Increment adds one to key and returns the new count.
func (a *Atomic) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := a.opts.clock.Now()

	for {
		v, ok := a.entries.Load(key)
		if !ok {
			fresh := &atomicEntry{expiration: now.Add(ttl)}
			v, _ = a.entries.LoadOrStore(key, fresh)
		}
		entry := v.(*atomicEntry)

		if entry.expired(now) {
			if entry.retire() {
				a.entries.CompareAndDelete(key, entry)
			}
			continue
		}

		if n, ok := entry.increment(); ok {
			return n, nil
		}
		// Entry was retired under us; drop it if nobody else has.
		a.entries.CompareAndDelete(key, entry)
	}
}

func (e *atomicEntry) increment() (int64, bool) {
	for {
		old := e.count.Load()
		if old == retired {
			return 0, false
		}
		if e.count.CompareAndSwap(old, old+1) {
			return old + 1, true
		}
	}
}

// Decrement removes one from key, stopping at zero.
func (a *Atomic) Decrement(_ context.Context, key string) error {
	v, ok := a.entries.Load(key)
	if !ok {
		return nil
	}
	entry := v.(*atomicEntry)
	for {
		old := entry.count.Load()
		if old <= 0 {
			return nil
		}
		if entry.count.CompareAndSwap(old, old-1) {
			return nil
		}
	}
}

// Get returns the current count for key.
// Returns 0 if the key doesn't exist or has expired.
func (a *Atomic) Get(_ context.Context, key string) (int64, error) {
	v, ok := a.entries.Load(key)
	if !ok {
		return 0, nil
	}
	entry := v.(*atomicEntry)
	if entry.expired(a.opts.clock.Now()) {
		return 0, nil
	}
	return max(0, entry.count.Load()), nil
}

// Reset removes the counter for key.
func (a *Atomic) Reset(_ context.Context, key string) error {
	if v, ok := a.entries.Load(key); ok {
		entry := v.(*atomicEntry)
		entry.retire()
		a.entries.CompareAndDelete(key, entry)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (a *Atomic) Len() int {
	n := 0
	a.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops the background cleanup goroutine. It is safe to call more than once.
func (a *Atomic) Close() error {
	a.closeOnce.Do(func() {
		close(a.stopCh)
	})
	return nil
}

func (a *Atomic) sweep() {
	now := a.opts.clock.Now()
	a.entries.Range(func(k, v any) bool {
		entry := v.(*atomicEntry)
		if entry.expired(now) && entry.retire() {
			a.entries.CompareAndDelete(k, entry)
		}
		return true
	})
}
