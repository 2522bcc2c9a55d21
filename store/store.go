// Package store provides per-window request counters for admission control.
//
// Three strategies are available:
//
//   - Atomic: lock-free counters in a sync.Map, updated by compare-and-swap.
//   - Mutex: a plain map behind a single exclusive lock.
//   - Redis: a Lua script evaluated atomically by Redis, shared by every process
//     pointing at the same server and prefix.
//
// Atomic and Mutex implement Counter and are only correct within one process.
// Redis implements Evaluator and is the only strategy that stays correct when the
// service is scaled out horizontally.
package store

import (
	"context"
	"time"

	"github.com/nhalm/admit/clock"
)

// Counter is a process-local counter store.
// Implementations must be safe for concurrent use.
type Counter interface {
	// Increment adds one to the counter for key and returns the new value.
	// The returned value reflects exactly this call's increment. A missing or
	// expired key starts from zero and lives for ttl.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Decrement removes one increment previously made by the caller. It never
	// takes a counter below zero and is a no-op when the key has expired.
	Decrement(ctx context.Context, key string) error

	// Get returns the current count without incrementing, for diagnostics only.
	// Returns 0 if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Evaluator is a store that performs the limit check and the increment as one
// indivisible step on the store side.
type Evaluator interface {
	// CheckAndIncrement increments key and refreshes its ttl if the new count
	// would not exceed limit, returning the new count. Returns 0 without touching
	// the key when the limit is already reached.
	CheckAndIncrement(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, error)

	// Get returns the current count without incrementing, for diagnostics only.
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

const defaultCleanupInterval = time.Minute

type options struct {
	clock           clock.Clock
	cleanupInterval time.Duration
}

// Option configures a local store.
type Option func(*options)

// WithClock sets the clock used to decide when entries expire.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithCleanupInterval sets how often expired entries are swept.
// A non-positive interval disables the background sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		o.cleanupInterval = d
	}
}

func newOptions(opts []Option) options {
	o := options{
		clock:           clock.System{},
		cleanupInterval: defaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sweeper runs fn on a ticker until stop is closed.
func sweeper(interval time.Duration, stop <-chan struct{}, fn func()) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
}
