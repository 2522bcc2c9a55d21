package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/nhalm/admit/store"
)

// Backend records a request against a window counter and reports whether it
// fits within limit.
type Backend interface {
	// Take counts one request against key. count is the number of requests in
	// the window including this one; allowed is false once count exceeds limit.
	Take(ctx context.Context, key string, limit int64, ttl time.Duration) (count int64, allowed bool, err error)
}

// LocalOption configures a Local backend.
type LocalOption func(*local)

// WithoutRollback keeps increments that caused a denial. The counter then keeps
// growing past the limit for the rest of the window, and every later denial
// reports the inflated count. By default the denied increment is rolled back.
func WithoutRollback() LocalOption {
	return func(b *local) {
		b.rollback = false
	}
}

type local struct {
	counter  store.Counter
	rollback bool
}

// Local adapts a process-local Counter (store.Atomic, store.Mutex).
// The increment is performed first and compared with the limit afterwards; an
// increment that overflows the limit is rolled back unless WithoutRollback is set.
func Local(c store.Counter, opts ...LocalOption) Backend {
	b := &local{counter: c, rollback: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *local) Take(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	count, err := b.counter.Increment(ctx, key, ttl)
	if err != nil {
		return 0, false, err
	}
	if count <= limit {
		return count, true, nil
	}
	if b.rollback {
		if err := b.counter.Decrement(ctx, key); err != nil {
			return 0, false, errors.Join(errors.New("rollback of denied increment failed"), err)
		}
	}
	return count, false, nil
}

type distributed struct {
	eval store.Evaluator
}

// Distributed adapts a store that checks and increments atomically on the
// store side (store.Redis). Denied requests never touch the counter.
func Distributed(e store.Evaluator) Backend {
	return &distributed{eval: e}
}

func (b *distributed) Take(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	count, err := b.eval.CheckAndIncrement(ctx, key, limit, ttl)
	if err != nil {
		return 0, false, err
	}
	if count == 0 {
		// The script only says "denied"; the request that was refused would
		// have been number limit+1.
		return limit + 1, false, nil
	}
	return count, true, nil
}
