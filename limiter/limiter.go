// Package limiter decides whether a request may proceed under a configured
// policy: at most Max requests per window.
//
// A Limiter combines a clock, a window keyer and a counter backend. The keyer
// is built from the policy's window, so the policy is the only place the
// window length is set:
//
//	st := store.NewAtomic()
//	defer st.Close()
//
//	policy := limiter.Policy{Window: time.Second, Max: 2}
//	l, err := limiter.New(policy, window.KindFixed, limiter.Local(st))
//	if err != nil {
//		log.Fatal(err) // invalid policy
//	}
//
//	d, err := l.Admit(ctx)
//	switch {
//	case err != nil:
//		// store unavailable; distinct from a denial
//	case !d.Allowed:
//		// rate limited, d.Reason explains why
//	}
//
// For several processes sharing one limit use fixed windows with the Redis store:
//
//	l, err := limiter.New(policy, window.KindFixed, limiter.Distributed(redisStore))
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhalm/admit/clock"
	"github.com/nhalm/admit/window"
)

var (
	// ErrInvalidPolicy is returned by New when the window or the maximum is not
	// positive, or the window kind is unknown.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")

	// ErrUnavailable wraps backend failures. It is never returned for a denial.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Policy is the limit enforced by a Limiter: at most Max requests per Window.
type Policy struct {
	Window time.Duration
	Max    int64
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidPolicy, p.Window)
	}
	if p.Max <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidPolicy, p.Max)
	}
	return nil
}

// String formats the policy as "<max> requests per <window>".
func (p Policy) String() string {
	return fmt.Sprintf("%d requests per %s", p.Max, p.Window)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Window  window.Key
	// Count is the number of requests observed in the window including this one.
	Count int64
	Limit int64
	// Reason describes a denial. Empty when Allowed.
	Reason string
}

// Remaining returns how many more requests the window admits.
func (d Decision) Remaining() int64 {
	return max(0, d.Limit-d.Count)
}

// Limiter enforces one Policy. It is safe for concurrent use.
type Limiter struct {
	policy  Policy
	keyer   window.Keyer
	backend Backend
	clock   clock.Clock
	name    string
	timeout time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used to pick the window. Defaults to clock.System.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithName namespaces counter keys so several limiters can share a store
// without colliding. Defaults to "admit".
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

// WithTimeout bounds each backend call. An expired deadline is reported as
// ErrUnavailable like any other backend failure. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.timeout = d
	}
}

// New creates a Limiter counting in windows of the given kind, each
// policy.Window long. Returns ErrInvalidPolicy, without touching the backend,
// if the policy or kind is invalid.
func New(policy Policy, kind window.Kind, backend Backend, opts ...Option) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidPolicy)
	}
	keyer, err := window.New(kind, policy.Window)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	l := &Limiter{
		policy:  policy,
		keyer:   keyer,
		backend: backend,
		clock:   clock.System{},
		name:    "admit",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the enforced policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Clock returns the clock used to pick windows.
func (l *Limiter) Clock() clock.Clock {
	return l.clock
}

// Name returns the key namespace.
func (l *Limiter) Name() string {
	return l.name
}

// Admit records one request and decides whether it may proceed.
//
// A denial is a normal Decision with Allowed false. A backend failure is
// returned as an error wrapping ErrUnavailable and never as a Decision.
func (l *Limiter) Admit(ctx context.Context) (Decision, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	now := l.clock.Now()
	key := l.keyer.Key(now)

	count, allowed, err := l.backend.Take(ctx, l.name+":"+key.ID, l.policy.Max, l.policy.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: window %s: %w", ErrUnavailable, key, err)
	}

	d := Decision{
		Allowed: allowed,
		Window:  key,
		Count:   count,
		Limit:   l.policy.Max,
	}
	if !allowed {
		d.Reason = fmt.Sprintf("only %d requests allowed per %s, request exceeds limit (window %s, count %d, limit %d)",
			l.policy.Max, l.policy.Window, key, count, l.policy.Max)
	}
	return d, nil
}

// ResetAt returns when the window of d stops admitting requests.
func (l *Limiter) ResetAt(d Decision) time.Time {
	return d.Window.Start.Add(l.policy.Window)
}
