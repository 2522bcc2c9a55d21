package admit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nhalm/canonlog"

	"github.com/nhalm/admit/limiter"
)

// HeaderMode selects when Gate.Handler emits RateLimit-* headers.
type HeaderMode int

const (
	HeadersAlways          HeaderMode = iota // every response (default)
	HeadersOnLimitExceeded                   // 429 responses only
	HeadersNever                             // no RateLimit-* or Retry-After headers
)

// Gate is the admission check placed in front of an operation.
// It is safe for concurrent use.
type Gate struct {
	limiter    *limiter.Limiter
	failOpen   bool
	headerMode HeaderMode
	logger     *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithFailOpen lets requests through when the limiter's store is unavailable.
// The failure is still logged as an error, on the request's canonlog line or
// else through the gate's logger. By default the gate fails closed.
func WithFailOpen() GateOption {
	return func(g *Gate) {
		g.failOpen = true
	}
}

// WithHeaderMode configures when Handler sets rate limit headers.
func WithHeaderMode(mode HeaderMode) GateOption {
	return func(g *Gate) {
		g.headerMode = mode
	}
}

// WithLogger sets where a fail-open gate reports store failures when the
// context carries no canonlog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = l
	}
}

// NewGate wraps l.
func NewGate(l *limiter.Limiter, opts ...GateOption) *Gate {
	g := &Gate{
		limiter:    l,
		headerMode: HeadersAlways,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limiter returns the wrapped limiter.
func (g *Gate) Limiter() *limiter.Limiter {
	return g.limiter
}

// CheckAndRecord counts one request and returns nil if it may proceed.
//
// Over the limit it returns a *RateLimitExceededError (errors.Is
// ErrRateLimitExceeded). If the limiter's store fails it returns an error
// matching ErrLimiterUnavailable, or nil when the gate fails open.
//
// When ctx carries a canonlog logger the outcome is added to the request's log
// line as "admission". Only store failures are logged as errors.
func (g *Gate) CheckAndRecord(ctx context.Context) error {
	d, err := g.check(ctx)
	if err != nil {
		if g.failOpen {
			return nil
		}
		return err
	}
	if !d.Allowed {
		return &RateLimitExceededError{Decision: d}
	}
	return nil
}

func (g *Gate) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return slog.Default()
}

func (g *Gate) check(ctx context.Context) (limiter.Decision, error) {
	d, err := g.limiter.Admit(ctx)
	_, logging := canonlog.TryGetLogger(ctx)

	if err != nil {
		err = fmt.Errorf("admission check for %s failed: %w", g.limiter.Name(), err)
		if logging {
			outcome := "unavailable"
			if g.failOpen {
				outcome = "unavailable_fail_open"
			}
			canonlog.InfoAdd(ctx, "admission", outcome)
			canonlog.ErrorAdd(ctx, err)
		} else if g.failOpen {
			// Fail-open callers never see err.
			g.log().ErrorContext(ctx, "admission check failed, admitting request",
				"policy", g.limiter.Name(), "error", err)
		}
		return d, err
	}

	if logging {
		outcome := "allowed"
		if !d.Allowed {
			outcome = "denied"
		}
		canonlog.InfoAddMany(ctx, map[string]any{
			"admission":        outcome,
			"admission_policy": g.limiter.Name(),
			"admission_window": d.Window.ID,
			"admission_count":  d.Count,
		})
	}
	return d, nil
}

// Handler runs the admission check before next. Depending on the header mode
// it sets RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset (Unix
// seconds), plus Retry-After on denial. A denial answers 429; a failed store
// answers 503 unless the gate fails open. Under admit.Handler the response is
// recorded with SetError and SetHeader, otherwise it is written directly.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		useState := HasState(ctx)

		d, err := g.check(ctx)
		if err != nil {
			if g.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			if useState {
				SetError(r, ErrServiceUnavailable.With("Rate limiter unavailable"))
			} else {
				http.Error(w, "Rate limiter unavailable", http.StatusServiceUnavailable)
			}
			return
		}

		exceeded := !d.Allowed
		if g.headerMode == HeadersAlways || (g.headerMode == HeadersOnLimitExceeded && exceeded) {
			resetAt := g.limiter.ResetAt(d)
			set := w.Header().Set
			if useState {
				set = func(key, value string) { SetHeader(r, key, value) }
			}
			set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			set("RateLimit-Remaining", strconv.FormatInt(d.Remaining(), 10))
			set("RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if exceeded {
				set("Retry-After", strconv.Itoa(retryAfter(resetAt, g.limiter.Clock().Now())))
			}
		}

		if exceeded {
			msg := "Rate limit exceeded: " + d.Reason
			if useState {
				SetError(r, ErrRateLimited.With(msg))
			} else {
				http.Error(w, msg, http.StatusTooManyRequests)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter returns the whole seconds until resetAt, rounded up so a client
// waiting that long lands in the next window.
func retryAfter(resetAt, now time.Time) int {
	return max(0, int(math.Ceil(resetAt.Sub(now).Seconds())))
}
