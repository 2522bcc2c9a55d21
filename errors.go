package admit

import (
	"errors"

	"github.com/nhalm/admit/limiter"
)

var (
	// ErrRateLimitExceeded matches every denial returned by a Gate.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrLimiterUnavailable matches failures of the limiter's backing store,
	// including timeouts. It is the same value as limiter.ErrUnavailable.
	ErrLimiterUnavailable = limiter.ErrUnavailable
)

// RateLimitExceededError is returned by Gate.CheckAndRecord when the request is
// over the limit. It is an expected outcome under load, not a fault.
type RateLimitExceededError struct {
	Decision limiter.Decision
}

// Error returns the human-readable reason, including window, count and limit.
func (e *RateLimitExceededError) Error() string {
	return ErrRateLimitExceeded.Error() + ": " + e.Decision.Reason
}

// Is reports whether target is ErrRateLimitExceeded.
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Reason returns the denial reason.
func (e *RateLimitExceededError) Reason() string {
	return e.Decision.Reason
}
