package admit

import (
	"context"
	"net/http"
	"time"
)

// SLOTier names a latency class for a route.
type SLOTier string

// Predefined tiers. Order placement sits in SLOCritical; browsing in SLOHighFast.
const (
	SLOCritical SLOTier = "critical"
	SLOHighFast SLOTier = "high_fast"
	SLOHighSlow SLOTier = "high_slow"
	SLOLow      SLOTier = "low"

	sloCustom SLOTier = "custom"
)

// SLOTarget returns the latency target of a predefined tier, or zero for an
// unknown tier.
func SLOTarget(tier SLOTier) time.Duration {
	switch tier {
	case SLOCritical:
		return 50 * time.Millisecond
	case SLOHighFast:
		return 100 * time.Millisecond
	case SLOHighSlow:
		return time.Second
	case SLOLow:
		return 5 * time.Second
	}
	return 0
}

type sloKey struct{}

type sloTag struct {
	tier   SLOTier
	target time.Duration
}

// SLO tags a route with a predefined tier. With Handler(WithCanonlog(),
// WithSLOs()) each request logs whether it met the tier's target.
func SLO(tier SLOTier) func(http.Handler) http.Handler {
	return tagSLO(sloTag{tier: tier, target: SLOTarget(tier)})
}

// SLOWithTarget tags a route with its own target. It is logged as tier "custom".
func SLOWithTarget(target time.Duration) func(http.Handler) http.Handler {
	return tagSLO(sloTag{tier: sloCustom, target: target})
}

func tagSLO(tag sloTag) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sloKey{}, tag)))
		})
	}
}

// GetSLO returns the tier and target a route was tagged with.
func GetSLO(ctx context.Context) (SLOTier, time.Duration, bool) {
	tag, ok := ctx.Value(sloKey{}).(sloTag)
	return tag.tier, tag.target, ok
}
