// Package admit guards an operation with a rate limit.
//
// A Gate wraps one limiter.Limiter and is the only thing business code needs:
//
//	st := store.NewAtomic()
//	defer st.Close()
//
//	policy := limiter.Policy{Window: 10 * time.Second, Max: 5}
//	l, err := limiter.New(policy, window.KindRolling, limiter.Local(st))
//	if err != nil {
//		log.Fatal(err)
//	}
//	gate := admit.NewGate(l)
//
//	func (s *Service) CreateOrder(ctx context.Context, stockID int) (*Order, error) {
//		if err := gate.CheckAndRecord(ctx); err != nil {
//			return nil, err // ErrRateLimitExceeded or ErrLimiterUnavailable
//		}
//		...
//	}
//
// The gate only limits how many calls get through. It does not make the guarded
// operation itself safe under concurrency; callers still need their own
// synchronization (for example optimistic row versions) for shared state.
//
// The package also carries the small HTTP kit the demo service is built with:
// context-based response state (Handler, SetResponse, SetError), structured
// APIError responses, JSON binding with validation, body size limits and SLO
// tagging, all logged through canonlog.
package admit
