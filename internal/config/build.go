package config

import (
	"errors"
	"fmt"

	"github.com/nhalm/admit"
	"github.com/nhalm/admit/clock"
	"github.com/nhalm/admit/limiter"
	"github.com/nhalm/admit/store"
	"github.com/nhalm/admit/window"
)

// Gates are the admission gates of the flash-sale server and the store behind them.
type Gates struct {
	// Orders guards order creation and is called from the order service.
	Orders *admit.Gate
	// Browse guards stock reads as HTTP middleware.
	Browse *admit.Gate

	closeStore func() error
}

// Close releases the shared store.
func (g *Gates) Close() error {
	if g.closeStore == nil {
		return nil
	}
	return g.closeStore()
}

// BuildOption adjusts how Build wires its stores and limiters.
type BuildOption func(*buildOptions)

type buildOptions struct {
	clock clock.Clock
}

// WithClock sets the clock used by limiters and local stores.
func WithClock(c clock.Clock) BuildOption {
	return func(o *buildOptions) {
		o.clock = c
	}
}

// Build creates the order and browse gates described by c.
func Build(c Config, opts ...BuildOption) (*Gates, error) {
	o := buildOptions{clock: clock.System{}}
	for _, opt := range opts {
		opt(&o)
	}

	orderBackend, browseBackend, closeStore, err := backends(c, o)
	if err != nil {
		return nil, err
	}

	limiterOpts := func(name string) []limiter.Option {
		opts := []limiter.Option{limiter.WithClock(o.clock), limiter.WithName(name)}
		if c.Limit.Strategy == StrategyRedis {
			opts = append(opts, limiter.WithTimeout(c.Redis.Timeout))
		}
		return opts
	}

	orderPolicy := limiter.Policy{Window: c.Limit.Window, Max: c.Limit.Max}
	orders, err := limiter.New(orderPolicy, window.Kind(c.Limit.WindowKind), orderBackend, limiterOpts("orders")...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("order limiter: %w", err), closeStore())
	}

	browsePolicy := limiter.Policy{Window: c.Browse.Window, Max: c.Browse.Max}
	browse, err := limiter.New(browsePolicy, window.KindFixed, browseBackend, limiterOpts("browse")...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("browse limiter: %w", err), closeStore())
	}

	var gateOpts []admit.GateOption
	if c.Limit.FailOpen {
		gateOpts = append(gateOpts, admit.WithFailOpen())
	}

	return &Gates{
		Orders:     admit.NewGate(orders, gateOpts...),
		Browse:     admit.NewGate(browse, gateOpts...),
		closeStore: closeStore,
	}, nil
}

// backends returns the order and browse backends over one shared store.
func backends(c Config, o buildOptions) (limiter.Backend, limiter.Backend, func() error, error) {
	var localOpts []limiter.LocalOption
	if !c.Limit.Rollback {
		localOpts = append(localOpts, limiter.WithoutRollback())
	}

	switch c.Limit.Strategy {
	case StrategyAtomic:
		st := store.NewAtomic(store.WithClock(o.clock))
		return limiter.Local(st, localOpts...), limiter.Local(st), st.Close, nil
	case StrategyMutex:
		st := store.NewMutex(store.WithClock(o.clock))
		return limiter.Local(st, localOpts...), limiter.Local(st), st.Close, nil
	case StrategyRedis:
		st, err := store.NewRedis(store.RedisConfig{
			URL:          c.Redis.URL,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			Prefix:       c.Redis.Prefix,
			ReadTimeout:  c.Redis.Timeout,
			WriteTimeout: c.Redis.Timeout,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return limiter.Distributed(st), limiter.Distributed(st), st.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown LIMIT_STRATEGY %q", ErrInvalidConfig, c.Limit.Strategy)
	}
}
