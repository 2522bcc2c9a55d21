// Package config loads the flash-sale server configuration from the environment
// and an optional .env file, and builds the admission gates it describes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/nhalm/admit/internal/order"
	"github.com/nhalm/admit/window"
)

const (
	StrategyAtomic = "atomic"
	StrategyMutex  = "mutex"
	StrategyRedis  = "redis"

	WindowFixed   = string(window.KindFixed)
	WindowRolling = string(window.KindRolling)
)

// ErrInvalidConfig is returned by Load and Parse when a value fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080" validate:"required"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"4096" validate:"gt=0"`
	// StockSeed lists the initial stocks as id:name:count, comma separated.
	StockSeed string `env:"STOCK_SEED" envDefault:"1:flash-phone:100"`

	Limit  LimitConfig
	Browse BrowseConfig
	Redis  RedisConfig
}

// LimitConfig is the policy guarding order creation.
type LimitConfig struct {
	Strategy   string        `env:"LIMIT_STRATEGY" envDefault:"atomic" validate:"oneof=atomic mutex redis"`
	WindowKind string        `env:"LIMIT_WINDOW_KIND" envDefault:"rolling" validate:"oneof=fixed rolling"`
	Window     time.Duration `env:"LIMIT_WINDOW" envDefault:"10s" validate:"gt=0"`
	Max        int64         `env:"LIMIT_MAX" envDefault:"5" validate:"gt=0"`
	Rollback   bool          `env:"LIMIT_ROLLBACK" envDefault:"true"`
	FailOpen   bool          `env:"LIMIT_FAIL_OPEN" envDefault:"false"`
}

// BrowseConfig is the fixed-window policy guarding stock reads. It shares the
// order policy's store.
type BrowseConfig struct {
	Window time.Duration `env:"BROWSE_WINDOW" envDefault:"1s" validate:"gt=0"`
	Max    int64         `env:"BROWSE_MAX" envDefault:"100" validate:"gt=0"`
}

type RedisConfig struct {
	URL      string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`
	Prefix   string        `env:"REDIS_PREFIX" envDefault:"admit:"`
	Timeout  time.Duration `env:"REDIS_TIMEOUT" envDefault:"100ms" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads .env from the working directory if present, then the process
// environment. Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil.
func Parse(environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and combinations that cannot work together.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	// A rolling window's slot lives in one process, so processes sharing a
	// Redis counter would each anchor their own windows.
	if c.Limit.Strategy == StrategyRedis && c.Limit.WindowKind == WindowRolling {
		return fmt.Errorf("%w: LIMIT_STRATEGY=redis requires LIMIT_WINDOW_KIND=fixed", ErrInvalidConfig)
	}
	if c.Limit.Strategy == StrategyRedis && c.Redis.URL == "" {
		return fmt.Errorf("%w: REDIS_URL is required for LIMIT_STRATEGY=redis", ErrInvalidConfig)
	}
	if _, err := c.Stocks(); err != nil {
		return err
	}
	return nil
}

// Stocks parses StockSeed.
func (c Config) Stocks() ([]order.Stock, error) {
	var stocks []order.Stock
	seen := make(map[int]bool)
	for item := range strings.SplitSeq(c.StockSeed, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: STOCK_SEED entry %q must be id:name:count", ErrInvalidConfig, item)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: STOCK_SEED entry %q: id must be a positive integer", ErrInvalidConfig, item)
		}
		count, err := strconv.Atoi(parts[2])
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: STOCK_SEED entry %q: count must be a non-negative integer", ErrInvalidConfig, item)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: STOCK_SEED has duplicate id %d", ErrInvalidConfig, id)
		}
		seen[id] = true
		stocks = append(stocks, order.Stock{ID: id, Name: parts[1], Count: count})
	}
	return stocks, nil
}
