package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndIncrScript performs the limit check, the increment and the TTL refresh
// as one step. Redis runs scripts one at a time, so no other client can observe
// or change the key between the GET and the INCR.
//
// KEYS[1] = counter key, ARGV[1] = limit, ARGV[2] = ttl in milliseconds.
// Returns 0 when the increment would exceed the limit, otherwise the new count.
var checkAndIncrScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count + 1 > tonumber(ARGV[1]) then
    return 0
end
count = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return count
`)

// Redis is an Evaluator backed by Redis. Every process that shares the server,
// database and prefix shares the same counters, which makes it the only strategy
// that holds the limit across horizontally scaled instances.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisConfig describes the connection used by NewRedis. Zero values leave
// the go-redis defaults in place.
type RedisConfig struct {
	// URL is a host:port address or a redis:// (rediss://) URL. Password and DB,
	// when set, take precedence over the URL.
	URL      string
	Password string
	DB       int

	// Prefix namespaces every counter key. Defaults to "admit:".
	Prefix string

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	defaultRedisPrefix = "admit:"
	connectTimeout     = 5 * time.Second
)

func (c RedisConfig) options() (*redis.Options, error) {
	opts := &redis.Options{Addr: c.URL}
	if strings.HasPrefix(c.URL, "redis://") || strings.HasPrefix(c.URL, "rediss://") {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}

	if c.Password != "" {
		opts.Password = c.Password
	}
	if c.DB != 0 {
		opts.DB = c.DB
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	for _, d := range []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&opts.DialTimeout, c.DialTimeout},
		{&opts.ReadTimeout, c.ReadTimeout},
		{&opts.WriteTimeout, c.WriteTimeout},
	} {
		if d.src > 0 {
			*d.dst = d.src
		}
	}
	return opts, nil
}

// NewRedis dials Redis and pings it, giving up after five seconds.
//
//	st, err := store.NewRedis(store.RedisConfig{
//		URL:    "redis://localhost:6379/0",
//		Prefix: "flashsale:",
//	})
func NewRedis(config RedisConfig) (*Redis, error) {
	opts, err := config.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisFromClient(client, config.Prefix), nil
}

// NewRedisFromClient wraps an existing client. The store takes ownership and
// closes the client on Close.
func NewRedisFromClient(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// CheckAndIncrement runs the check-and-increment script for key.
// Network failures, script errors and context deadlines are returned as errors;
// they are never reported as a count or as a denial.
func (r *Redis) CheckAndIncrement(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, error) {
	ttlMillis := max(1, ttl.Milliseconds())

	count, err := checkAndIncrScript.Run(ctx, r.client, []string{r.prefix + key}, limit, ttlMillis).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis check-and-increment failed: %w", err)
	}
	return count, nil
}

// Get reads the stored count. A missing or expired key reads as 0.
func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, r.prefix+key).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("redis read of %s: %w", key, err)
	}
	return n, nil
}

// Reset deletes the counter for key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete of %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
