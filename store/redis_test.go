package store

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisTest(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisFromClient(client, "test:admit:")
	t.Cleanup(func() { st.Close() })

	return st, mr
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		config  RedisConfig
		wantErr bool
	}{
		{
			name:   "valid connection",
			config: RedisConfig{URL: mr.Addr(), Prefix: "test:"},
		},
		{
			name:   "default prefix",
			config: RedisConfig{URL: mr.Addr()},
		},
		{
			name:   "redis url",
			config: RedisConfig{URL: "redis://" + mr.Addr() + "/0"},
		},
		{
			name:    "malformed url",
			config:  RedisConfig{URL: "redis://" + mr.Addr() + "/notadb"},
			wantErr: true,
		},
		{
			name:    "connection failure",
			config:  RedisConfig{URL: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := NewRedis(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRedis() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer st.Close()

			wantPrefix := tt.config.Prefix
			if wantPrefix == "" {
				wantPrefix = defaultRedisPrefix
			}
			if st.prefix != wantPrefix {
				t.Errorf("prefix = %q, want %q", st.prefix, wantPrefix)
			}
		})
	}
}

func TestRedis_CheckAndIncrement(t *testing.T) {
	st, mr := setupRedisTest(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := st.CheckAndIncrement(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("CheckAndIncrement() error = %v", err)
		}
		if got != want {
			t.Errorf("CheckAndIncrement() = %d, want %d", got, want)
		}
	}

	got, err := st.CheckAndIncrement(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("CheckAndIncrement() error = %v", err)
	}
	if got != 0 {
		t.Errorf("CheckAndIncrement() over limit = %d, want 0", got)
	}

	// A denial leaves the counter untouched.
	if v, _ := mr.Get("test:admit:k"); v != "3" {
		t.Errorf("stored count = %q, want 3", v)
	}
}

func TestRedis_CheckAndIncrement_SetsTTL(t *testing.T) {
	st, mr := setupRedisTest(t)
	ctx := context.Background()

	if _, err := st.CheckAndIncrement(ctx, "ttl", 5, 1500*time.Millisecond); err != nil {
		t.Fatalf("CheckAndIncrement() error = %v", err)
	}
	if ttl := mr.TTL("test:admit:ttl"); ttl <= 0 || ttl > 1500*time.Millisecond {
		t.Errorf("TTL = %v, want (0, 1.5s]", ttl)
	}

	mr.FastForward(time.Second)
	if _, err := st.CheckAndIncrement(ctx, "ttl", 5, 1500*time.Millisecond); err != nil {
		t.Fatalf("CheckAndIncrement() error = %v", err)
	}
	if ttl := mr.TTL("test:admit:ttl"); ttl != 1500*time.Millisecond {
		t.Errorf("TTL after refresh = %v, want 1.5s", ttl)
	}
}

func TestRedis_CheckAndIncrement_FreshWindowAfterTTL(t *testing.T) {
	st, mr := setupRedisTest(t)
	ctx := context.Background()

	for range 2 {
		st.CheckAndIncrement(ctx, "expire", 2, time.Second)
	}
	if got, _ := st.CheckAndIncrement(ctx, "expire", 2, time.Second); got != 0 {
		t.Fatalf("CheckAndIncrement() = %d, want 0 (denied)", got)
	}

	mr.FastForward(1100 * time.Millisecond)

	got, err := st.CheckAndIncrement(ctx, "expire", 2, time.Second)
	if err != nil {
		t.Fatalf("CheckAndIncrement() error = %v", err)
	}
	if got != 1 {
		t.Errorf("CheckAndIncrement() after TTL = %d, want 1", got)
	}
}

func TestRedis_CheckAndIncrement_Concurrent(t *testing.T) {
	st, _ := setupRedisTest(t)
	ctx := context.Background()

	results := make([]int64, 3)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			n, err := st.CheckAndIncrement(ctx, "race", 2, time.Minute)
			if err != nil {
				t.Errorf("CheckAndIncrement() error = %v", err)
			}
			results[i] = n
		}(i)
	}
	close(start)
	wg.Wait()

	slices.Sort(results)
	if !slices.Equal(results, []int64{0, 1, 2}) {
		t.Errorf("results = %v, want [0 1 2]", results)
	}
}

func TestRedis_CheckAndIncrement_ConcurrentAccuracy(t *testing.T) {
	st, _ := setupRedisTest(t)
	ctx := context.Background()

	const limit = 25
	const callers = 100

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	wg.Add(callers)
	for range callers {
		go func() {
			defer wg.Done()
			n, err := st.CheckAndIncrement(ctx, "accuracy", limit, time.Minute)
			if err != nil {
				t.Errorf("CheckAndIncrement() error = %v", err)
				return
			}
			if n > 0 {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want %d", allowed, limit)
	}
}

func TestRedis_GetAndReset(t *testing.T) {
	st, _ := setupRedisTest(t)
	ctx := context.Background()

	got, err := st.Get(ctx, "missing")
	if err != nil {
		t.Errorf("Get() on non-existent key should not error, got %v", err)
	}
	if got != 0 {
		t.Errorf("Get() = %d, want 0", got)
	}

	st.CheckAndIncrement(ctx, "k", 10, time.Minute)
	st.CheckAndIncrement(ctx, "k", 10, time.Minute)
	if got, _ := st.Get(ctx, "k"); got != 2 {
		t.Errorf("Get() = %d, want 2", got)
	}

	if err := st.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got, _ := st.Get(ctx, "k"); got != 0 {
		t.Errorf("Get() after Reset() = %d, want 0", got)
	}
}

func TestRedis_PrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	st1 := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p1:")
	st2 := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p2:")
	defer st1.Close()
	defer st2.Close()

	ctx := context.Background()
	st1.CheckAndIncrement(ctx, "shared", 1, time.Minute)

	got, err := st2.CheckAndIncrement(ctx, "shared", 1, time.Minute)
	if err != nil {
		t.Fatalf("CheckAndIncrement() error = %v", err)
	}
	if got != 1 {
		t.Errorf("second prefix CheckAndIncrement() = %d, want 1", got)
	}
}

func TestRedis_ServerErrors(t *testing.T) {
	st, mr := setupRedisTest(t)
	ctx := context.Background()

	mr.SetError("ERR injected failure")

	if _, err := st.CheckAndIncrement(ctx, "k", 1, time.Minute); err == nil {
		t.Error("CheckAndIncrement() should error when the server fails")
	}
	if _, err := st.Get(ctx, "k"); err == nil {
		t.Error("Get() should error when the server fails")
	}
	if err := st.Reset(ctx, "k"); err == nil {
		t.Error("Reset() should error when the server fails")
	}
}

func TestRedis_ContextCancellation(t *testing.T) {
	st, _ := setupRedisTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.CheckAndIncrement(ctx, "k", 1, time.Minute); err == nil {
		t.Error("CheckAndIncrement() with canceled context should error")
	}
}

func TestRedis_ServerDown(t *testing.T) {
	st, mr := setupRedisTest(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := st.CheckAndIncrement(ctx, "k", 1, time.Minute); err == nil {
		t.Error("CheckAndIncrement() should error when the server is down")
	}
}
