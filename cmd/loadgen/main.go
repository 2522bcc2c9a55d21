// Command loadgen fires concurrent order attempts and reports how many were
// admitted, denied or failed.
//
// In http mode it posts to a running flashsale server. In local mode it builds
// the gate from the same environment as the server and calls it in-process,
// which is handy for comparing the atomic, mutex and redis strategies:
//
//	LIMIT_STRATEGY=mutex loadgen -mode local -requests 1000 -workers 64
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nhalm/admit"
	"github.com/nhalm/admit/internal/config"
)

type outcome int

const (
	outcomeAllowed outcome = iota
	outcomeDenied
	outcomeUnavailable
	outcomeRejected
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeAllowed:
		return "allowed"
	case outcomeDenied:
		return "denied"
	case outcomeUnavailable:
		return "unavailable"
	case outcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// attemptFunc performs one order attempt.
type attemptFunc func(ctx context.Context) outcome

type options struct {
	requests int
	workers  int
	rps      float64
}

// report counts outcomes. Latencies are kept for percentiles.
type report struct {
	mu        sync.Mutex
	counts    map[outcome]int
	latencies []time.Duration
	elapsed   time.Duration
}

func (r *report) record(o outcome, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[o]++
	r.latencies = append(r.latencies, d)
}

func (r *report) percentile(p float64) time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), r.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (r *report) write(w io.Writer) {
	fmt.Fprintf(w, "requests: %d in %s\n", len(r.latencies), r.elapsed.Round(time.Millisecond))
	for o := outcomeAllowed; o <= outcomeFailed; o++ {
		fmt.Fprintf(w, "  %-12s %d\n", o.String()+":", r.counts[o])
	}
	fmt.Fprintf(w, "latency p50=%s p99=%s\n", r.percentile(0.50), r.percentile(0.99))
}

type flags struct {
	mode     string
	url      string
	stockID  int
	requests int
	workers  int
	rps      float64
}

func main() {
	var f flags
	flag.StringVar(&f.mode, "mode", "http", "http posts to -url, local calls the gate in-process")
	flag.StringVar(&f.url, "url", "http://localhost:8080", "flashsale base URL (http mode)")
	flag.IntVar(&f.stockID, "stock", 1, "stock id to order (http mode)")
	flag.IntVar(&f.requests, "requests", 100, "total attempts")
	flag.IntVar(&f.workers, "workers", 16, "concurrent callers")
	flag.Float64Var(&f.rps, "rps", 0, "attempts per second across all workers, 0 for unpaced")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := generate(ctx, f, os.Stdout, log); err != nil {
		log.Error("load run failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// generate builds the attempt for f.mode, runs it and writes the report to out.
func generate(ctx context.Context, f flags, out io.Writer, log *slog.Logger) error {
	var attempt attemptFunc
	switch f.mode {
	case "http":
		attempt = httpAttempt(http.DefaultClient, f.url, f.stockID)
	case "local":
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		gates, err := config.Build(cfg)
		if err != nil {
			return fmt.Errorf("build gate: %w", err)
		}
		defer gates.Close()
		attempt = gateAttempt(gates.Orders)
		log.Info("local mode", "strategy", cfg.Limit.Strategy, "policy", gates.Orders.Limiter().Policy().String())
	default:
		return fmt.Errorf("unknown mode %q", f.mode)
	}

	rep, err := run(ctx, options{requests: f.requests, workers: f.workers, rps: f.rps}, attempt)
	if err != nil {
		return err
	}
	rep.write(out)
	return nil
}

// run spreads opts.requests attempts over opts.workers goroutines, paced by a
// shared token bucket when opts.rps is positive.
func run(ctx context.Context, opts options, attempt attemptFunc) (*report, error) {
	if opts.requests <= 0 || opts.workers <= 0 {
		return nil, errors.New("requests and workers must be positive")
	}

	var pacer *rate.Limiter
	if opts.rps > 0 {
		pacer = rate.NewLimiter(rate.Limit(opts.rps), 1)
	}

	rep := &report{counts: make(map[outcome]int)}
	var issued atomic.Int64
	start := time.Now()

	eg, ctx := errgroup.WithContext(ctx)
	for range min(opts.workers, opts.requests) {
		eg.Go(func() error {
			for issued.Add(1) <= int64(opts.requests) {
				if pacer != nil {
					if err := pacer.Wait(ctx); err != nil {
						return err
					}
				}
				t0 := time.Now()
				o := attempt(ctx)
				rep.record(o, time.Since(t0))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	rep.elapsed = time.Since(start)
	return rep, nil
}

func gateAttempt(g *admit.Gate) attemptFunc {
	return func(ctx context.Context) outcome {
		err := g.CheckAndRecord(ctx)
		switch {
		case err == nil:
			return outcomeAllowed
		case errors.Is(err, admit.ErrRateLimitExceeded):
			return outcomeDenied
		case errors.Is(err, admit.ErrLimiterUnavailable):
			return outcomeUnavailable
		default:
			return outcomeFailed
		}
	}
}

func httpAttempt(client *http.Client, baseURL string, stockID int) attemptFunc {
	body, _ := json.Marshal(map[string]int{"stock_id": stockID})
	return func(ctx context.Context) outcome {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/orders", bytes.NewReader(body))
		if err != nil {
			return outcomeFailed
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return outcomeFailed
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusCreated:
			return outcomeAllowed
		case resp.StatusCode == http.StatusTooManyRequests:
			return outcomeDenied
		case resp.StatusCode == http.StatusServiceUnavailable:
			return outcomeUnavailable
		case resp.StatusCode < http.StatusInternalServerError:
			// Admitted but refused by the order service, e.g. sold out.
			return outcomeRejected
		default:
			return outcomeFailed
		}
	}
}
