// Command flashsale serves a flash-sale order endpoint behind an admission gate.
//
// Configuration comes from the environment and an optional .env file; see
// internal/config for the variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/nhalm/admit"
	"github.com/nhalm/admit/internal/config"
	"github.com/nhalm/admit/internal/order"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	stocks, err := cfg.Stocks()
	if err != nil {
		return err
	}

	gates, err := config.Build(cfg)
	if err != nil {
		return fmt.Errorf("failed to build admission gates: %w", err)
	}
	defer func() {
		if err := gates.Close(); err != nil {
			log.Error("failed to close limiter store", "error", err)
		}
	}()

	svc := order.NewService(gates.Orders, order.NewLedger(stocks...))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(svc, gates.Browse, cfg.MaxBodyBytes),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("server starting",
			"addr", cfg.Addr,
			"strategy", cfg.Limit.Strategy,
			"window_kind", cfg.Limit.WindowKind,
			"policy", gates.Orders.Limiter().Policy().String(),
			"rollback", cfg.Limit.Rollback,
			"fail_open", cfg.Limit.FailOpen,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func newRouter(svc *order.Service, browse *admit.Gate, maxBodyBytes int64) http.Handler {
	h := order.NewHandler(svc)

	r := chi.NewRouter()
	r.Use(admit.Handler(admit.WithCanonlog(), admit.WithSLOs()))

	r.Get("/healthz", func(_ http.ResponseWriter, r *http.Request) {
		admit.SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.With(admit.MaxBodySize(maxBodyBytes), admit.SLO(admit.SLOCritical)).Post("/orders", h.CreateOrder)
	r.With(browse.Handler, admit.SLO(admit.SLOHighFast)).Get("/stocks/{id}", h.GetStock)

	return r
}
