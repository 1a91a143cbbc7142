// Command server runs the document verification queue: the HTTP ingestion
// API and the background orchestrator share one process and one database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"veriq/internal/event/handler"
	"veriq/internal/event/metrics"
	"veriq/internal/event/store"
	"veriq/internal/notifier"
	"veriq/internal/orchestrator"
	"veriq/internal/platform/config"
	"veriq/internal/platform/httpserver"
	"veriq/internal/platform/logger"
	"veriq/internal/platform/postgres"
	"veriq/internal/verifier"
)

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Verifier.URL == "" {
		log.Error("VERIQ_VERIFIER_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	events := store.NewPostgres(db)
	if err := events.EnsureSchema(ctx); err != nil {
		log.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}
	runState := store.NewPostgresRunState(db)

	m := metrics.New()

	verify := verifier.NewHTTP(cfg.Verifier.URL,
		verifier.WithHTTPTimeout(cfg.Verifier.Timeout),
	)
	notify := notifier.NewHTTP(cfg.Backend.URL, cfg.Backend.Email, cfg.Backend.Password,
		notifier.WithHTTPTimeout(cfg.Backend.Timeout),
		notifier.WithRetryPolicy(notifier.RetryPolicy{
			MaxAttempts: cfg.Backend.NotifyMaxAttempts,
			BaseDelay:   time.Second,
			MaxDelay:    time.Minute,
		}),
		notifier.WithLogger(log),
	)

	orch, err := orchestrator.New(
		orchestrator.Config{
			ProcessingInterval:   cfg.Scheduler.ProcessingInterval,
			CheckInterval:        cfg.Scheduler.CheckInterval,
			BatchSize:            cfg.Scheduler.BatchSize,
			Retention:            time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour,
			StaleProcessingAfter: cfg.Scheduler.StaleProcessingAfter,
		},
		events, runState, verify, notify,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(m),
	)
	if err != nil {
		log.Error("orchestrator setup failed", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	handler.New(events, log, m).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := orch.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("service stopped")
}
