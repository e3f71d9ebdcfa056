package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"automation-engine/pkg/config"
	"automation-engine/pkg/db"
	"automation-engine/pkg/events"
	"automation-engine/pkg/logging"
	"automation-engine/pkg/tracing"
	"automation-engine/services/workflow"
)

const (
	scheduleResync  = time.Minute
	shutdownTimeout = 5 * time.Second
)

// serve runs the HTTP API, the workflow scheduler and the orphan sweep until
// the process receives SIGINT or SIGTERM.
func serve(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing {
		shutdown, err := tracing.Init(ctx, "automation-engine")
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("Failed to shut down tracer provider", "error", err)
			}
		}()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := events.New(cfg.EventBus, cfg.KafkaBrokers, logging.WithModule("events"))
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	var locker workflow.Locker
	if cfg.RedisURL != "" {
		client, err := workflow.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = workflow.NewRedisLocker(client)
	}

	registry := workflow.NewDefaultRegistry(workflow.NewHTTPClient())
	engine := workflow.NewEngine(registry,
		workflow.WithRunTimeout(cfg.RunTimeout),
		workflow.WithNodeTimeout(cfg.NodeTimeout),
	)
	coordinator := workflow.NewCoordinator(store, engine, workflow.WithPublisher(publisher))
	janitor := workflow.NewJanitor(store, cfg.OrphanThreshold, cfg.MarkOrphans)

	scheduler := workflow.NewScheduler(store, coordinator, locker)
	if err := scheduler.AddJanitor(cfg.SweepSchedule, janitor); err != nil {
		return err
	}

	var limiter *rate.Limiter
	if cfg.ExecuteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ExecuteRate), max(1, int(cfg.ExecuteRate)))
	}

	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	workflow.NewService(store, coordinator, registry, janitor, limiter).LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(corsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx, scheduleResync)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Could not stop server gracefully", "error", err)
			return srv.Close()
		}
		return nil
	})

	return g.Wait()
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config) (workflow.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set, keeping workflows in memory")
		store := workflow.NewMemoryStore()
		if cfg.Seed {
			if err := store.Seed(ctx); err != nil {
				return nil, nil, fmt.Errorf("seed workflows: %w", err)
			}
		}
		return store, func() {}, nil
	}

	pool, err := db.Connect(ctx, db.Config{URI: cfg.DatabaseURL})
	if err != nil {
		return nil, nil, err
	}
	repo, err := workflow.InitDB(ctx, pool, cfg.Seed)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	return repo, pool.Close, nil
}
