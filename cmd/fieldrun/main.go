package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldrun/fieldrun/internal/api"
	"github.com/fieldrun/fieldrun/internal/batch"
	"github.com/fieldrun/fieldrun/internal/config"
	"github.com/fieldrun/fieldrun/internal/executor"
	"github.com/fieldrun/fieldrun/internal/maintenance"
	"github.com/fieldrun/fieldrun/internal/progress"
	"github.com/fieldrun/fieldrun/internal/property"
	"github.com/fieldrun/fieldrun/internal/telemetry"
	"github.com/fieldrun/fieldrun/internal/webhook"
	"github.com/fieldrun/fieldrun/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Claims orphaned by a crash go straight back to the queue at boot;
	// the maintenance sweep covers the steady state.
	if ids, err := store.ReclaimStale(context.Background(), time.Now().Add(-cfg.ClaimTTL)); err != nil {
		slog.Error("recovery", "error", err)
		os.Exit(1)
	} else if len(ids) > 0 {
		slog.Warn("recovered orphaned claims", "count", len(ids))
	}

	lock := batch.NewLock()
	broker := progress.NewBroker()

	metrics, err := telemetry.NewMetrics(lock)
	if err != nil {
		slog.Error("metrics", "error", err)
		os.Exit(1)
	}

	exec := executor.NewClient(cfg.ExecutorURL, cfg.ExecutorTimeout)
	preflight(exec)

	retry := executor.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Transient:   executor.IsNotReady,
	}
	proc := worker.NewProcessor(store, exec, retry, cfg.WorkerID, metrics, logger)

	scheduler := worker.NewScheduler(proc.PollTick, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.PollEnabled {
		if err := scheduler.Start(ctx, cfg.PollInterval); err != nil {
			slog.Error("scheduler", "error", err)
			os.Exit(1)
		}
		defer scheduler.Stop()
	}

	sweeper := maintenance.NewRunner(store, cfg.ClaimTTL, cfg.Retention, logger)
	if err := sweeper.Start(cfg.MaintenanceSchedule); err != nil {
		slog.Error("maintenance", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	var notifier *webhook.Notifier
	if cfg.BatchCallbackURL != "" {
		notifier, err = webhook.NewNotifier(cfg.BatchCallbackURL, logger)
		if err != nil {
			slog.Error("webhook", "error", err)
			os.Exit(1)
		}
	}

	op := func(ctx context.Context, item batch.Item) (json.RawMessage, error) {
		return proc.ExecuteItem(ctx, property.KindSubmit, item.ID, item.Address, item.Payload)
	}
	orch := batch.NewOrchestrator(lock, broker, op, metrics, logger)
	batches := batch.NewService(lock, orch, notifier, logger)

	mux := http.NewServeMux()
	h := api.NewHandler(store, batches, broker, cfg)
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging(logger),
		api.RateLimit(cfg.RateLimitRPS),
		api.Auth(cfg.APIKeys),
	)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: batch runs respond synchronously and progress
		// streams stay open for the whole batch.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("fieldrun listening", "addr", cfg.ListenAddr, "store", cfg.Store, "worker", cfg.WorkerID)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (property.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return property.NewSQLiteStore(cfg.DBPath)
	case "memory":
		return property.NewMemoryStore(), nil
	case "redis":
		return property.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
