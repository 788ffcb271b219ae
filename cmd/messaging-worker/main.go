package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/assistext/assistext/internal/app/bootstrap"
	"github.com/assistext/assistext/internal/config"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/internal/outbox"
	messagingworker "github.com/assistext/assistext/internal/worker/messaging"
	"github.com/assistext/assistext/pkg/logging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" || cfg.SignalWireProjectID == "" || cfg.SignalWireAuthToken == "" {
		logger.Error("messaging worker requires DATABASE_URL and SignalWire credentials")
		os.Exit(1)
	}
	if cfg.UseMemoryQueue {
		logger.Error("USE_MEMORY_QUEUE is set; the API process runs delivery workers inline")
		os.Exit(1)
	}

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	carrierClient, err := bootstrap.BuildCarrierClient(cfg, logger)
	if err != nil {
		logger.Error("failed to create carrier client", "error", err)
		os.Exit(1)
	}

	store := messaging.NewStore(pool)
	dispatcher := messaging.NewDispatcher(store, carrierClient, logger, nil)

	var wg sync.WaitGroup
	if messaging.SendMode(cfg.SendMode) == messaging.SendModeQueue {
		queue, _, err := bootstrap.BuildQueue(ctx, cfg)
		if err != nil {
			logger.Error("failed to configure outbox queue", "error", err)
			os.Exit(1)
		}
		worker := outbox.NewWorker(queue, dispatcher, logger, outbox.WithWorkerCount(cfg.WorkerCount))
		worker.Start(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Wait()
		}()
	}

	sweeper := messagingworker.NewPendingSweeper(store, dispatcher, logger).
		WithInterval(cfg.SweepInterval).
		WithStaleAfter(cfg.StalePendingAfter)
	reconciler := messagingworker.NewStatusReconciler(store, carrierClient, logger).
		WithInterval(cfg.StatusPollInterval).
		WithReconcileAfter(cfg.StatusReconcileAfter).
		WithMaxAge(cfg.StatusReconcileMaxAge)

	wg.Add(2)
	go func() { defer wg.Done(); sweeper.Run(ctx) }()
	go func() { defer wg.Done(); reconciler.Run(ctx) }()

	logger.Info("messaging worker started", "send_mode", cfg.SendMode, "workers", cfg.WorkerCount)
	<-ctx.Done()
	logger.Info("messaging worker shutting down")
	wg.Wait()
}
