package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/assistext/assistext/internal/api/router"
	"github.com/assistext/assistext/internal/app/bootstrap"
	"github.com/assistext/assistext/internal/carrier"
	appconfig "github.com/assistext/assistext/internal/config"
	"github.com/assistext/assistext/internal/http/handlers"
	httpmiddleware "github.com/assistext/assistext/internal/http/middleware"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/internal/observability/metrics"
	"github.com/assistext/assistext/internal/outbox"
	"github.com/assistext/assistext/internal/reply"
	"github.com/assistext/assistext/internal/tenancy"
	messagingworker "github.com/assistext/assistext/internal/worker/messaging"
	"github.com/assistext/assistext/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := appconfig.Load()

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting assistext API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"send_mode", cfg.SendMode,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsHandler, messagingMetrics := setupMessagingMetrics()

	llm, closeLLM, err := bootstrap.BuildLLMClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure LLM", "error", err)
		os.Exit(1)
	}
	defer closeLLM()

	carrierClient, err := bootstrap.BuildCarrierClient(cfg, logger)
	if err != nil {
		logger.Error("failed to configure carrier", "error", err)
		os.Exit(1)
	}

	var (
		queue       outbox.Queue
		memoryQueue *outbox.MemoryQueue
	)
	if messaging.SendMode(cfg.SendMode) == messaging.SendModeQueue {
		queue, memoryQueue, err = bootstrap.BuildQueue(ctx, cfg)
		if err != nil {
			logger.Error("failed to configure outbox queue", "error", err)
			os.Exit(1)
		}
	}

	tenantStore := tenancy.NewPostgresStore(pool)
	resolver := bootstrap.BuildResolver(tenantStore, redisClient, cfg, logger)
	store := messaging.NewStore(pool)

	pipeline, dispatcher, err := bootstrap.BuildPipeline(cfg, bootstrap.PipelineDeps{
		Pool:     pool,
		Store:    store,
		Resolver: resolver,
		LLM:      llm,
		Limiter:  bootstrap.BuildLimiter(redisClient, logger),
		Carrier:  carrierClient,
		Queue:    queue,
		Metrics:  messagingMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	var numberCache interface {
		Invalidate(ctx context.Context, number string) error
	}
	if c, ok := resolver.(*tenancy.CachingResolver); ok {
		numberCache = c
	}

	routerCfg := &router.Config{
		Logger:           logger,
		MessagingHandler: messaging.NewHandler(pipeline, cfg.PublicBaseURL, logger),
		HealthHandler:    handlers.NewHealthHandler(healthChecks(pool, redisClient), breakerState(llm)),
		AdminTenants:     handlers.NewAdminTenantsHandler(tenantStore, numberCache, logger),
		AdminAuthSecret:  cfg.AdminJWTSecret,
		MetricsHandler:   metricsHandler,
		RateLimiter:      httpmiddleware.NewRateLimiter(ctx, cfg.APIRateLimitRPS, cfg.APIRateLimitBurst),
	}
	r := router.New(routerCfg)

	workersDone := startInlineWorkers(ctx, cfg, memoryQueue, dispatcher, store, carrierClient, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	workersDone.Wait()
	logger.Info("server stopped")
}

func setupMessagingMetrics() (http.Handler, *metrics.MessagingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMessagingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func healthChecks(pool handlers.Pinger, redisClient *redis.Client) map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{}
	if pool != nil {
		checks["postgres"] = pool
	}
	if redisClient != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	return checks
}

func breakerState(llm *reply.BreakerClient) func() string {
	if llm == nil {
		return func() string { return "disabled" }
	}
	return llm.State
}

// startInlineWorkers runs the delivery side in this process when the outbox
// is an in-memory queue; otherwise cmd/messaging-worker owns it.
func startInlineWorkers(ctx context.Context, cfg *appconfig.Config, memoryQueue *outbox.MemoryQueue, dispatcher *messaging.Dispatcher, store *messaging.Store, carrierClient *carrier.Client, logger *logging.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup
	if memoryQueue == nil || !cfg.UseMemoryQueue {
		return &wg
	}
	worker := outbox.NewWorker(memoryQueue, dispatcher, logger, outbox.WithWorkerCount(cfg.WorkerCount), outbox.WithReceiveWaitSeconds(0))
	worker.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Wait()
	}()

	if store != nil {
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
	}
	logger.Info("inline delivery workers started", "workers", cfg.WorkerCount)
	return &wg
}
