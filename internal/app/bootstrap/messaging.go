package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/assistext/assistext/internal/carrier"
	appconfig "github.com/assistext/assistext/internal/config"
	"github.com/assistext/assistext/internal/events"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/internal/observability/metrics"
	"github.com/assistext/assistext/internal/outbox"
	"github.com/assistext/assistext/internal/reply"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

// StatusCallbackPath is where the carrier posts delivery reports.
const StatusCallbackPath = "/webhooks/status"

// BuildCarrierClient creates the SignalWire client. Sends carry a status
// callback when PUBLIC_BASE_URL is known.
func BuildCarrierClient(cfg *appconfig.Config, logger *logging.Logger) (*carrier.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	callback := ""
	if base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"); base != "" {
		callback = base + StatusCallbackPath
	}
	client, err := carrier.New(carrier.Config{
		SpaceURL:          cfg.SignalWireSpaceURL,
		ProjectID:         cfg.SignalWireProjectID,
		AuthToken:         cfg.SignalWireAuthToken,
		StatusCallbackURL: callback,
		Timeout:           cfg.CarrierHTTPTimeout,
		MaxAttempts:       cfg.CarrierMaxAttempts,
		Backoff:           cfg.CarrierRetryBaseDelay,
		Logger:            logger.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: carrier client: %w", err)
	}
	return client, nil
}

// BuildQueue returns the outbox transport: an in-process channel when
// USE_MEMORY_QUEUE is set, SQS otherwise. The MemoryQueue is also returned so
// the caller can run consumers in the same process.
func BuildQueue(ctx context.Context, cfg *appconfig.Config) (outbox.Queue, *outbox.MemoryQueue, error) {
	if cfg.UseMemoryQueue {
		q := outbox.NewMemoryQueue(256)
		return q, q, nil
	}
	if strings.TrimSpace(cfg.OutboundQueueURL) == "" {
		return nil, nil, fmt.Errorf("bootstrap: OUTBOUND_QUEUE_URL is required without USE_MEMORY_QUEUE")
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return outbox.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.OutboundQueueURL), nil, nil
}

// BuildResolver puts the Redis number cache in front of Postgres when Redis
// is available.
func BuildResolver(tenants *tenancy.PostgresStore, redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) tenancy.Resolver {
	if redisClient == nil {
		return tenants
	}
	return tenancy.NewCachingResolver(tenants, redisClient, cfg.TenantCacheTTL, logger)
}

// BuildLimiter returns the Redis-backed AI limiter. Without Redis the
// generator gets no limiter and every AI call is denied.
func BuildLimiter(redisClient *redis.Client, logger *logging.Logger) reply.Limiter {
	if redisClient == nil {
		logger.Warn("redis unavailable; AI replies disabled until the rate limiter can count")
		return nil
	}
	return reply.NewRedisLimiter(redisClient)
}

// PipelineDeps are the collaborators BuildPipeline needs beyond config.
type PipelineDeps struct {
	Pool     *pgxpool.Pool
	Store    *messaging.Store
	Resolver tenancy.Resolver
	LLM      *reply.BreakerClient
	Limiter  reply.Limiter
	Carrier  *carrier.Client
	Queue    outbox.Queue
	Metrics  *metrics.MessagingMetrics
	Logger   *logging.Logger
}

// BuildPipeline assembles the webhook pipeline and the dispatcher it shares
// with the delivery workers.
func BuildPipeline(cfg *appconfig.Config, deps PipelineDeps) (*messaging.Pipeline, *messaging.Dispatcher, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Store == nil || deps.Resolver == nil || deps.Carrier == nil {
		return nil, nil, fmt.Errorf("bootstrap: store, resolver and carrier are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var llm reply.LLMClient
	if deps.LLM != nil {
		llm = deps.LLM
	}
	generator := reply.NewGenerator(llm, deps.Limiter, ReplyConfig(cfg), logger)
	dispatcher := messaging.NewDispatcher(deps.Store, deps.Carrier, logger, deps.Metrics)

	mode := messaging.SendMode(cfg.SendMode)
	var enqueuer messaging.Enqueuer
	if mode == messaging.SendModeQueue {
		if deps.Queue == nil {
			return nil, nil, fmt.Errorf("bootstrap: queue send mode requires a queue")
		}
		enqueuer = outbox.NewPublisher(deps.Queue)
	}

	var webhookLog messaging.WebhookLogger
	if deps.Pool != nil {
		webhookLog = events.NewWebhookLogStore(deps.Pool)
	}

	pipeline := messaging.NewPipeline(messaging.PipelineConfig{
		Verifier:     messaging.NewVerifier(cfg.WebhookSigningKey()),
		Tenants:      deps.Resolver,
		Replies:      generator,
		Store:        deps.Store,
		Dispatcher:   dispatcher,
		Queue:        enqueuer,
		WebhookLog:   webhookLog,
		Mode:         mode,
		HistoryTurns: cfg.LLMHistoryTurns,
		Logger:       logger,
		Metrics:      deps.Metrics,
	})
	logger.Info("webhook pipeline ready", "send_mode", string(mode), "ai", deps.LLM != nil, "webhook_log", webhookLog != nil)
	return pipeline, dispatcher, nil
}
