package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/assistext/assistext/internal/config"
	"github.com/assistext/assistext/internal/reply"
	"github.com/assistext/assistext/pkg/logging"
)

// BuildLLMClient wires the configured provider behind a circuit breaker.
// LLM_PROVIDER=none returns (nil, nil); the generator then answers from rules.
// The returned close func is never nil.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*reply.BreakerClient, func(), error) {
	noop := func() {}
	if cfg == nil {
		return nil, noop, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		client  reply.LLMClient
		closeFn = noop
	)
	switch cfg.LLMProvider {
	case "none", "":
		logger.Warn("no LLM provider configured; replies come from rules only")
		return nil, noop, nil
	case "openai":
		client = reply.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMBaseURL)
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, noop, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		client = reply.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
	case "gemini":
		gemini, err := reply.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, noop, err
		}
		client = gemini
		closeFn = func() { _ = gemini.Close() }
	default:
		return nil, noop, fmt.Errorf("bootstrap: unknown LLM provider %q", cfg.LLMProvider)
	}

	breaker := reply.NewBreakerClient(client, reply.BreakerSettings{
		Name:                "llm-" + cfg.LLMProvider,
		ConsecutiveFailures: uint32(max(cfg.LLMBreakerFailures, 0)),
		Cooldown:            cfg.LLMBreakerCooldown,
	}, logger)
	logger.Info("LLM provider configured", "provider", cfg.LLMProvider, "model", LLMModel(cfg))
	return breaker, closeFn, nil
}

// LLMModel returns the model id for the configured provider.
func LLMModel(cfg *appconfig.Config) string {
	switch cfg.LLMProvider {
	case "bedrock":
		return cfg.BedrockModelID
	case "gemini":
		// Empty selects the client's default Gemini model.
		if strings.HasPrefix(cfg.LLMModel, "gemini") {
			return cfg.LLMModel
		}
		return ""
	}
	return cfg.LLMModel
}

// ReplyConfig maps application config onto the generator's tuning.
func ReplyConfig(cfg *appconfig.Config) reply.Config {
	return reply.Config{
		Model:        LLMModel(cfg),
		Timeout:      cfg.LLMTimeout,
		MaxTokens:    int32(cfg.LLMMaxTokens),
		Temperature:  float32(cfg.LLMTemperature),
		HistoryTurns: cfg.LLMHistoryTurns,
		MaxChars:     cfg.ReplyMaxChars,
	}
}
