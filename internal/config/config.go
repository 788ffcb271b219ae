package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// SignalWire carrier configuration
	SignalWireProjectID   string
	SignalWireAuthToken   string
	SignalWireSpaceURL    string
	SignalWireSigningKey  string
	CarrierMaxAttempts    int
	CarrierRetryBaseDelay time.Duration
	CarrierHTTPTimeout    time.Duration

	// Admin and operational routes. Carrier webhooks are never throttled.
	APIRateLimitRPS   float64
	APIRateLimitBurst int
	AdminJWTSecret    string
	TenantCacheTTL    time.Duration

	// LLM configuration
	LLMProvider         string
	LLMBaseURL          string
	LLMAPIKey           string
	LLMModel            string
	LLMTimeout          time.Duration
	LLMMaxTokens        int
	LLMTemperature      float64
	LLMHistoryTurns     int
	LLMBreakerFailures  int
	LLMBreakerCooldown  time.Duration
	ReplyMaxChars       int
	GeminiAPIKey        string
	BedrockModelID      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Outbound delivery
	SendMode              string
	OutboundQueueURL      string
	UseMemoryQueue        bool
	WorkerCount           int
	StalePendingAfter     time.Duration
	SweepInterval         time.Duration
	StatusPollInterval    time.Duration
	StatusReconcileAfter  time.Duration
	StatusReconcileMaxAge time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SignalWireProjectID:   getEnv("SIGNALWIRE_PROJECT_ID", ""),
		SignalWireAuthToken:   getEnv("SIGNALWIRE_AUTH_TOKEN", ""),
		SignalWireSpaceURL:    getEnv("SIGNALWIRE_SPACE_URL", ""),
		SignalWireSigningKey:  getEnv("SIGNALWIRE_SIGNING_KEY", ""),
		CarrierMaxAttempts:    getEnvAsInt("CARRIER_MAX_ATTEMPTS", 3),
		CarrierRetryBaseDelay: getEnvAsDuration("CARRIER_RETRY_BASE_DELAY", time.Second),
		CarrierHTTPTimeout:    getEnvAsDuration("CARRIER_HTTP_TIMEOUT", 10*time.Second),

		APIRateLimitRPS:   getEnvAsFloat("API_RATE_LIMIT_RPS", 10),
		APIRateLimitBurst: getEnvAsInt("API_RATE_LIMIT_BURST", 20),
		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		TenantCacheTTL:    getEnvAsDuration("TENANT_CACHE_TTL", 5*time.Minute),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:           getEnv("LLM_API_KEY", ""),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 8*time.Second),
		LLMMaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 150),
		LLMTemperature:      getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		LLMHistoryTurns:     getEnvAsInt("LLM_HISTORY_TURNS", 6),
		LLMBreakerFailures:  getEnvAsInt("LLM_BREAKER_FAILURES", 5),
		LLMBreakerCooldown:  getEnvAsDuration("LLM_BREAKER_COOLDOWN", 30*time.Second),
		ReplyMaxChars:       getEnvAsInt("REPLY_MAX_CHARS", 320),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SendMode:              strings.ToLower(strings.TrimSpace(getEnv("SEND_MODE", "sync"))),
		OutboundQueueURL:      getEnv("OUTBOUND_QUEUE_URL", ""),
		UseMemoryQueue:        getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:           getEnvAsInt("WORKER_COUNT", 2),
		StalePendingAfter:     getEnvAsDuration("STALE_PENDING_AFTER", 2*time.Minute),
		SweepInterval:         getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		StatusPollInterval:    getEnvAsDuration("STATUS_POLL_INTERVAL", 5*time.Minute),
		StatusReconcileAfter:  getEnvAsDuration("STATUS_RECONCILE_AFTER", 15*time.Minute),
		StatusReconcileMaxAge: getEnvAsDuration("STATUS_RECONCILE_MAX_AGE", 48*time.Hour),
	}
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding values already present in the environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// WebhookSigningKey returns the key used to verify carrier webhooks.
// SignalWire signs LaML callbacks with the project auth token unless a
// dedicated signing key is configured.
func (c *Config) WebhookSigningKey() string {
	if c.SignalWireSigningKey != "" {
		return c.SignalWireSigningKey
	}
	return c.SignalWireAuthToken
}

// Validate reports missing or inconsistent settings required by the API server.
func (c *Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.SignalWireProjectID == "" || c.SignalWireAuthToken == "" || c.SignalWireSpaceURL == "" {
		problems = append(problems, "SIGNALWIRE_PROJECT_ID, SIGNALWIRE_AUTH_TOKEN and SIGNALWIRE_SPACE_URL are required")
	}
	switch c.SendMode {
	case "sync":
	case "queue":
		if !c.UseMemoryQueue && c.OutboundQueueURL == "" {
			problems = append(problems, "OUTBOUND_QUEUE_URL is required when SEND_MODE=queue")
		}
	default:
		problems = append(problems, fmt.Sprintf("SEND_MODE must be sync or queue, got %q", c.SendMode))
	}
	switch c.LLMProvider {
	case "openai", "bedrock", "gemini", "none":
	default:
		problems = append(problems, fmt.Sprintf("LLM_PROVIDER must be openai, bedrock, gemini or none, got %q", c.LLMProvider))
	}
	if c.LLMTimeout <= 0 {
		problems = append(problems, "LLM_TIMEOUT must be positive")
	}
	if c.CarrierMaxAttempts < 1 {
		problems = append(problems, "CARRIER_MAX_ATTEMPTS must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
