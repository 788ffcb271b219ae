package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SEND_MODE", "")
	t.Setenv("LLM_TIMEOUT", "")
	t.Setenv("CARRIER_MAX_ATTEMPTS", "")
	t.Setenv("STATUS_RECONCILE_MAX_AGE", "")
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "sync", cfg.SendMode)
	assert.Equal(t, 8*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 150, cfg.LLMMaxTokens)
	assert.InDelta(t, 0.7, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 3, cfg.CarrierMaxAttempts)
	assert.Equal(t, time.Second, cfg.CarrierRetryBaseDelay)
	assert.Equal(t, 48*time.Hour, cfg.StatusReconcileMaxAge)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("LLM_PROVIDER", " Gemini ")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_TIMEOUT", "3s")
	t.Setenv("SEND_MODE", "QUEUE")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("API_RATE_LIMIT_RPS", "12.5")
	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://user@host/db", cfg.DatabaseURL)
	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.InDelta(t, 0.2, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.LLMTimeout)
	assert.Equal(t, "queue", cfg.SendMode)
	assert.True(t, cfg.UseMemoryQueue)
	assert.InDelta(t, 12.5, cfg.APIRateLimitRPS, 1e-9)
}

func TestWebhookSigningKeyFallsBackToAuthToken(t *testing.T) {
	cfg := &Config{SignalWireAuthToken: "token"}
	assert.Equal(t, "token", cfg.WebhookSigningKey())
	cfg.SignalWireSigningKey = "signing"
	assert.Equal(t, "signing", cfg.WebhookSigningKey())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:         "postgres://localhost/db",
			SignalWireProjectID: "proj",
			SignalWireAuthToken: "tok",
			SignalWireSpaceURL:  "example.signalwire.com",
			SendMode:            "sync",
			LLMProvider:         "openai",
			LLMTimeout:          time.Second,
			CarrierMaxAttempts:  3,
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.SendMode = "queue"
	require.ErrorContains(t, cfg.Validate(), "OUTBOUND_QUEUE_URL")

	cfg = valid()
	cfg.LLMProvider = "mystery"
	require.ErrorContains(t, cfg.Validate(), "LLM_PROVIDER")

	cfg = valid()
	cfg.DatabaseURL = ""
	cfg.SignalWireSpaceURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "SIGNALWIRE_SPACE_URL")
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ASSISTEXT_DOTENV_A=from-file\nASSISTEXT_DOTENV_B=from-file\n"), 0o600))

	t.Setenv("ASSISTEXT_DOTENV_A", "from-env")
	t.Setenv("ASSISTEXT_DOTENV_B", "")
	os.Unsetenv("ASSISTEXT_DOTENV_B")
	t.Cleanup(func() { os.Unsetenv("ASSISTEXT_DOTENV_B") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("ASSISTEXT_DOTENV_A"))
	assert.Equal(t, "from-file", os.Getenv("ASSISTEXT_DOTENV_B"))
}
