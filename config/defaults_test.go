package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultServerConfig(), cfg.Server)
	assert.Equal(t, DefaultSessionConfig(), cfg.Session)
	assert.Equal(t, DefaultLLMConfig(), cfg.LLM)
	assert.Equal(t, DefaultRedisConfig(), cfg.Redis)
	assert.Equal(t, DefaultDatabaseConfig(), cfg.Database)
	assert.Equal(t, DefaultLogConfig(), cfg.Log)
	assert.Equal(t, DefaultTelemetryConfig(), cfg.Telemetry)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 7860, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.ChatTimeout)
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.Equal(t, 0.6, cfg.Temperature)
	assert.Equal(t, 0.9, cfg.TopP)
	assert.Zero(t, cfg.MaxGenLen)
	assert.Equal(t, 384, cfg.TokenLimit)
	assert.Less(t, cfg.TokenLimit, DefaultLLMConfig().MaxSeqLen)
	assert.Equal(t, 850, cfg.HistorySizeThreshold)
	assert.Equal(t, "plain", cfg.Policy)
	assert.Equal(t, "always", cfg.PruneTrigger)
	assert.Equal(t, "words", cfg.Tokenizer)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "http://127.0.0.1:8080", cfg.BaseURL)
	assert.Equal(t, 512, cfg.MaxSeqLen)
	assert.Equal(t, 1, cfg.MaxBatchSize)
	assert.Equal(t, "/v1/chat/completions", cfg.EndpointPath)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "llamachat.db", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "llamachat", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.SampleRate)
}
