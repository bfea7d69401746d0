// =============================================================================
// 📦 llamachat 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/llm/providers/llama"
	"github.com/BaSui01/llamachat/llm/tokenizer"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Session:   DefaultSessionConfig(),
		LLM:       DefaultLLMConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        7860,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		ChatTimeout:     0,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultSessionTokenLimit 低于 llama.DefaultMaxSeqLen，为新一轮用户输入留出余量.
const DefaultSessionTokenLimit = 384

// DefaultSessionConfig 返回默认会话配置.
// 裁剪时机默认为 always，历史始终不超过后端的上下文窗口。
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Temperature:          conversation.DefaultTemperature,
		TopP:                 conversation.DefaultTopP,
		MaxGenLen:            0,
		TokenLimit:           DefaultSessionTokenLimit,
		HistorySizeThreshold: conversation.DefaultHistorySizeThreshold,
		Policy:               string(conversation.PolicyPlain),
		PruneTrigger:         string(conversation.TriggerAlways),
		Tokenizer:            tokenizer.KindWords,
		TokenizerModel:       "llama-3",
		MaxSessions:          1000,
		IdleTTL:              30 * time.Minute,
		Store:                StoreMemory,
		RedisKeyPrefix:       "llamachat:session:",
		RedisTTL:             24 * time.Hour,
	}
}

// DefaultLLMConfig 返回默认推理后端配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:        llama.DefaultBaseURL,
		Model:          "llama-2-7b-chat",
		Timeout:        0,
		MaxSeqLen:      llama.DefaultMaxSeqLen,
		MaxBatchSize:   llama.DefaultMaxBatchSize,
		EndpointPath:   llama.DefaultEndpointPath,
		HealthPath:     llama.DefaultHealthPath,
		CacheClearPath: llama.DefaultCacheClearPath,
		MaxRetries:     0,
		RetryDelay:     500 * time.Millisecond,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "llamachat",
		Password:        "",
		Name:            "llamachat.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "llamachat",
		SampleRate:   0.1,
	}
}
