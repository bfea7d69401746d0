// =============================================================================
// 📦 llamachat 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LLAMACHAT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/llm/providers"
	"github.com/BaSui01/llamachat/llm/providers/llama"
	"github.com/BaSui01/llamachat/llm/tokenizer"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 是环境变量前缀.
const DefaultEnvPrefix = "LLAMACHAT"

// 会话存储类型
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreDatabase = "database"
	StoreTiered   = "tiered"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 llamachat 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Session 默认会话配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// LLM 推理后端配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需大于单次生成耗时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 单次对话请求超时，0 表示不限制
	ChatTimeout time.Duration `yaml:"chat_timeout" env:"CHAT_TIMEOUT"`
	// 每个客户端 IP 的速率限制
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// SessionConfig 会话默认配置及会话管理参数
type SessionConfig struct {
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	TopP        float64 `yaml:"top_p" env:"TOP_P"`
	// 0 表示不限制生成长度
	MaxGenLen            int    `yaml:"max_gen_len" env:"MAX_GEN_LEN"`
	TokenLimit           int    `yaml:"token_limit" env:"TOKEN_LIMIT"`
	HistorySizeThreshold int    `yaml:"history_size_threshold" env:"HISTORY_SIZE_THRESHOLD"`
	Policy               string `yaml:"policy" env:"POLICY"`
	// 为空时按策略取默认值
	PruneTrigger string `yaml:"prune_trigger" env:"PRUNE_TRIGGER"`
	// 裁剪计数方式: words, tiktoken
	Tokenizer      string `yaml:"tokenizer" env:"TOKENIZER"`
	TokenizerModel string `yaml:"tokenizer_model" env:"TOKENIZER_MODEL"`
	// 内存中最多保留的会话数，0 表示不限制
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
	// 空闲会话从内存移除的时间，0 表示不移除
	IdleTTL time.Duration `yaml:"idle_ttl" env:"IDLE_TTL"`
	// 快照存储: memory, redis, database, tiered
	Store          string        `yaml:"store" env:"STORE"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`
	RedisTTL       time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

// LLMConfig 推理后端配置
type LLMConfig struct {
	// 推理服务地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大序列长度
	MaxSeqLen int `yaml:"max_seq_len" env:"MAX_SEQ_LEN"`
	// 最大并发批大小
	MaxBatchSize       int    `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
	EndpointPath       string `yaml:"endpoint_path" env:"ENDPOINT_PATH"`
	HealthPath         string `yaml:"health_path" env:"HEALTH_PATH"`
	CacheClearPath     string `yaml:"cache_clear_path" env:"CACHE_CLEAR_PATH"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	// 可重试错误（连接失败、5xx）的重试次数，0 表示不重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试等待时间，之后指数增长
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit must not be negative")
	}

	if err := c.Session.ToConversation().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Session.MaxGenLen < 0 {
		errs = append(errs, "session.max_gen_len must not be negative")
	}
	switch c.Session.Tokenizer {
	case "", tokenizer.KindWords, tokenizer.KindTiktoken:
	default:
		errs = append(errs, fmt.Sprintf("unknown tokenizer: %q", c.Session.Tokenizer))
	}
	switch c.Session.Store {
	case "", StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis store")
		}
	case StoreDatabase:
		if c.Database.Driver == "" {
			errs = append(errs, "database.driver is required for the database store")
		}
	case StoreTiered:
		if c.Redis.Addr == "" || c.Database.Driver == "" {
			errs = append(errs, "tiered store needs both redis.addr and database.driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown session store: %q", c.Session.Store))
	}

	if c.LLM.BaseURL == "" {
		errs = append(errs, "llm.base_url is required")
	}
	if c.LLM.MaxSeqLen <= 0 {
		errs = append(errs, "llm.max_seq_len must be positive")
	} else if c.Session.TokenLimit >= c.LLM.MaxSeqLen {
		errs = append(errs, fmt.Sprintf("session.token_limit (%d) must be below llm.max_seq_len (%d)",
			c.Session.TokenLimit, c.LLM.MaxSeqLen))
	}
	if c.LLM.MaxBatchSize <= 0 {
		errs = append(errs, "llm.max_batch_size must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ToConversation 转换为会话配置
func (s SessionConfig) ToConversation() conversation.Config {
	cfg := conversation.Config{
		Temperature:          s.Temperature,
		TopP:                 s.TopP,
		TokenLimit:           s.TokenLimit,
		HistorySizeThreshold: s.HistorySizeThreshold,
		Policy:               conversation.Policy(s.Policy),
		PruneTrigger:         conversation.PruneTrigger(s.PruneTrigger),
	}
	if s.MaxGenLen > 0 {
		n := s.MaxGenLen
		cfg.MaxGenLen = &n
	}
	return cfg.WithDefaults()
}

// ToLlama 转换为推理后端配置
func (c LLMConfig) ToLlama() llama.Config {
	return llama.Config{
		BaseURL:            c.BaseURL,
		APIKey:             c.APIKey,
		Model:              c.Model,
		Timeout:            c.Timeout,
		MaxSeqLen:          c.MaxSeqLen,
		MaxBatchSize:       c.MaxBatchSize,
		EndpointPath:       c.EndpointPath,
		HealthPath:         c.HealthPath,
		CacheClearPath:     c.CacheClearPath,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

// ToRetry 转换为生成请求的重试配置
func (c LLMConfig) ToRetry() providers.RetryConfig {
	rc := providers.DefaultRetryConfig()
	rc.MaxRetries = c.MaxRetries
	if c.RetryDelay > 0 {
		rc.InitialDelay = c.RetryDelay
	}
	return rc
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
