package llama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/llamachat/internal/tlsutil"
	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/llm/providers"
	"github.com/BaSui01/llamachat/llm/tokenizer"
	"github.com/BaSui01/llamachat/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:8080"
	DefaultMaxSeqLen      = 512
	DefaultMaxBatchSize   = 1
	DefaultEndpointPath   = "/v1/chat/completions"
	DefaultHealthPath     = "/health"
	DefaultCacheClearPath = "/slots/0?action=erase"
)

// Config 是推理后端连接参数.
type Config struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	// Timeout 为零时由调用方 context 控制超时。
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxSeqLen 是模型的上下文窗口（按词估算）。
	MaxSeqLen int `json:"max_seq_len" yaml:"max_seq_len"`
	// MaxBatchSize 限制同时发往后端的生成请求数。
	MaxBatchSize       int    `json:"max_batch_size" yaml:"max_batch_size"`
	EndpointPath       string `json:"endpoint_path" yaml:"endpoint_path"`
	HealthPath         string `json:"health_path" yaml:"health_path"`
	CacheClearPath     string `json:"cache_clear_path" yaml:"cache_clear_path"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// Provider 通过 OpenAI 兼容 API 调用 Llama 推理服务.
type Provider struct {
	cfg     Config
	client  *http.Client
	counter tokenizer.Counter
	slots   *semaphore.Weighted
	logger  *zap.Logger
}

// Option 配置 Provider.
type Option func(*Provider)

// WithHTTPClient 替换默认的 HTTP 客户端.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTokenCounter 设置提示长度估算使用的计数器.
func WithTokenCounter(c tokenizer.Counter) Option {
	return func(p *Provider) {
		if c != nil {
			p.counter = c
		}
	}
}

// New 创建 Provider. 零值字段使用默认值。
func New(cfg Config, logger *zap.Logger, opts ...Option) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = DefaultMaxSeqLen
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = DefaultEndpointPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.CacheClearPath == "" {
		cfg.CacheClearPath = DefaultCacheClearPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Provider{
		cfg: cfg,
		client: tlsutil.HTTPClient(tlsutil.ClientOptions{
			Timeout:            cfg.Timeout,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MaxIdleConns:       cfg.MaxBatchSize * 2,
		}),
		counter: tokenizer.WordCounter{},
		slots:   semaphore.NewWeighted(int64(cfg.MaxBatchSize)),
		logger:  logger.With(zap.String("provider", "llama")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return "llama" }

// Config 返回填充默认值后的配置.
func (p *Provider) Config() Config { return p.cfg }

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) buildHeaders(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// Generate 执行一次非流式补全.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one message is required").
			WithHTTPStatus(http.StatusBadRequest).WithProvider(p.Name())
	}

	promptLen := tokenizer.CountMessages(p.counter, req.Messages)
	if promptLen >= p.cfg.MaxSeqLen {
		return nil, types.NewError(types.ErrContextTooLong,
			fmt.Sprintf("prompt has %d tokens, max_seq_len is %d", promptLen, p.cfg.MaxSeqLen)).
			WithHTTPStatus(http.StatusBadRequest).WithProvider(p.Name())
	}

	maxTokens := p.cfg.MaxSeqLen - 1
	if req.MaxGenLen != nil {
		maxTokens = *req.MaxGenLen
	}

	body := providers.OpenAICompatRequest{
		Model:       p.cfg.Model,
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, types.NewError(types.ErrUpstreamTimeout, "waiting for a free generation slot").
			WithCause(err).WithProvider(p.Name())
	}
	defer p.slots.Release(1)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{
			Code: types.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		p.logger.Warn("generation request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, &types.Error{
			Code: types.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}

	p.logger.Debug("generation completed",
		zap.String("model", oaResp.Model),
		zap.Int("prompt_tokens", promptLen),
		zap.Int("choices", len(oaResp.Choices)),
		zap.Duration("latency", time.Since(start)))

	return toGenerationResult(oaResp, p.Name()), nil
}

func toGenerationResult(oa providers.OpenAICompatResponse, provider string) *llm.GenerationResult {
	candidates := make([]llm.Candidate, 0, len(oa.Choices))
	for _, c := range oa.Choices {
		cand := llm.Candidate{FinishReason: c.FinishReason}
		if c.Message != nil {
			msg := types.NewAssistantMessage(c.Message.Content)
			cand.Generation = &msg
		}
		candidates = append(candidates, cand)
	}
	return &llm.GenerationResult{
		Candidates: candidates,
		Model:      oa.Model,
		Provider:   provider,
	}
}

// ClearCache 请求后端释放 KV 缓存. 失败只记录日志。
func (p *Provider) ClearCache(ctx context.Context) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.CacheClearPath), nil)
	if err != nil {
		p.logger.Warn("failed to build cache clear request", zap.Error(err))
		return
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.Warn("cache clear request failed", zap.Error(err))
		return
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		p.logger.Warn("cache clear rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("message", providers.ReadErrorMessage(resp.Body)))
		return
	}
	p.logger.Info("backend cache cleared")
}

// HealthCheck verifies the backend is reachable.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.HealthPath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: err.Error()}, err
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: msg},
			fmt.Errorf("llama health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}

	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}
