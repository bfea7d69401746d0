package providers

import (
	"context"
	"math"
	"time"

	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/types"
	"go.uber.org/zap"
)

// RetryConfig holds retry configuration for a generator wrapper.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`    // Maximum retry attempts, 0 disables retries
	InitialDelay  time.Duration `json:"initial_delay"`  // Initial backoff delay, default 500ms
	MaxDelay      time.Duration `json:"max_delay"`      // Maximum backoff delay, default 10s
	BackoffFactor float64       `json:"backoff_factor"` // Exponential backoff factor, default 2.0
}

// DefaultRetryConfig returns retry defaults with retries disabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    0,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryableGenerator wraps an llm.Generator with exponential-backoff retry.
// Only errors marked Retryable are retried. Resource exhaustion is never
// retried so the caller can clear the backend cache first.
type RetryableGenerator struct {
	inner  llm.Generator
	config RetryConfig
	logger *zap.Logger
}

// NewRetryableGenerator creates a retrying wrapper around the given generator.
func NewRetryableGenerator(inner llm.Generator, config RetryConfig, logger *zap.Logger) *RetryableGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &RetryableGenerator{
		inner:  inner,
		config: config,
		logger: logger.With(zap.String("component", "retry_generator")),
	}
}

// Compile-time interface checks.
var (
	_ llm.Generator     = (*RetryableGenerator)(nil)
	_ llm.CacheClearer  = (*RetryableGenerator)(nil)
	_ llm.HealthChecker = (*RetryableGenerator)(nil)
)

// Generate calls the inner generator, retrying transient failures.
// The last error is returned unwrapped so callers see the backend's own message.
func (g *RetryableGenerator) Generate(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.calculateDelay(attempt)
			g.logger.Debug("retrying generation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			case <-timer.C:
			}
		}

		result, err := g.inner.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == g.config.MaxRetries {
			break
		}
		g.logger.Warn("generation failed, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, lastErr
}

// ClearCache forwards to the inner generator when it supports cache clearing.
func (g *RetryableGenerator) ClearCache(ctx context.Context) {
	if c, ok := g.inner.(llm.CacheClearer); ok {
		c.ClearCache(ctx)
	}
}

// HealthCheck forwards to the inner generator; generators without a check report healthy.
func (g *RetryableGenerator) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	if h, ok := g.inner.(llm.HealthChecker); ok {
		return h.HealthCheck(ctx)
	}
	return &llm.HealthStatus{Healthy: true}, nil
}

func shouldRetry(err error) bool {
	if types.IsErrorCode(err, types.ErrResourceExhausted) {
		return false
	}
	return types.IsRetryable(err)
}

func (g *RetryableGenerator) calculateDelay(attempt int) time.Duration {
	delay := float64(g.config.InitialDelay) * math.Pow(g.config.BackoffFactor, float64(attempt-1))
	if g.config.MaxDelay > 0 && delay > float64(g.config.MaxDelay) {
		delay = float64(g.config.MaxDelay)
	}
	return time.Duration(delay)
}
