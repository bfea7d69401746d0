package llm

import (
	"context"
	"time"

	"github.com/BaSui01/llamachat/types"
)

// GenerationRequest 是一次生成调用的输入.
type GenerationRequest struct {
	Messages    []types.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p"`
	// MaxGenLen 为 nil 时由后端决定生成长度上限。
	MaxGenLen *int `json:"max_gen_len,omitempty"`
}

// Candidate 是一条候选回复. Generation 为 nil 表示后端没有给出可提取的内容。
type Candidate struct {
	Generation   *types.Message `json:"generation"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// GenerationResult 是生成调用的输出.
type GenerationResult struct {
	Candidates []Candidate `json:"candidates"`
	Model      string      `json:"model,omitempty"`
	Provider   string      `json:"provider,omitempty"`
}

// Generator 是文本生成后端. 调用是单次、同步的，可能失败。
type Generator interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error)
}

// CacheClearer 在检测到资源耗尽后被调用，释放后端缓存.
// 调用方不检查结果。
type CacheClearer interface {
	ClearCache(ctx context.Context)
}

// HealthStatus 表示后端健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// HealthChecker 是可选的后端健康检查接口.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

// GeneratorFunc 允许普通函数充当 Generator.
type GeneratorFunc func(ctx context.Context, req *GenerationRequest) (*GenerationResult, error)

func (f GeneratorFunc) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error) {
	return f(ctx, req)
}

// CacheClearerFunc 允许普通函数充当 CacheClearer.
type CacheClearerFunc func(ctx context.Context)

func (f CacheClearerFunc) ClearCache(ctx context.Context) { f(ctx) }

// NopCacheClearer 什么都不做.
type NopCacheClearer struct{}

func (NopCacheClearer) ClearCache(context.Context) {}
