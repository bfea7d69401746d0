package metrics

import (
	"context"
	"time"

	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedGenerator 记录每次生成调用的耗时与结果，并为调用创建 client span.
// 包装后的生成器保留原生成器的 CacheClearer 与 HealthChecker 能力。
type InstrumentedGenerator struct {
	inner     llm.Generator
	provider  string
	collector *Collector
	tracer    trace.Tracer
}

// InstrumentGenerator 包装 gen. provider 用作指标标签。
func InstrumentGenerator(gen llm.Generator, provider string, c *Collector) *InstrumentedGenerator {
	return &InstrumentedGenerator{
		inner:     gen,
		provider:  provider,
		collector: c,
		tracer:    otel.Tracer("llamachat/llm"),
	}
}

func (g *InstrumentedGenerator) Generate(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	messages := 0
	if req != nil {
		messages = len(req.Messages)
	}
	ctx, span := g.tracer.Start(ctx, "llm.Generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", g.provider),
			attribute.Int("llm.messages", messages),
		))
	defer span.End()

	start := time.Now()
	res, err := g.inner.Generate(ctx, req)

	status := "ok"
	if err != nil {
		status = string(types.GetErrorCode(err))
		if status == "" {
			status = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	span.SetAttributes(attribute.String("llm.status", status))
	g.collector.RecordLLMRequest(g.provider, status, time.Since(start))
	return res, err
}

// ClearCache 转发到被包装的生成器.
func (g *InstrumentedGenerator) ClearCache(ctx context.Context) {
	if cc, ok := g.inner.(llm.CacheClearer); ok {
		cc.ClearCache(ctx)
	}
}

// HealthCheck 转发到被包装的生成器. 不支持健康检查时视为健康。
func (g *InstrumentedGenerator) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	if hc, ok := g.inner.(llm.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return &llm.HealthStatus{Healthy: true}, nil
}
