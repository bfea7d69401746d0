package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/llm/tokenizer"
	"github.com/BaSui01/llamachat/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Manager 是单个会话的对话历史管理器.
type Manager struct {
	cfg       Config
	state     *State
	builder   Builder
	pruner    *Pruner
	counter   tokenizer.Counter
	generator llm.Generator
	clearer   llm.CacheClearer
	observer  Observer
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option 配置 Manager.
type Option func(*Manager)

// WithLogger 设置日志.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTokenCounter 设置裁剪使用的计数器，默认 WordCounter.
func WithTokenCounter(c tokenizer.Counter) Option {
	return func(m *Manager) {
		if c != nil {
			m.counter = c
		}
	}
}

// WithCacheClearer 设置资源耗尽后的缓存清理回调.
// 未设置时，如果 generator 实现了 llm.CacheClearer 就使用它。
func WithCacheClearer(c llm.CacheClearer) Option {
	return func(m *Manager) {
		if c != nil {
			m.clearer = c
		}
	}
}

// WithObserver 设置事件观察者.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithHistory 用已有轮次初始化历史（例如从快照恢复）.
func WithHistory(msgs []types.Message) Option {
	return func(m *Manager) {
		m.state = NewState(msgs...)
	}
}

// NewManager 创建 Manager. cfg 的零值字段会被填充默认值后再校验。
func NewManager(generator llm.Generator, cfg Config, opts ...Option) (*Manager, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		state:     NewState(),
		builder:   NewBuilder(cfg.Policy),
		counter:   tokenizer.WordCounter{},
		generator: generator,
		observer:  nopObserver{},
		tracer:    otel.Tracer("llamachat/conversation"),
		logger:    zap.NewNop(),
	}
	if c, ok := generator.(llm.CacheClearer); ok {
		m.clearer = c
	} else {
		m.clearer = llm.NopCacheClearer{}
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(
		zap.String("component", "conversation"),
		zap.String("policy", string(cfg.Policy)))
	m.pruner = NewPruner(m.counter, cfg.TokenLimit, m.logger)

	return m, nil
}

// Config 返回会话配置.
func (m *Manager) Config() Config {
	return m.cfg
}

// History 返回当前历史的副本.
func (m *Manager) History() []types.Message {
	return m.state.Messages()
}

// Len 返回当前轮次数.
func (m *Manager) Len() int {
	return m.state.Len()
}

// Tokens 返回当前历史的 token 数.
func (m *Manager) Tokens() int {
	return m.state.Tokens(m.counter)
}

// Chat 处理一次用户输入，返回完整的回复文本或以 "[Error]:" 开头的错误描述.
// 它从不返回 error，也不会因后端失败而 panic。存储的助手轮次可能与返回值不同。
//
// 失败时历史不会被写入半个轮次：PolicyPlain 保留已追加的用户轮次，
// PolicyDirective 保持调用前的状态。
func (m *Manager) Chat(ctx context.Context, userText string) string {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "conversation.Chat",
		trace.WithAttributes(
			attribute.String("conversation.policy", string(m.cfg.Policy)),
			attribute.Int("conversation.turns", m.state.Len()),
		))
	defer span.End()

	reply, outcome := m.chat(ctx, userText)

	span.SetAttributes(attribute.String("conversation.outcome", string(outcome)))
	if outcome != OutcomeOK {
		span.SetStatus(codes.Error, reply)
	}
	m.observer.ObserveChat(m.cfg.Policy, outcome, time.Since(start))
	return reply
}

func (m *Manager) chat(ctx context.Context, userText string) (string, Outcome) {
	turns := m.builder.Build(m.state, userText)

	result, err := m.generate(ctx, turns)
	if err != nil {
		if types.IsErrorCode(err, types.ErrResourceExhausted) {
			m.logger.Warn("generation ran out of device memory, clearing cache", zap.Error(err))
			m.clearer.ClearCache(ctx)
			m.observer.ObserveCacheClear()
			return replyResourceExhausted, OutcomeResourceExhausted
		}
		m.logger.Error("generation failed", zap.Error(err))
		return replyBackendFailure(err), OutcomeBackendFailure
	}

	if result == nil || len(result.Candidates) == 0 {
		m.logger.Error("generation returned no candidates")
		return replyMalformedResult, OutcomeMalformedResult
	}
	generation := result.Candidates[0].Generation
	if generation == nil {
		m.logger.Error("first candidate has no generation")
		return replyExtraction, OutcomeExtractionFailure
	}

	response := strings.TrimSpace(generation.Content)
	stored := PostProcess(m.cfg.Policy, response)

	if m.cfg.Policy == PolicyDirective {
		m.state.Append(types.NewUserMessage(userText))
	}
	m.state.Append(types.NewAssistantMessage(stored))
	m.logger.Debug("assistant turn added to history",
		zap.Int("stored_words", len(strings.Fields(stored))),
		zap.Int("reply_words", len(strings.Fields(response))))

	if m.shouldPrune() {
		if removed := m.pruner.Prune(m.state); removed > 0 {
			m.observer.ObservePrune(removed, m.state.Len())
		}
	}

	return response, OutcomeOK
}

// generate 调用后端，并把 panic 转换为普通错误.
func (m *Manager) generate(ctx context.Context, turns []types.Message) (result *llm.GenerationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("generator panicked: %v", r)
		}
	}()

	return m.generator.Generate(ctx, &llm.GenerationRequest{
		Messages:    turns,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxGenLen:   m.cfg.MaxGenLen,
	})
}

func (m *Manager) shouldPrune() bool {
	if m.cfg.PruneTrigger == TriggerAlways {
		return true
	}
	return m.state.Len() > m.cfg.HistorySizeThreshold
}
