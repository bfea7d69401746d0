package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Overrides 是创建会话时对默认配置的覆盖，nil 字段沿用默认值.
type Overrides struct {
	Temperature          *float64                   `json:"temperature,omitempty"`
	TopP                 *float64                   `json:"top_p,omitempty"`
	MaxGenLen            *int                       `json:"max_gen_len,omitempty"`
	TokenLimit           *int                       `json:"token_limit,omitempty"`
	HistorySizeThreshold *int                       `json:"history_size_threshold,omitempty"`
	Policy               *conversation.Policy       `json:"policy,omitempty"`
	PruneTrigger         *conversation.PruneTrigger `json:"prune_trigger,omitempty"`
}

// Apply 返回应用覆盖后的配置.
// 只覆盖策略而未指定裁剪时机时，裁剪时机取该策略的默认值；
// 默认配置已是 always 时保持 always，历史每轮都压回 token_limit 以内。
func (o *Overrides) Apply(base conversation.Config) conversation.Config {
	if o == nil {
		return base
	}
	cfg := base
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		cfg.TopP = *o.TopP
	}
	if o.MaxGenLen != nil {
		n := *o.MaxGenLen
		cfg.MaxGenLen = &n
	}
	if o.TokenLimit != nil {
		cfg.TokenLimit = *o.TokenLimit
	}
	if o.HistorySizeThreshold != nil {
		cfg.HistorySizeThreshold = *o.HistorySizeThreshold
	}
	if o.Policy != nil {
		cfg.Policy = *o.Policy
		if o.PruneTrigger == nil && base.PruneTrigger != conversation.TriggerAlways {
			cfg.PruneTrigger = conversation.DefaultTrigger(cfg.Policy)
		}
	}
	if o.PruneTrigger != nil {
		cfg.PruneTrigger = *o.PruneTrigger
	}
	return cfg
}

// Registry 管理所有活跃会话
type Registry struct {
	generator   llm.Generator
	defaults    conversation.Config
	managerOpts []conversation.Option
	store       Store
	maxSessions int
	promptLimit int
	idleTTL     time.Duration
	onCount     func(active int)
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryOption 配置 Registry.
type RegistryOption func(*Registry)

// WithStore 设置快照存储.
func WithStore(store Store) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithManagerOptions 追加每个会话 Manager 的构造选项.
func WithManagerOptions(opts ...conversation.Option) RegistryOption {
	return func(r *Registry) { r.managerOpts = append(r.managerOpts, opts...) }
}

// WithMaxSessions 限制内存中的会话数，0 表示不限制.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) { r.maxSessions = n }
}

// WithPromptLimit 设置后端单次请求的 token 上限，0 表示不检查.
// token_limit 不低于该上限的会话无法创建，否则裁剪后的历史仍会被后端拒绝。
func WithPromptLimit(n int) RegistryOption {
	return func(r *Registry) { r.promptLimit = n }
}

// WithIdleTTL 设置空闲会话从内存中移除的时间，0 表示不移除.
// 配置了存储时，被移除的会话仍可通过 Get 恢复。
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTTL = ttl }
}

// WithActiveCount 注册活跃会话数变化的回调（用于指标）.
func WithActiveCount(fn func(active int)) RegistryOption {
	return func(r *Registry) { r.onCount = fn }
}

// WithRegistryLogger 设置日志.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry 创建会话注册表. defaults 会先填充默认值再校验。
func NewRegistry(generator llm.Generator, defaults conversation.Config, opts ...RegistryOption) (*Registry, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	defaults = defaults.WithDefaults()
	if err := defaults.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, err.Error())
	}

	r := &Registry{
		generator: generator,
		defaults:  defaults,
		onCount:   func(int) {},
		logger:    zap.NewNop(),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.checkPromptLimit(defaults); err != nil {
		return nil, err
	}
	r.logger = r.logger.With(zap.String("component", "session_registry"))
	return r, nil
}

func (r *Registry) checkPromptLimit(cfg conversation.Config) error {
	if r.promptLimit > 0 && cfg.TokenLimit >= r.promptLimit {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("token_limit %d must be below the backend prompt limit %d", cfg.TokenLimit, r.promptLimit))
	}
	return nil
}

// Defaults 返回默认会话配置.
func (r *Registry) Defaults() conversation.Config {
	return r.defaults
}

func (r *Registry) newSession(id string, cfg conversation.Config, snap *Snapshot) (*Session, error) {
	logger := r.logger.With(zap.String("session_id", id))
	newMgr := func(history []types.Message) (*conversation.Manager, error) {
		opts := make([]conversation.Option, 0, len(r.managerOpts)+2)
		opts = append(opts, conversation.WithLogger(logger))
		opts = append(opts, r.managerOpts...)
		if len(history) > 0 {
			opts = append(opts, conversation.WithHistory(history))
		}
		return conversation.NewManager(r.generator, cfg, opts...)
	}

	var history []types.Message
	now := time.Now()
	s := &Session{
		id:       id,
		cfg:      cfg,
		newMgr:   newMgr,
		store:    r.store,
		logger:   logger,
		created:  now,
		reattach: r.reattach,
	}
	s.touch(now)
	if snap != nil {
		history = snap.Messages
		s.version = snap.Version
		s.created = snap.CreatedAt
	}

	mgr, err := newMgr(history)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, err.Error())
	}
	s.manager = mgr
	return s, nil
}

// Create 创建新会话.
func (r *Registry) Create(ctx context.Context, overrides *Overrides) (*Session, error) {
	cfg := overrides.Apply(r.defaults)
	if err := r.checkPromptLimit(cfg); err != nil {
		return nil, err
	}
	s, err := r.newSession(uuid.NewString(), cfg, nil)
	if err != nil {
		return nil, err
	}

	if err := r.add(s); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.persistLocked(ctx)
	s.mu.Unlock()

	r.logger.Info("session created",
		zap.String("session_id", s.id),
		zap.String("policy", string(cfg.Policy)),
		zap.Int("token_limit", cfg.TokenLimit))
	return s, nil
}

func (r *Registry) add(s *Session) error {
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return types.NewError(types.ErrQuotaExceeded,
			fmt.Sprintf("too many active sessions (max %d)", r.maxSessions)).WithRetryable(true)
	}
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.onCount(n)
	return nil
}

// Get 返回会话. 内存中不存在时尝试从存储恢复。
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if r.store == nil {
		return nil, ErrSessionNotFound
	}

	snap, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	restored, err := r.newSession(id, snap.Config.WithDefaults(), snap)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		// 并发恢复时保留先注册的实例
		r.mu.Unlock()
		return existing, nil
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return nil, types.NewError(types.ErrQuotaExceeded,
			fmt.Sprintf("too many active sessions (max %d)", r.maxSessions)).WithRetryable(true)
	}
	r.sessions[id] = restored
	n := len(r.sessions)
	r.mu.Unlock()
	r.onCount(n)

	r.logger.Info("session restored from store",
		zap.String("session_id", id),
		zap.Int("turns", len(snap.Messages)))
	return restored, nil
}

// Delete 删除会话及其快照.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, inMemory := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if r.store == nil {
		if !inMemory {
			return ErrSessionNotFound
		}
		r.onCount(n)
		return nil
	}

	if !inMemory {
		if _, err := r.store.Load(ctx, id); err != nil {
			return err
		}
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	r.onCount(n)
	r.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// List 返回内存中所有会话的概要，按创建时间排序.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len 返回内存中的会话数.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictIdle 从内存中移除空闲超过 idleTTL 的会话，返回移除数量.
func (r *Registry) EvictIdle(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	evicted := 0
	for id, s := range r.sessions {
		if s.inUse() {
			continue
		}
		if now.Sub(s.idleSince()) > r.idleTTL {
			delete(r.sessions, id)
			s.evicted = true
			evicted++
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if evicted > 0 {
		r.onCount(n)
		r.logger.Info("evicted idle sessions",
			zap.Int("evicted", evicted),
			zap.Int("active", n))
	}
	return evicted
}

// reattach 把被移除后又重新使用的会话放回内存.
// 同 ID 已有从存储恢复的实例时保留该实例。
func (r *Registry) reattach(s *Session) {
	r.mu.Lock()
	if !s.evicted {
		r.mu.Unlock()
		return
	}
	s.evicted = false
	if _, ok := r.sessions[s.id]; ok {
		r.mu.Unlock()
		r.logger.Warn("evicted session reused after restore",
			zap.String("session_id", s.id))
		return
	}
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.onCount(n)
	r.logger.Debug("session reattached", zap.String("session_id", s.id))
}

// Run 周期性清理空闲会话，直到 ctx 取消.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.EvictIdle(now)
		}
	}
}

// IsNotFound 报告 err 是否表示会话不存在.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
