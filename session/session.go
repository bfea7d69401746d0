package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/types"
	"go.uber.org/zap"
)

// Result 是一次会话对话的结果.
type Result struct {
	Reply   string `json:"reply"`
	IsError bool   `json:"error"`
	Turns   int    `json:"turns"`
	Tokens  int    `json:"tokens"`
}

// Info 是会话的概要信息.
type Info struct {
	ID           string              `json:"id"`
	Config       conversation.Config `json:"config"`
	Turns        int                 `json:"turns"`
	Tokens       int                 `json:"tokens"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActiveAt time.Time           `json:"last_active_at"`
}

// Session 是一个独立的对话会话. 其方法可以并发调用，Chat 会被串行化。
type Session struct {
	id      string
	cfg     conversation.Config
	newMgr  func(history []types.Message) (*conversation.Manager, error)
	store   Store
	logger  *zap.Logger
	created time.Time

	// lastActive 是 UnixNano，不持有 mu 也能读取
	lastActive atomic.Int64
	// users 是正在使用会话的调用方数量，大于 0 时不会被空闲清理移除
	users atomic.Int32
	// evicted 由 Registry.mu 保护
	evicted  bool
	reattach func(*Session)

	mu      sync.Mutex
	manager *conversation.Manager
	version int
}

// ID 返回会话 ID.
func (s *Session) ID() string { return s.id }

// Config 返回会话配置.
func (s *Session) Config() conversation.Config { return s.cfg }

// Acquire 标记会话正在使用，返回的函数结束使用，可以重复调用.
// 使用期间会话不会被空闲清理移除；若在标记前刚被移除，会重新注册到 Registry。
func (s *Session) Acquire() (release func()) {
	s.users.Add(1)
	if s.reattach != nil {
		s.reattach(s)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.touch(time.Now())
			s.users.Add(-1)
		})
	}
}

func (s *Session) inUse() bool {
	return s.users.Load() > 0
}

// Chat 在该会话上执行一次对话. 存储失败只记录日志，不影响回复。
func (s *Session) Chat(ctx context.Context, text string) Result {
	release := s.Acquire()
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch(time.Now())
	ctx = types.WithSessionID(ctx, s.id)
	reply := s.manager.Chat(ctx, text)
	s.touch(time.Now())
	s.persistLocked(ctx)

	return Result{
		Reply:   reply,
		IsError: conversation.IsErrorReply(reply),
		Turns:   s.manager.Len(),
		Tokens:  s.manager.Tokens(),
	}
}

// Reset 清空会话历史，保留配置.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mgr, err := s.newMgr(nil)
	if err != nil {
		return err
	}
	s.manager = mgr
	s.touch(time.Now())
	s.persistLocked(ctx)
	return nil
}

// History 返回当前历史的副本.
func (s *Session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.History()
}

// Info 返回会话概要.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		Config:       s.cfg,
		Turns:        s.manager.Len(),
		Tokens:       s.manager.Tokens(),
		CreatedAt:    s.created,
		LastActiveAt: s.idleSince(),
	}
}

func (s *Session) touch(t time.Time) {
	s.lastActive.Store(t.UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) snapshotLocked() *Snapshot {
	return &Snapshot{
		ID:        s.id,
		Config:    s.cfg,
		Messages:  s.manager.History(),
		Version:   s.version + 1,
		CreatedAt: s.created,
		UpdatedAt: time.Now(),
	}
}

func (s *Session) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	snap := s.snapshotLocked()
	err := s.store.Save(context.WithoutCancel(ctx), snap)
	switch {
	case err == nil:
		s.version = snap.Version
	case errors.Is(err, ErrVersionConflict):
		s.logger.Warn("session snapshot superseded by a newer version",
			zap.Int("version", snap.Version))
	default:
		s.logger.Error("failed to save session snapshot", zap.Error(err))
	}
}
