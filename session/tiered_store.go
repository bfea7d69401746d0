package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// TieredStore 混合存储（热存储 + 冷存储）
// 写入同步落到热存储，再通过后台 worker 异步写入冷存储。
type TieredStore struct {
	hot    Store
	cold   Store
	logger *zap.Logger
	// onLookup 记录热存储命中情况
	onLookup func(hit bool)

	mu        sync.RWMutex
	closed    bool
	persistCh chan *Snapshot
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewTieredStore 创建混合存储. buffer 是异步落盘队列长度。
func NewTieredStore(hot, cold Store, buffer int, logger *zap.Logger) *TieredStore {
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{
		hot:       hot,
		cold:      cold,
		logger:    logger.With(zap.String("component", "tiered_session_store")),
		persistCh: make(chan *Snapshot, buffer),
		onLookup:  func(bool) {},
	}
}

// OnLookup 注册热存储命中回调，需在使用前调用.
func (t *TieredStore) OnLookup(fn func(hit bool)) *TieredStore {
	if fn != nil {
		t.onLookup = fn
	}
	return t
}

// Start 启动异步落盘 worker. ctx 取消或 Close 后退出。
func (t *TieredStore) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.persistWorker(ctx)
	})
}

func (t *TieredStore) persistWorker(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-t.persistCh:
			if !ok {
				return
			}
			t.persist(ctx, snap)
		}
	}
}

func (t *TieredStore) persist(ctx context.Context, snap *Snapshot) {
	err := t.cold.Save(ctx, snap)
	switch {
	case err == nil:
		t.logger.Debug("snapshot persisted to cold store", zap.String("session_id", snap.ID))
	case errors.Is(err, ErrVersionConflict):
		// 冷存储已有更新的版本
		t.logger.Debug("skipped stale snapshot",
			zap.String("session_id", snap.ID),
			zap.Int("version", snap.Version))
	default:
		t.logger.Error("persist snapshot to cold store failed",
			zap.String("session_id", snap.ID),
			zap.Error(err))
	}
}

func (t *TieredStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := t.hot.Save(ctx, snap); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("store closed, snapshot not persisted to cold store",
			zap.String("session_id", snap.ID))
		return nil
	}
	select {
	case t.persistCh <- cloneSnapshot(snap):
	default:
		t.logger.Warn("persist channel full, dropping",
			zap.String("session_id", snap.ID))
	}
	return nil
}

func (t *TieredStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	snap, err := t.hot.Load(ctx, id)
	if err == nil {
		t.onLookup(true)
		return snap, nil
	}
	t.onLookup(false)
	if !errors.Is(err, ErrSessionNotFound) {
		t.logger.Warn("hot store load failed, fallback to cold store", zap.Error(err))
	}

	snap, err = t.cold.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := t.hot.Save(ctx, snap); err != nil {
		t.logger.Warn("backfill hot store failed", zap.Error(err))
	}
	return snap, nil
}

func (t *TieredStore) Delete(ctx context.Context, id string) error {
	if err := t.hot.Delete(ctx, id); err != nil {
		t.logger.Warn("hot store delete failed", zap.Error(err))
	}
	return t.cold.Delete(ctx, id)
}

// Close 停止接收新的落盘任务，并等待队列中剩余的快照写完.
func (t *TieredStore) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.persistCh)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
