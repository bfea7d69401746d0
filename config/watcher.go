// 配置文件变更监听器实现。
//
// 轮询配置文件修改时间，变化后重新加载并回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --- 监听器类型定义 ---

// Watcher 监听单个配置文件，变化时重新加载配置
type Watcher struct {
	mu sync.RWMutex

	// 配置
	loader        *Loader
	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	lastMod  time.Time
	lastSize int64
	current  *Config

	// 回调
	callbacks []func(*Config)

	// 记录器
	logger *zap.Logger
}

// WatcherOption 配置 Watcher
type WatcherOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置检测到变化后等待写入完成的时间
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 监听器实现 ---

// NewWatcher 创建配置文件监听器. current 为当前生效的配置。
func NewWatcher(loader *Loader, current *Config, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil || loader.configPath == "" {
		return nil, fmt.Errorf("watcher requires a loader with a config path")
	}

	w := &Watcher{
		loader:        loader,
		path:          loader.configPath,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		current:       current,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(w.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", w.path, err)
	}
	return w, nil
}

// OnReload 注册配置重载回调
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Current 返回最近一次成功加载的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start 开始监听
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
	}

	go w.pollLoop(ctx, w.stopChan, w.done)

	w.logger.Info("Config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop 停止监听并等待轮询协程退出
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("Config watcher stopped")
}

// IsRunning 返回监听器是否在运行
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !w.changed() {
				continue
			}
			if w.debounceDelay > 0 {
				select {
				case <-time.After(w.debounceDelay):
				case <-ctx.Done():
					return
				case <-stop:
					return
				}
			}
			w.reload()
		}
	}
}

// changed 比较文件修改时间与大小
func (w *Watcher) changed() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	if info.ModTime().Equal(w.lastMod) && info.Size() == w.lastSize {
		return false
	}
	w.lastMod = info.ModTime()
	w.lastSize = info.Size()
	return true
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		// 保留旧配置
		w.logger.Warn("Config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Config reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// LogLevelReloader 返回将 Log.Level 应用到 level 的回调
func LogLevelReloader(level zap.AtomicLevel, logger *zap.Logger) func(*Config) {
	return func(cfg *Config) {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", cfg.Log.Level))
			return
		}
		if level.Level() != lvl {
			level.SetLevel(lvl)
			logger.Info("Log level changed", zap.String("level", lvl.String()))
		}
	}
}
