package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func newTestWatcher(t *testing.T, content string) (*Watcher, string) {
	t.Helper()
	path := writeConfig(t, content)
	loader := NewLoader().WithConfigPath(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, cfg,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(0),
		WithWatcherLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	return w, path
}

// 修改内容并推进修改时间，避免文件系统时间精度导致漏检
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher(NewLoader(), DefaultConfig())
	assert.Error(t, err)

	_, err = NewWatcher(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestWatcher_StartStop(t *testing.T) {
	w, _ := newTestWatcher(t, "log:\n  level: info\n")

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	w.Stop()
	assert.False(t, w.IsRunning())
	w.Stop()
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	w, path := newTestWatcher(t, "log:\n  level: info\n")

	var reloads atomic.Int32
	var level atomic.Value
	w.OnReload(func(cfg *Config) {
		level.Store(cfg.Log.Level)
		reloads.Add(1)
	})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	rewrite(t, path, "log:\n  level: debug\n")

	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "debug", level.Load())
	assert.Equal(t, "debug", w.Current().Log.Level)
}

func TestWatcher_KeepsConfigOnInvalidReload(t *testing.T) {
	w, path := newTestWatcher(t, "log:\n  level: info\n")

	var reloads atomic.Int32
	w.OnReload(func(*Config) { reloads.Add(1) })

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	rewrite(t, path, "server:\n  http_port: 0\n")

	// 校验失败不触发回调
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, reloads.Load())
	assert.Equal(t, 7860, w.Current().Server.HTTPPort)
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	w, _ := newTestWatcher(t, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	// Stop 等待轮询协程退出，不应阻塞
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after context cancel")
	}
}

func TestLogLevelReloader(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	apply := LogLevelReloader(level, zaptest.NewLogger(t))

	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	apply(cfg)
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	cfg.Log.Level = "loud"
	apply(cfg)
	assert.Equal(t, zapcore.DebugLevel, level.Level())
}
