package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llamachat/api/handlers"
	"github.com/BaSui01/llamachat/config"
	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/internal/cache"
	"github.com/BaSui01/llamachat/internal/database"
	"github.com/BaSui01/llamachat/internal/metrics"
	"github.com/BaSui01/llamachat/internal/telemetry"
	"github.com/BaSui01/llamachat/llm"
	"github.com/BaSui01/llamachat/llm/providers"
	"github.com/BaSui01/llamachat/llm/providers/llama"
	"github.com/BaSui01/llamachat/llm/tokenizer"
	"github.com/BaSui01/llamachat/session"
)

const (
	// sessionCacheType 是会话热存储命中指标的标签
	sessionCacheType = "session"
	// tieredBuffer 是冷存储异步落盘队列长度
	tieredBuffer = 256
	// backendHealthInterval 是 Redis 与数据库连接的后台检查间隔
	backendHealthInterval = 30 * time.Second
)

// app 持有 serve 与 chat 共用的组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	telemetry *telemetry.Providers
	provider  *llama.Provider
	registry  *session.Registry
	tiered    *session.TieredStore
	checks    []handlers.HealthCheck

	// closers 按注册的逆序执行
	closers []func()
}

// buildApp 按配置组装推理后端、会话存储与会话注册表
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (_ *app, err error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		a.telemetry = otelProviders
		a.onClose(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown error", zap.Error(err))
			}
		})
	}

	counter, err := tokenizer.New(cfg.Session.Tokenizer, cfg.Session.TokenizerModel, logger)
	if err != nil {
		return nil, err
	}

	a.provider = llama.New(cfg.LLM.ToLlama(), logger, llama.WithTokenCounter(counter))
	instrumented := metrics.InstrumentGenerator(a.provider, a.provider.Name(), a.collector)
	a.checks = append(a.checks, handlers.NewGeneratorCheck(instrumented))

	// 每次尝试都计入后端指标
	var generator llm.Generator = instrumented
	if cfg.LLM.MaxRetries > 0 {
		generator = providers.NewRetryableGenerator(instrumented, cfg.LLM.ToRetry(), logger)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	opts := []session.RegistryOption{
		session.WithManagerOptions(
			conversation.WithObserver(a.collector),
			conversation.WithTokenCounter(counter),
		),
		session.WithMaxSessions(cfg.Session.MaxSessions),
		session.WithPromptLimit(cfg.LLM.MaxSeqLen),
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithActiveCount(a.collector.SetActiveSessions),
		session.WithRegistryLogger(logger),
	}
	if store != nil {
		opts = append(opts, session.WithStore(store))
	}

	a.registry, err = session.NewRegistry(generator, cfg.Session.ToConversation(), opts...)
	if err != nil {
		return nil, err
	}

	logger.Info("session registry ready",
		zap.String("store", cfg.Session.Store),
		zap.String("policy", cfg.Session.Policy),
		zap.String("tokenizer", counter.Name()),
		zap.String("backend", cfg.LLM.BaseURL),
	)
	return a, nil
}

// openStore 按 session.store 创建快照存储. memory 与未配置时返回进程内存储。
func (a *app) openStore(ctx context.Context) (session.Store, error) {
	switch a.cfg.Session.Store {
	case "", config.StoreMemory:
		return session.NewMemoryStore(), nil
	case config.StoreRedis:
		return a.openRedisStore()
	case config.StoreDatabase:
		return a.openGormStore()
	case config.StoreTiered:
		hot, err := a.openRedisStore()
		if err != nil {
			return nil, err
		}
		cold, err := a.openGormStore()
		if err != nil {
			return nil, err
		}
		a.tiered = session.NewTieredStore(hot, cold, tieredBuffer, a.logger).
			OnLookup(a.collector.CacheLookup(sessionCacheType))
		a.tiered.Start(ctx)
		a.onClose(a.tiered.Close)
		return a.tiered, nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", a.cfg.Session.Store)
	}
}

func (a *app) openRedisStore() (*session.RedisStore, error) {
	rc := a.cfg.Redis
	manager, err := cache.NewManager(cache.Config{
		Addr:                rc.Addr,
		Password:            rc.Password,
		DB:                  rc.DB,
		MaxRetries:          3,
		PoolSize:            rc.PoolSize,
		MinIdleConns:        rc.MinIdleConns,
		TLS:                 rc.TLS,
		HealthCheckInterval: backendHealthInterval,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := manager.Close(); err != nil {
			a.logger.Warn("redis close error", zap.Error(err))
		}
	})
	a.checks = append(a.checks, handlers.NewPingCheck("redis", manager.Ping))

	return session.NewRedisStore(manager.Client(), a.cfg.Session.RedisKeyPrefix, a.cfg.Session.RedisTTL, a.logger), nil
}

func (a *app) openGormStore() (*session.GormStore, error) {
	dc := a.cfg.Database
	db, err := database.Open(dc.Driver, dc.DSN(), a.logger)
	if err != nil {
		return nil, err
	}

	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:        dc.MaxIdleConns,
		MaxOpenConns:        dc.MaxOpenConns,
		ConnMaxLifetime:     dc.ConnMaxLifetime,
		ConnMaxIdleTime:     2 * dc.ConnMaxLifetime,
		HealthCheckInterval: backendHealthInterval,
	}, a.logger, func(stats database.PoolStats) {
		a.collector.RecordDBConnections(dc.Driver, stats.OpenConnections, stats.Idle)
	})
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	a.onClose(func() {
		if err := pool.Close(); err != nil {
			a.logger.Warn("database close error", zap.Error(err))
		}
	})
	a.checks = append(a.checks, handlers.NewPingCheck("database", pool.Ping))

	store := session.NewGormStore(pool.DB(), a.logger)
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate session table: %w", err)
	}
	return store, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close 释放所有组件，可重复调用
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
