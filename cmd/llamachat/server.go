package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/llamachat/api/handlers"
	"github.com/BaSui01/llamachat/config"
	"github.com/BaSui01/llamachat/internal/server"
)

// evictInterval 是空闲会话清理的周期
const evictInterval = time.Minute

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 llamachat 的主服务器
type Server struct {
	app        *app
	configPath string
	level      zap.AtomicLevel
	logger     *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager
	watcher        *config.Watcher
}

// NewServer 创建新的服务器实例
func NewServer(a *app, configPath string, level zap.AtomicLevel) *Server {
	return &Server{
		app:        a,
		configPath: configPath,
		level:      level,
		logger:     a.logger,
	}
}

// Handler 构建带中间件链的 API handler
func (s *Server) Handler(ctx context.Context) http.Handler {
	cfg := s.app.cfg
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(Version, s.logger)
	for _, check := range s.app.checks {
		health.RegisterCheck(check)
	}
	health.Register(mux)

	handlers.NewSessionHandler(s.app.registry, cfg.Server.ChatTimeout, s.logger).Register(mux)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.app.collector),
		OTelTracing(),
	}
	if cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst, s.logger))
	}
	return Chain(mux, middlewares...)
}

// Run 启动所有服务并阻塞到 ctx 取消. 任一服务异常退出时其余服务随之关闭。
func (s *Server) Run(ctx context.Context) error {
	cfg := s.app.cfg
	g, ctx := errgroup.WithContext(ctx)

	s.httpManager = server.NewManager(s.Handler(ctx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.startWatcher(ctx); err != nil {
		return err
	}
	if s.watcher != nil {
		defer s.watcher.Stop()
	}

	g.Go(func() error { return s.httpManager.Run(ctx) })
	g.Go(func() error { return s.metricsManager.Run(ctx) })
	g.Go(func() error {
		s.app.registry.Run(ctx, evictInterval)
		return nil
	})

	s.logger.Info("All servers started",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
		zap.Bool("telemetry_enabled", s.app.telemetry != nil && s.app.telemetry.Enabled()),
	)

	err := g.Wait()
	s.logger.Info("Graceful shutdown completed")
	return err
}

// startWatcher 在指定了配置文件时监听变更，目前只应用日志级别
func (s *Server) startWatcher(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}

	loader := config.NewLoader().WithConfigPath(s.configPath)
	w, err := config.NewWatcher(loader, s.app.cfg, config.WithWatcherLogger(s.logger))
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	w.OnReload(config.LogLevelReloader(s.level, s.logger))
	w.OnReload(func(*config.Config) {
		s.logger.Info("Configuration reloaded; settings other than log.level apply after restart")
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	s.watcher = w
	return nil
}
