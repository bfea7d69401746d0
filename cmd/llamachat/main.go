// =============================================================================
// llamachat 主入口
// =============================================================================
// 会话服务入口点，包含 HTTP/WebSocket 服务、终端对话、健康检查、Prometheus 指标
//
// 使用方法:
//
//	llamachat serve                       # 启动服务
//	llamachat serve --config config.yaml  # 指定配置文件
//	llamachat chat                        # 终端对话
//	llamachat version                     # 显示版本信息
//	llamachat health                      # 健康检查
// =============================================================================

// @title llamachat API
// @version 1.0.0
// @description Conversation-history manager in front of a llama generation backend.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:7860
// @BasePath /
// @schemes http https

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/llamachat/config"
	"github.com/BaSui01/llamachat/internal/metrics"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

// metricsNamespace 是 Prometheus 指标前缀
const metricsNamespace = "llamachat"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置，失败时退出进程
func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting llamachat",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, metrics.NewCollector(metricsNamespace, logger))
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	srv := NewServer(a, *configPath, level)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		a.Close()
		os.Exit(1)
	}

	logger.Info("llamachat stopped")
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	policy := fs.String("policy", "", "Override session policy (plain or directive)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *policy != "" {
		cfg.Session.Policy = *policy
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
			os.Exit(1)
		}
	}

	// 终端对话时日志只写 stderr，避免与回复混在一起
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, metrics.NewCollector(metricsNamespace, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	s, err := a.registry.Create(ctx, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create session: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stdout, "[System]: Generator initialized successfully.")
	if err := NewREPL(s, os.Stdin, os.Stdout).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:7860", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("llamachat %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`llamachat - conversation history manager for llama backends

Usage:
  llamachat <command> [options]

Commands:
  serve     Start the HTTP/WebSocket server
  chat      Chat with the backend in the terminal
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'chat':
  --config <path>   Path to configuration file (YAML)
  --policy <name>   plain or directive

Chat commands:
  /reset     Clear the conversation history
  /history   Print the stored turns
  /quit      Exit

Examples:
  llamachat serve
  llamachat serve --config /etc/llamachat/config.yaml
  llamachat chat --policy directive
  llamachat health --addr http://localhost:7860
  llamachat version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 构建 logger. 返回的 AtomicLevel 供配置热更新调整级别。
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err == nil {
		level.SetLevel(lvl)
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, level
}
