// Copyright 2026 llamachat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package main 提供 llamachat 服务端与终端程序入口。

# 子命令

  - serve    启动 HTTP/WebSocket API 与独立端口的 /metrics
  - chat     在终端与单个会话对话（/reset、/history、/quit）
  - version  打印构建注入的 Version、BuildTime、GitCommit
  - health   请求运行中服务的 /health

# 组装

buildApp 按 session.store 选择快照存储（memory、redis、database、tiered），
把 llama 推理后端包装成带指标的 Generator，并创建会话注册表。
Server 用 errgroup 同时运行 API 服务、metrics 服务与空闲会话清理，
任一退出时其余随之优雅关闭。

中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、MetricsMiddleware、OTelTracing、
RateLimiter（基于 IP，rate_limit_rps 为 0 时关闭）。

指定 --config 时 config.Watcher 监听文件变化，log.level 立即生效，
其余配置需重启。
*/
package main
