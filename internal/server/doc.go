// 版权所有 2024 llamachat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
llamachat 用两个 Manager 分别承载对话 API 与 Prometheus /metrics。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时。
    WriteTimeout 需覆盖单次生成的最长耗时。

# 主要能力

  - Start：后台 goroutine 中运行服务。
  - Run：阻塞直到 ctx 取消或服务异常，适合放进 errgroup。
  - Shutdown：在配置的超时内排空请求，重复调用安全。
*/
package server
