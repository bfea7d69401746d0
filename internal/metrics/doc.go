// 版权所有 2024 llamachat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、对话、
推理后端、会话缓存与数据库连接池。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册到默认 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：实现 conversation.Observer，记录每轮对话的策略与结果、
    裁剪次数与被删除的轮次、资源耗尽后的缓存清理。
  - InstrumentedGenerator：包装 llm.Generator，按 provider 与错误码
    记录生成请求，保留被包装者的缓存清理与健康检查能力。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 对话指标：chat_requests_total{policy,outcome}、history_pruned_turns_total、
    backend_cache_clears_total、sessions_active。
  - 缓存指标：TieredStore 热存储命中与未命中。
  - 数据库指标：活跃/空闲连接数。
*/
package metrics
