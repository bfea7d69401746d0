// Copyright 2026 llamachat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供生成后端适配的公共基础层：OpenAI 兼容 API 的请求/响应
结构体、消息格式转换以及 HTTP 错误到 types.Error 的映射。

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为语义化的 types.Error（含 Retryable 标记）
  - IsResourceExhausted：识别上游的显存耗尽响应（HTTP 507 或 5xx + OOM 文本）
  - ReadErrorMessage：解析 JSON 错误体，失败时回退到原始文本
  - ConvertMessagesToOpenAI：对话轮次到 OpenAI 兼容消息的转换
*/
package providers
