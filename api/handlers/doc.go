// Copyright 2026 llamachat Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package handlers 提供 llamachat HTTP API 的请求处理器实现。

# 核心类型

  - SessionHandler   会话创建、查询、删除、对话、清空历史与 WebSocket 对话
  - HealthHandler    存活与就绪检查（/health, /healthz, /ready, /readyz）
  - Response         统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   包装 http.ResponseWriter 以捕获状态码与响应大小

对话接口把后端失败视为一次正常的回复：HTTP 状态仍为 200，
响应中 error 为 true，reply 以 "[Error]:" 开头。
只有请求本身无效（空消息、会话不存在）才返回 4xx。

ErrorCode 到 HTTP 状态码的映射见 mapErrorCodeToHTTPStatus。
*/
package handlers
