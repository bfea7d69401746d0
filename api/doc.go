// Package api 定义 llamachat HTTP/WebSocket 接口的请求与响应结构。
//
// # API 概览
//
//	POST   /api/v1/sessions              创建会话
//	GET    /api/v1/sessions              列出内存中的会话
//	GET    /api/v1/sessions/{id}         会话概要与历史
//	DELETE /api/v1/sessions/{id}         删除会话及其快照
//	POST   /api/v1/sessions/{id}/chat    执行一轮对话
//	POST   /api/v1/sessions/{id}/reset   清空历史
//	GET    /api/v1/sessions/{id}/ws      WebSocket 对话
//	GET    /health, /healthz, /ready     健康检查
//
// 对话接口在后端失败时仍返回 200，回复文本以 "[Error]:" 开头且 error 为 true；
// 只有请求本身无效（空消息、会话不存在等）才返回 4xx。
package api
