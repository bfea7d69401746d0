package api

import (
	"time"

	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/types"
)

// =============================================================================
// 会话类型
// =============================================================================

// CreateSessionRequest 创建会话请求. 省略的字段使用服务端默认值。
type CreateSessionRequest struct {
	// 采样温度（0-2）
	Temperature *float64 `json:"temperature,omitempty" example:"0.6"`
	// 核采样参数（0-1]
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// 单次生成长度上限
	MaxGenLen *int `json:"max_gen_len,omitempty" example:"256"`
	// 历史裁剪的计数预算
	TokenLimit *int `json:"token_limit,omitempty" example:"1000"`
	// threshold 时机下触发裁剪的轮次数
	HistorySizeThreshold *int `json:"history_size_threshold,omitempty" example:"850"`
	// plain 或 directive
	Policy *conversation.Policy `json:"policy,omitempty" example:"plain"`
	// threshold 或 always
	PruneTrigger *conversation.PruneTrigger `json:"prune_trigger,omitempty" example:"threshold"`
}

// SessionResponse 会话概要
type SessionResponse struct {
	ID           string              `json:"id"`
	Config       conversation.Config `json:"config"`
	Turns        int                 `json:"turns"`
	Tokens       int                 `json:"tokens"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActiveAt time.Time           `json:"last_active_at"`
}

// SessionDetailResponse 会话概要 + 历史
type SessionDetailResponse struct {
	SessionResponse
	History []types.Message `json:"history"`
}

// SessionListResponse 会话列表
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

// =============================================================================
// 对话类型
// =============================================================================

// ChatRequest 对话请求
type ChatRequest struct {
	// 用户输入
	Message string `json:"message" example:"What is the capital of France?"`
}

// ChatResponse 对话响应. 后端失败时 Error 为 true，Reply 为 "[Error]: ..." 文本。
type ChatResponse struct {
	Reply  string `json:"reply"`
	Error  bool   `json:"error"`
	Turns  int    `json:"turns"`
	Tokens int    `json:"tokens"`
}

// =============================================================================
// WebSocket 帧
// =============================================================================

// WebSocket 帧类型
const (
	FrameChat    = "chat"
	FrameReset   = "reset"
	FrameHistory = "history"
	FrameReply   = "reply"
	FrameError   = "error"
)

// WSClientFrame 客户端发送的帧
type WSClientFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// WSServerFrame 服务端发送的帧
type WSServerFrame struct {
	Type    string          `json:"type"`
	Reply   string          `json:"reply,omitempty"`
	Error   bool            `json:"error,omitempty"`
	Turns   int             `json:"turns"`
	Tokens  int             `json:"tokens"`
	History []types.Message `json:"history,omitempty"`
	// 协议错误（无法识别的帧等），与生成失败的 Error 区分
	Detail string `json:"detail,omitempty"`
}
