package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/llamachat/api"
	"github.com/BaSui01/llamachat/session"
	"github.com/BaSui01/llamachat/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 会话接口 Handler
// =============================================================================

// SessionHandler 会话与对话接口处理器
type SessionHandler struct {
	registry    *session.Registry
	chatTimeout time.Duration
	logger      *zap.Logger
}

// NewSessionHandler 创建会话处理器. chatTimeout 为 0 时不限制单轮耗时。
func NewSessionHandler(registry *session.Registry, chatTimeout time.Duration, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		registry:    registry,
		chatTimeout: chatTimeout,
		logger:      logger.With(zap.String("handler", "session")),
	}
}

// Register 注册路由
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions", h.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/chat", h.HandleChat)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", h.HandleReset)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ws", h.HandleWebSocket)
}

// HandleCreate 创建会话
// @Summary 创建会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.CreateSessionRequest false "会话参数"
// @Success 201 {object} api.SessionResponse
// @Failure 400 {object} Response "参数无效"
// @Failure 429 {object} Response "会话数已达上限"
// @Router /api/v1/sessions [post]
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if r.Body != nil && r.Body != http.NoBody {
		if !ValidateContentType(w, r, h.logger) {
			return
		}
	}
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}

	s, err := h.registry.Create(r.Context(), &session.Overrides{
		Temperature:          req.Temperature,
		TopP:                 req.TopP,
		MaxGenLen:            req.MaxGenLen,
		TokenLimit:           req.TokenLimit,
		HistorySizeThreshold: req.HistorySizeThreshold,
		Policy:               req.Policy,
		PruneTrigger:         req.PruneTrigger,
	})
	if err != nil {
		WriteError(w, r, ToAPIError(err), h.logger)
		return
	}

	WriteCreated(w, r, toSessionResponse(s.Info()))
}

// HandleList 列出内存中的会话
// @Summary 会话列表
// @Tags 会话
// @Produce json
// @Success 200 {object} api.SessionListResponse
// @Router /api/v1/sessions [get]
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.List()
	resp := api.SessionListResponse{
		Sessions: make([]api.SessionResponse, 0, len(infos)),
		Total:    len(infos),
	}
	for _, info := range infos {
		resp.Sessions = append(resp.Sessions, toSessionResponse(info))
	}
	WriteSuccess(w, r, resp)
}

// HandleGet 返回会话概要与历史
// @Summary 会话详情
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} api.SessionDetailResponse
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, api.SessionDetailResponse{
		SessionResponse: toSessionResponse(s.Info()),
		History:         s.History(),
	})
}

// HandleDelete 删除会话
// @Summary 删除会话
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 204
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/sessions/{id} [delete]
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, ToAPIError(err), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChat 执行一轮对话
// @Summary 对话
// @Description 后端失败时仍返回 200，error 为 true
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.ChatRequest true "用户输入"
// @Success 200 {object} api.ChatResponse
// @Failure 400 {object} Response "空消息"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/sessions/{id}/chat [post]
func (h *SessionHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "message is required", h.logger)
		return
	}

	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.chatContext(r.Context())
	defer cancel()

	start := time.Now()
	res := s.Chat(ctx, req.Message)

	h.logger.Info("chat turn",
		zap.String("session_id", s.ID()),
		zap.Bool("error", res.IsError),
		zap.Int("turns", res.Turns),
		zap.Int("tokens", res.Tokens),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, r, toChatResponse(res))
}

// HandleReset 清空会话历史
// @Summary 清空历史
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} api.SessionResponse
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/sessions/{id}/reset [post]
func (h *SessionHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Reset(r.Context()); err != nil {
		WriteError(w, r, ToAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, r, toSessionResponse(s.Info()))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return nil, false
	}
	s, err := h.registry.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, ToAPIError(err), h.logger)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) chatContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.chatTimeout > 0 {
		return context.WithTimeout(parent, h.chatTimeout)
	}
	return context.WithCancel(parent)
}

func toSessionResponse(info session.Info) api.SessionResponse {
	return api.SessionResponse{
		ID:           info.ID,
		Config:       info.Config,
		Turns:        info.Turns,
		Tokens:       info.Tokens,
		CreatedAt:    info.CreatedAt,
		LastActiveAt: info.LastActiveAt,
	}
}

func toChatResponse(res session.Result) api.ChatResponse {
	return api.ChatResponse{
		Reply:  res.Reply,
		Error:  res.IsError,
		Turns:  res.Turns,
		Tokens: res.Tokens,
	}
}
