package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/llamachat/api"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// HandleWebSocket 在一条 WebSocket 连接上进行多轮对话.
// 会话不存在时在升级前返回 404。
// @Summary WebSocket 对话
// @Tags 会话
// @Param id path string true "会话 ID"
// @Router /api/v1/sessions/{id}/ws [get]
func (h *SessionHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	// 连接期间会话保持在内存中
	release := s.Acquire()
	defer release()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	logger := h.logger.With(zap.String("session_id", s.ID()))
	logger.Debug("websocket connected")

	ctx := r.Context()
	for {
		var frame api.WSClientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Debug("websocket closed by client")
			} else if !errors.Is(err, ctx.Err()) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var out api.WSServerFrame
		switch frame.Type {
		case api.FrameChat:
			if strings.TrimSpace(frame.Message) == "" {
				out = api.WSServerFrame{Type: api.FrameError, Detail: "message is required"}
				break
			}
			chatCtx, cancel := h.chatContext(ctx)
			res := s.Chat(chatCtx, frame.Message)
			cancel()
			out = api.WSServerFrame{
				Type:   api.FrameReply,
				Reply:  res.Reply,
				Error:  res.IsError,
				Turns:  res.Turns,
				Tokens: res.Tokens,
			}
		case api.FrameReset:
			if err := s.Reset(ctx); err != nil {
				out = api.WSServerFrame{Type: api.FrameError, Detail: err.Error()}
				break
			}
			info := s.Info()
			out = api.WSServerFrame{Type: api.FrameReset, Turns: info.Turns, Tokens: info.Tokens}
		case api.FrameHistory:
			info := s.Info()
			out = api.WSServerFrame{Type: api.FrameHistory, History: s.History(), Turns: info.Turns, Tokens: info.Tokens}
		default:
			out = api.WSServerFrame{Type: api.FrameError, Detail: "unknown frame type: " + frame.Type}
		}

		if err := wsjson.Write(ctx, conn, out); err != nil {
			logger.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}
