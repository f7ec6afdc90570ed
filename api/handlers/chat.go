package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/agentchorus/api"
	"github.com/BaSui01/agentchorus/conversation"
	"github.com/BaSui01/agentchorus/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 单轮对话 Handler
// =============================================================================

// RoundRunner 执行一轮多 Provider 对话
type RoundRunner interface {
	RunRound(ctx context.Context, history []types.Message, providers []string) (*conversation.RoundResult, error)
}

// ChatHandler POST /api/chat
type ChatHandler struct {
	rounds RoundRunner
	logger *zap.Logger
}

// NewChatHandler 创建单轮对话处理器
func NewChatHandler(rounds RoundRunner, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{rounds: rounds, logger: logger.With(zap.String("handler", "chat"))}
}

// HandleChat 依次询问每个选中的 Provider，单个 Provider 失败以错误条目返回。
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.rounds.RunRound(r.Context(), req.History(), req.SelectedProviders)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	failed := 0
	for _, resp := range res.Responses {
		if resp.Failed() {
			failed++
		}
	}
	h.logger.Info("round served",
		zap.Int("responses", len(res.Responses)),
		zap.Int("failed", failed),
		zap.String("directive", string(res.Directive.Kind)))

	WriteJSON(w, http.StatusOK, api.ChatResponse{Responses: res.Responses})
}
