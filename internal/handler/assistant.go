package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/assistant"
)

// Chatter is the part of assistant.Client the handler uses.
type Chatter interface {
	Chat(ctx context.Context, req assistant.ChatRequest) (*assistant.ChatReply, error)
}

// AssistantHandler proxies chat messages to the LLM. The API key stays on
// the server; the browser only ever talks to this endpoint.
type AssistantHandler struct {
	chat   Chatter
	logger *slog.Logger
}

func NewAssistantHandler(chat Chatter, logger *slog.Logger) *AssistantHandler {
	return &AssistantHandler{chat: chat, logger: logger}
}

// HandleChat forwards one message with its conversation history.
//
// HTTP: POST /api/assistant/chat
// REQUEST BODY: {"message": "...", "conversationHistory": [...], "systemInstruction": "..."}
// RESPONSE:     {"response": "...", "timestamp": "..."}
//
// Length checks live in the client so every caller gets them.
func (h *AssistantHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	reply, err := h.chat.Chat(r.Context(), req)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) || errors.Is(err, assistant.ErrNotConfigured) {
			writeError(w, h.logger, err)
			return
		}
		// Anything else came from the model API.
		h.logger.Error("assistant call failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "upstream_error",
			Message: "Failed to get AI response",
		})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
