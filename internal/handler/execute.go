package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/auth"
	"github.com/sakif/codeflow/internal/executor"
)

// ExecuteHandler runs code that is not tied to an editor session.
type ExecuteHandler struct {
	exec    executor.Executor
	limiter *executor.Limiter
	logger  *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler. limiter may be nil.
func NewExecuteHandler(exec executor.Executor, limiter *executor.Limiter, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:    exec,
		limiter: limiter,
		logger:  logger,
	}
}

type executeRequest struct {
	Language string `json:"language" validate:"required"`
	Code     string `json:"code" validate:"required"`
	Stdin    string `json:"stdin"`
}

// HandleExecute runs one piece of code.
//
// HTTP: POST /api/execute
// REQUEST BODY: {"language": "python", "code": "print(1)", "stdin": ""}
//
// Signed-in callers are rate limited by user id, anonymous ones by client
// address (RealIP has already rewritten RemoteAddr).
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, h.logger, err)
		return
	}

	if h.limiter != nil {
		key, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			key = "addr:" + r.RemoteAddr
		}
		if err := h.limiter.Allow(key); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	h.logger.Info("executing code snippet", slog.String("language", req.Language))

	result, err := h.exec.Execute(r.Context(), executor.Request{
		Language: req.Language,
		Code:     req.Code,
		Stdin:    req.Stdin,
	})
	if err != nil {
		if errors.Is(err, executor.ErrUnsupportedLanguage) {
			writeError(w, h.logger, apperror.ValidationFailed("language", "running "+req.Language+" is not supported"))
			return
		}
		h.logger.Error("code execution failed", slog.String("error", err.Error()))
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
