// Package handler contains the HTTP request handlers.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements http.Handler:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// More commonly we use http.HandlerFunc, a function with the right
// signature that satisfies the interface. chi accepts these directly.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (path params, body, cookies)
//  2. Call the service layer
//  3. Write the response (status code, headers, JSON body)
//
// Handlers hold no business rules; they are the glue between HTTP and the
// services.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/codeflow/internal/docstore"
)

// probeCollection is never written; reading from it is a round trip that
// proves the store answers.
const probeCollection = "_health"

// HealthHandler reports whether the process and its store are usable.
type HealthHandler struct {
	store     docstore.Store
	languages []string
	assistant bool
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. languages lists what the
// executor can run (empty when execution is off) and assistant says whether
// the chat proxy has a key.
func NewHealthHandler(store docstore.Store, languages []string, assistant bool, logger *slog.Logger) *HealthHandler {
	if languages == nil {
		languages = []string{}
	}
	return &HealthHandler{store: store, languages: languages, assistant: assistant, logger: logger}
}

type healthResponse struct {
	Status    string   `json:"status"`
	Store     string   `json:"store"`
	Languages []string `json:"languages"`
	Assistant bool     `json:"assistant"`
}

// HandleHealth answers 200 when the store responds and 503 otherwise.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok", Languages: h.languages, Assistant: h.assistant}
	status := http.StatusOK

	if _, err := h.store.Get(ctx, probeCollection, "probe"); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		h.logger.Warn("health probe failed", slog.String("error", err.Error()))
		resp.Status, resp.Store = "degraded", "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
