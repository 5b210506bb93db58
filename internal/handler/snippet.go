package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/codeflow/internal/model"
	"github.com/sakif/codeflow/internal/service"
)

// SnippetHandler exposes snippet CRUD over HTTP.
//
// Each handler struct "owns" one area of functionality. The handler only
// parses requests and writes responses; every rule (limits, ownership,
// duplicate titles) lives in service.SnippetService.
type SnippetHandler struct {
	snippets *service.SnippetService
	logger   *slog.Logger
}

func NewSnippetHandler(snippets *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, logger: logger}
}

// createSnippetRequest is the body of POST /api/snippets.
//
// Title and size limits are checked by the service so the same rules (and
// the invalid_title kind) apply to autosave, which never goes through this
// DTO.
type createSnippetRequest struct {
	Title      string   `json:"title"`
	Code       string   `json:"code"`
	Language   string   `json:"language" validate:"required"`
	FolderPath []string `json:"folderPath"`
	Tags       []string `json:"tags" validate:"omitempty,max=10"`
}

// updateSnippetRequest is the body of PUT /api/snippets/{id}.
type updateSnippetRequest struct {
	Title    string `json:"title"`
	Code     string `json:"code"`
	Language string `json:"language" validate:"required"`
}

// metaRequest is the body of PATCH /api/snippets/{id}/meta. Absent fields
// are left unchanged.
type metaRequest struct {
	Tags       *[]string `json:"tags" validate:"omitempty,max=10"`
	IsFavorite *bool     `json:"isFavorite"`
}

// HandleList returns the caller's snippets, newest first.
//
// HTTP: GET /api/snippets
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippets, err := h.snippets.ListByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if snippets == nil {
		// An empty list must encode as [] rather than null.
		snippets = []model.Snippet{}
	}
	writeJSON(w, http.StatusOK, snippets)
}

// HandleGet returns one snippet.
//
// HTTP: GET /api/snippets/{id}
func (h *SnippetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippet, err := h.snippets.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleCreate saves a new snippet.
//
// HTTP: POST /api/snippets
// REQUEST BODY: {"title": "...", "code": "...", "language": "go", "folderPath": ["work"]}
//
// The response carries the stored title, which may differ from the one sent
// when the title was already taken in that folder.
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req createSnippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippet, err := h.snippets.Create(r.Context(), owner, service.NewSnippet{
		Title:      req.Title,
		Code:       req.Code,
		Language:   req.Language,
		FolderPath: req.FolderPath,
		Tags:       req.Tags,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, snippet)
}

// HandleUpdate replaces title, code and language.
//
// HTTP: PUT /api/snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req updateSnippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippet, err := h.snippets.Update(r.Context(), owner, chi.URLParam(r, "id"), req.Title, req.Code, req.Language)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleUpdateMeta changes tags and the favourite flag.
//
// HTTP: PATCH /api/snippets/{id}/meta
func (h *SnippetHandler) HandleUpdateMeta(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req metaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	snippet, err := h.snippets.UpdateMetadata(r.Context(), owner, chi.URLParam(r, "id"), req.Tags, req.IsFavorite)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

// HandleDelete removes a snippet.
//
// HTTP: DELETE /api/snippets/{id}
// Returns 204 No Content on success.
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.snippets.Delete(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
