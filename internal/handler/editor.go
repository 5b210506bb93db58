package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/editor"
	"github.com/sakif/codeflow/internal/executor"
	"github.com/sakif/codeflow/internal/model"
)

// EditorHandler drives the caller's editor session.
//
// SERVER-SIDE SESSIONS:
// The SPA does not save snippets itself. It streams draft edits to
// PUT /api/editor/draft and the session's autosave coordinator decides when
// to write. Every response carries the session View, so the client can show
// the idle/pending/saving state and the saved/unsaved badge without a
// separate poll.
type EditorHandler struct {
	sessions *editor.Manager
	logger   *slog.Logger
}

func NewEditorHandler(sessions *editor.Manager, logger *slog.Logger) *EditorHandler {
	return &EditorHandler{sessions: sessions, logger: logger}
}

// editorState is the body of GET /api/editor.
type editorState struct {
	editor.View
	Snippets []model.Snippet `json:"snippets"`
}

// draftRequest mirrors editor.Edit: absent fields are left unchanged.
type draftRequest struct {
	Title      *string   `json:"title"`
	Code       *string   `json:"code"`
	Language   *string   `json:"language"`
	FolderPath *[]string `json:"folderPath"`
}

type newDraftRequest struct {
	Language string `json:"language"`
}

type autosaveRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type runRequest struct {
	Stdin string `json:"stdin"`
}

type saveResponse struct {
	editor.View
	Snippet *model.Snippet `json:"snippet"`
}

type runResponse struct {
	editor.View
	Result *executor.Result `json:"result"`
}

// session resolves the caller's session, writing the error response when
// there is none.
func (h *EditorHandler) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	s, err := h.sessions.Session(owner)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

// HandleGet returns the session view and the snippet list for the sidebar.
//
// HTTP: GET /api/editor
func (h *EditorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	snippets, err := s.Snippets(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if snippets == nil {
		snippets = []model.Snippet{}
	}
	writeJSON(w, http.StatusOK, editorState{View: s.View(), Snippets: snippets})
}

// HandleDraft applies an edit. It never writes to the store directly; it
// only (re)arms the autosave timer when the draft is eligible.
//
// HTTP: PUT /api/editor/draft
// folderPath is only accepted before the first save; sending it while a
// snippet is open answers 400 validation_error.
func (h *EditorHandler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req draftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.FolderPath != nil && s.Selected() != "" {
		writeError(w, h.logger, apperror.ValidationFailed("folderPath", "a saved snippet cannot change folders"))
		return
	}

	view := s.Edit(editor.Edit{
		Title:      req.Title,
		Code:       req.Code,
		Language:   req.Language,
		FolderPath: req.FolderPath,
	})
	writeJSON(w, http.StatusOK, view)
}

// HandleSave is the manual save button.
//
// HTTP: POST /api/editor/save
// A draft without a title answers 400 invalid_title.
func (h *EditorHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	snippet, err := s.Save(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{View: s.View(), Snippet: snippet})
}

// HandleNew opens a blank draft from the language template. Pending
// changes to the current draft are saved first.
//
// HTTP: POST /api/editor/new
// REQUEST BODY (optional): {"language": "python"}
func (h *EditorHandler) HandleNew(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req newDraftRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	view, err := s.New(r.Context(), req.Language)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleSelect loads a saved snippet into the draft.
//
// HTTP: POST /api/editor/select/{id}
func (h *EditorHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	view, err := s.Select(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleAutosave toggles autosave for the session.
//
// HTTP: PUT /api/editor/autosave
// REQUEST BODY: {"enabled": false}
func (h *EditorHandler) HandleAutosave(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req autosaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.SetAutosave(*req.Enabled))
}

// HandleRun executes the current draft.
//
// HTTP: POST /api/editor/run
// REQUEST BODY (optional): {"stdin": "..."}
func (h *EditorHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req runRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	res, err := s.Run(r.Context(), req.Stdin)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{View: s.View(), Result: res})
}

// HandleDelete deletes a snippet from the sidebar. Deleting the open
// snippet clears the draft.
//
// HTTP: DELETE /api/editor/snippets/{id}
func (h *EditorHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}
