package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/codeflow/internal/model"
	"github.com/sakif/codeflow/internal/service"
)

type FolderHandler struct {
	folders *service.FolderResolver
	logger  *slog.Logger
}

func NewFolderHandler(folders *service.FolderResolver, logger *slog.Logger) *FolderHandler {
	return &FolderHandler{folders: folders, logger: logger}
}

type ensureFolderRequest struct {
	Path []string `json:"path" validate:"required,min=1"`
}

// HandleList returns the caller's folders, parents before children.
//
// HTTP: GET /api/folders
func (h *FolderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	folders, err := h.folders.List(r.Context(), owner)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if folders == nil {
		folders = []model.Folder{}
	}
	writeJSON(w, http.StatusOK, folders)
}

// HandleEnsure creates every missing folder along a path. Calling it for a
// path that already exists is a no-op and still answers 200.
//
// HTTP: POST /api/folders
// REQUEST BODY: {"path": ["work", "go"]}
func (h *FolderHandler) HandleEnsure(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req ensureFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	path, err := service.CleanPath(req.Path)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.folders.EnsurePath(r.Context(), owner, path); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   service.FolderID(owner, path),
		"path": path,
	})
}
