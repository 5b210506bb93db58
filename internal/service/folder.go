package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/model"
)

const (
	FoldersCollection = "folders"
	PathSeparator     = "/"
)

// FolderID is the deterministic id of a folder: owner plus joined path.
// Deriving the id from the path is what makes EnsurePath idempotent; the
// owner prefix keeps two users' "work" folders apart.
func FolderID(owner string, path []string) string {
	return owner + ":" + strings.Join(path, PathSeparator)
}

// CleanPath trims every segment and rejects empty segments or segments
// that contain the separator.
func CleanPath(path []string) ([]string, error) {
	out := make([]string, 0, len(path))
	for _, seg := range path {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, apperror.ValidationFailed("folderPath", "folder names must not be empty")
		}
		if strings.Contains(seg, PathSeparator) {
			return nil, apperror.ValidationFailed("folderPath", "folder names must not contain "+PathSeparator)
		}
		out = append(out, seg)
	}
	return out, nil
}

// FolderResolver materialises folder paths.
//
// Folders have no parent pointers. A folder at a/b/c is valid only when
// a, a/b and a/b/c all exist as records, so EnsurePath walks every prefix
// and creates the missing ones in a single atomic batch.
type FolderResolver struct {
	store  docstore.Store
	logger *slog.Logger

	// inflight collapses concurrent EnsurePath calls for the same folder
	// (two autosaves into a new folder racing each other) into one walk.
	inflight singleflight.Group
}

func NewFolderResolver(store docstore.Store, logger *slog.Logger) *FolderResolver {
	return &FolderResolver{
		store:  store,
		logger: logger,
	}
}

// EnsurePath makes sure every prefix of path exists as a folder owned by
// owner. An empty path is a no-op. Calling it again for an existing path
// performs no writes.
func (r *FolderResolver) EnsurePath(ctx context.Context, owner string, path []string) error {
	if owner == "" {
		return apperror.Unauthenticated()
	}
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return nil
	}

	_, err, _ = r.inflight.Do(FolderID(owner, path), func() (any, error) {
		return nil, r.ensure(ctx, owner, path)
	})
	return err
}

func (r *FolderResolver) ensure(ctx context.Context, owner string, path []string) error {
	batch := r.store.Batch()

	for i := range path {
		prefix := append([]string(nil), path[:i+1]...)
		id := FolderID(owner, prefix)

		_, err := r.store.Get(ctx, FoldersCollection, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return apperror.StoreUnavailable("checking folder", err)
		}

		batch.Set(FoldersCollection, id, docstore.Fields{
			"name":       prefix[len(prefix)-1],
			"path":       prefix,
			"user_id":    owner,
			"created_at": docstore.ServerTimestamp,
			"updated_at": docstore.ServerTimestamp,
		})
	}

	// Never issue an empty commit.
	if batch.Len() == 0 {
		return nil
	}

	created := batch.Len()
	if err := batch.Commit(ctx); err != nil {
		r.logger.Error("failed to create folders",
			slog.String("owner", owner),
			slog.String("path", strings.Join(path, PathSeparator)),
			slog.String("error", err.Error()),
		)
		return apperror.StoreUnavailable("creating folders", err)
	}

	r.logger.Info("folders created",
		slog.String("owner", owner),
		slog.String("path", strings.Join(path, PathSeparator)),
		slog.Int("created", created),
	)
	return nil
}

// List returns the owner's folders sorted by joined path, so parents come
// before their children.
func (r *FolderResolver) List(ctx context.Context, owner string) ([]model.Folder, error) {
	if owner == "" {
		return nil, apperror.Unauthenticated()
	}

	docs, err := r.store.Query(ctx, FoldersCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("user_id", owner)},
	})
	if err != nil {
		return nil, apperror.StoreUnavailable("listing folders", err)
	}

	folders := make([]model.Folder, 0, len(docs))
	for _, doc := range docs {
		folders = append(folders, folderFromDoc(doc))
	}
	sort.Slice(folders, func(i, j int) bool {
		return strings.Join(folders[i].Path, PathSeparator) < strings.Join(folders[j].Path, PathSeparator)
	})
	return folders, nil
}

func folderFromDoc(doc docstore.Document) model.Folder {
	return model.Folder{
		ID:        doc.ID,
		Name:      doc.Fields.String("name"),
		Path:      doc.Fields.Strings("path"),
		OwnerID:   doc.Fields.String("user_id"),
		CreatedAt: doc.Fields.Time("created_at"),
		UpdatedAt: doc.Fields.Time("updated_at"),
	}
}
