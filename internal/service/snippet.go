// Package service contains the business rules of the application.
//
// THE LAYERS:
//
//	Handler (HTTP)      → parses requests, writes responses
//	Service (rules)     → validates, checks ownership, orchestrates
//	docstore.Store      → reads/writes documents (SQLite or MongoDB)
//
// Services take a docstore.Store interface, never a concrete backend, so
// tests run against an in-memory SQLite store or a fake that injects
// failures, and main.go picks the real backend from config.
//
// OWNERSHIP:
// Every operation takes the acting user's id as an explicit owner argument.
// An empty owner means nobody is signed in and fails with Unauthenticated
// before anything touches the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/model"
)

const (
	SnippetsCollection = "snippets"

	MaxTitleLength = 200    // characters
	MaxCodeBytes   = 100000 // ~100KB
	MaxTags        = 10
	MaxTagLength   = 50

	// legacyOwnerField is the owner field written by older clients.
	// cmd/migrate rewrites it to user_id.
	legacyOwnerField = "userId"

	// maxTitleAttempts bounds the -N counter used when a disambiguated
	// title is itself taken.
	maxTitleAttempts = 50
)

// Languages lists the editor languages a snippet may be saved with.
var Languages = []string{
	"javascript", "typescript", "python", "java", "c", "cpp", "csharp", "go",
	"rust", "ruby", "php", "kotlin", "swift", "r", "sql", "bash",
}

// SnippetListIndex is the composite index ListByOwner's ordered query
// needs. Backends that require declared indexes get it from the server
// wiring; without it ListByOwner sorts in memory.
var SnippetListIndex = docstore.Index{
	Collection: SnippetsCollection,
	Fields:     []string{"user_id"},
	OrderBy:    "created_at",
}

// NewSnippet is the input to SnippetService.Create.
type NewSnippet struct {
	Title      string
	Code       string
	Language   string
	FolderPath []string
	Tags       []string
}

// SnippetService owns snippet validation, duplicate-title handling and
// ownership checks.
type SnippetService struct {
	store   docstore.Store
	folders *FolderResolver
	logger  *slog.Logger
	now     func() time.Time
}

func NewSnippetService(store docstore.Store, folders *FolderResolver, logger *slog.Logger) *SnippetService {
	return &SnippetService{
		store:   store,
		folders: folders,
		logger:  logger,
		now:     time.Now,
	}
}

// Create validates and saves a new snippet.
//
// If the owner already has a snippet with the same title in the same
// folder, the new one is saved under a timestamped title instead:
//
//	"scratch" → "scratch (2024-01-01T00-00-00)"
//
// The title the user typed is kept in OriginalTitle. Folders on the path are
// created first, so a snippet never references a folder that does not exist.
func (s *SnippetService) Create(ctx context.Context, owner string, in NewSnippet) (*model.Snippet, error) {
	// === VALIDATION (before any store call) ===
	if owner == "" {
		return nil, apperror.Unauthenticated()
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if err := validateCode(in.Code); err != nil {
		return nil, err
	}
	if err := validateLanguage(in.Language); err != nil {
		return nil, err
	}
	tags, err := validateTags(in.Tags)
	if err != nil {
		return nil, err
	}
	path, err := CleanPath(in.FolderPath)
	if err != nil {
		return nil, err
	}
	folder := strings.Join(path, PathSeparator)

	// === DUPLICATE TITLES ===
	finalTitle, err := s.uniqueTitle(ctx, owner, folder, title)
	if err != nil {
		return nil, err
	}

	// === FOLDERS, THEN THE SNIPPET ===
	if len(path) > 0 {
		if err := s.folders.EnsurePath(ctx, owner, path); err != nil {
			return nil, err
		}
	}

	doc, err := s.store.Add(ctx, SnippetsCollection, docstore.Fields{
		"title":          finalTitle,
		"code":           in.Code,
		"language":       in.Language,
		"user_id":        owner,
		"folder":         folder,
		"folder_path":    path,
		"tags":           tags,
		"is_favorite":    false,
		"original_title": title,
		"created_at":     docstore.ServerTimestamp,
		"updated_at":     docstore.ServerTimestamp,
	})
	if err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return nil, apperror.StoreUnavailable("creating snippet", err)
	}

	snippet := snippetFromDoc(*doc)
	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.String("title", snippet.Title),
		slog.String("folder", folder),
	)
	return &snippet, nil
}

// Get returns a snippet owned by owner.
func (s *SnippetService) Get(ctx context.Context, owner, id string) (*model.Snippet, error) {
	if owner == "" {
		return nil, apperror.Unauthenticated()
	}
	snippet, err := s.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return snippet, nil
}

// Update replaces title, code and language of an existing snippet and
// refreshes its updated timestamp. Titles are not disambiguated here; only
// Create does that.
func (s *SnippetService) Update(ctx context.Context, owner, id, title, code, language string) (*model.Snippet, error) {
	if owner == "" {
		return nil, apperror.Unauthenticated()
	}
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if err := validateLanguage(language); err != nil {
		return nil, err
	}

	if _, err := s.load(ctx, owner, id); err != nil {
		return nil, err
	}

	doc, err := s.store.Update(ctx, SnippetsCollection, id, docstore.Fields{
		"title":      title,
		"code":       code,
		"language":   language,
		"updated_at": docstore.ServerTimestamp,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperror.NotFound("snippet", id)
		}
		s.logger.Error("failed to update snippet",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, apperror.StoreUnavailable("updating snippet", err)
	}

	snippet := snippetFromDoc(*doc)
	s.logger.Info("snippet updated",
		slog.String("id", snippet.ID),
		slog.String("title", snippet.Title),
	)
	return &snippet, nil
}

// UpdateMetadata changes tags and/or the favourite flag. Nil arguments are
// left untouched.
func (s *SnippetService) UpdateMetadata(ctx context.Context, owner, id string, tags *[]string, favorite *bool) (*model.Snippet, error) {
	if owner == "" {
		return nil, apperror.Unauthenticated()
	}
	patch := docstore.Fields{"updated_at": docstore.ServerTimestamp}
	if tags != nil {
		cleaned, err := validateTags(*tags)
		if err != nil {
			return nil, err
		}
		patch["tags"] = cleaned
	}
	if favorite != nil {
		patch["is_favorite"] = *favorite
	}

	if _, err := s.load(ctx, owner, id); err != nil {
		return nil, err
	}

	doc, err := s.store.Update(ctx, SnippetsCollection, id, patch)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, apperror.StoreUnavailable("updating snippet metadata", err)
	}
	snippet := snippetFromDoc(*doc)
	return &snippet, nil
}

// Delete removes a snippet. It is read-verify-then-write: the record is
// loaded and its owner checked before the delete is issued, so a failed
// check never reaches the store as a write.
func (s *SnippetService) Delete(ctx context.Context, owner, id string) error {
	if owner == "" {
		return apperror.Unauthenticated()
	}
	if _, err := s.load(ctx, owner, id); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, SnippetsCollection, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return apperror.NotFound("snippet", id)
		}
		return apperror.StoreUnavailable("deleting snippet", err)
	}

	s.logger.Info("snippet deleted", slog.String("id", id), slog.String("owner", owner))
	return nil
}

// ListByOwner returns the owner's snippets, newest first.
//
// The preferred query filters by owner and orders by created_at, which a
// document store only serves from a composite index. Without one the store
// answers ErrIndexRequired; we then fetch unordered and sort here by the
// most recent of updated/created. This fallback is required behaviour:
// deployments without the index must still get a sorted list.
//
// Documents that still carry the legacy userId field are fetched with a
// second query and merged in by id, and the merged list is sorted by
// activity.
func (s *SnippetService) ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error) {
	if owner == "" {
		return nil, apperror.Unauthenticated()
	}
	snippets, sorted, err := s.listCanonical(ctx, owner)
	if err != nil {
		return nil, err
	}

	legacy, err := s.store.Query(ctx, SnippetsCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where(legacyOwnerField, owner)},
	})
	if err != nil {
		s.logger.Error("failed to list unmigrated snippets",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return nil, apperror.StoreUnavailable("listing snippets", err)
	}

	seen := make(map[string]struct{}, len(snippets))
	for _, sn := range snippets {
		seen[sn.ID] = struct{}{}
	}
	for _, doc := range legacy {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		snippets = append(snippets, snippetFromDoc(doc))
		sorted = false
	}
	if !sorted {
		SortByActivity(snippets)
	}
	return snippets, nil
}

// listCanonical lists documents carrying user_id, newest first. sorted is
// false when the store could not order them and the caller must.
func (s *SnippetService) listCanonical(ctx context.Context, owner string) (snippets []model.Snippet, sorted bool, err error) {
	byOwner := []docstore.Filter{docstore.Where("user_id", owner)}

	docs, err := s.store.Query(ctx, SnippetsCollection, docstore.Query{
		Filters: byOwner,
		Order:   &docstore.Order{Field: "created_at", Desc: true},
	})
	if err == nil {
		return snippetsFromDocs(docs), true, nil
	}
	if !errors.Is(err, docstore.ErrIndexRequired) {
		s.logger.Error("failed to list snippets",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return nil, false, apperror.StoreUnavailable("listing snippets", err)
	}

	s.logger.Warn("ordered snippet query needs an index, sorting locally",
		slog.String("owner", owner),
	)
	docs, err = s.store.Query(ctx, SnippetsCollection, docstore.Query{Filters: byOwner})
	if err != nil {
		return nil, false, apperror.StoreUnavailable("listing snippets", err)
	}
	return snippetsFromDocs(docs), false, nil
}

// SortByActivity orders snippets by most recent activity, newest first.
// Ties keep their incoming order.
func SortByActivity(snippets []model.Snippet) {
	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].LastActivity().After(snippets[j].LastActivity())
	})
}

// load fetches a snippet and enforces ownership.
func (s *SnippetService) load(ctx context.Context, owner, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet id is required")
	}

	doc, err := s.store.Get(ctx, SnippetsCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, apperror.StoreUnavailable("reading snippet", err)
	}

	snippet := snippetFromDoc(*doc)
	if snippet.OwnerID != owner {
		s.logger.Warn("snippet access denied",
			slog.String("id", id),
			slog.String("owner", snippet.OwnerID),
			slog.String("caller", owner),
		)
		return nil, apperror.Forbidden("you do not own this snippet")
	}
	return &snippet, nil
}

// uniqueTitle returns title unchanged when it is free in (owner, folder),
// otherwise a timestamped variant that is.
func (s *SnippetService) uniqueTitle(ctx context.Context, owner, folder, title string) (string, error) {
	taken, err := s.titleTaken(ctx, owner, folder, title)
	if err != nil || !taken {
		return title, err
	}

	stamp := s.now().UTC().Format("2006-01-02T15-04-05")
	for n := 1; n <= maxTitleAttempts; n++ {
		candidate := DisambiguateTitle(title, stamp, n)
		taken, err := s.titleTaken(ctx, owner, folder, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperror.Conflict("snippet title", title)
}

func (s *SnippetService) titleTaken(ctx context.Context, owner, folder, title string) (bool, error) {
	docs, err := s.store.Query(ctx, SnippetsCollection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("user_id", owner),
			docstore.Where("folder", folder),
			docstore.Where("title", title),
		},
		Limit: 1,
	})
	if err != nil {
		return false, apperror.StoreUnavailable("checking for duplicate titles", err)
	}
	if len(docs) > 0 {
		return true, nil
	}

	// Unmigrated documents have no folder field; their folder comes from
	// folder_path, or is the root when that is missing too.
	docs, err = s.store.Query(ctx, SnippetsCollection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where(legacyOwnerField, owner),
			docstore.Where("title", title),
		},
	})
	if err != nil {
		return false, apperror.StoreUnavailable("checking for duplicate titles", err)
	}
	for _, doc := range docs {
		if docFolder(doc.Fields) == folder {
			return true, nil
		}
	}
	return false, nil
}

func docFolder(f docstore.Fields) string {
	if f.Has("folder") {
		return f.String("folder")
	}
	return strings.Join(f.Strings("folder_path"), PathSeparator)
}

// DisambiguateTitle appends " (<stamp>)" to title, or " (<stamp>-n)" for
// n > 1, cutting title short so the result fits MaxTitleLength.
func DisambiguateTitle(title, stamp string, n int) string {
	suffix := " (" + stamp + ")"
	if n > 1 {
		suffix = fmt.Sprintf(" (%s-%d)", stamp, n)
	}
	room := MaxTitleLength - utf8.RuneCountInString(suffix)
	if runes := []rune(title); len(runes) > room {
		title = strings.TrimSpace(string(runes[:room]))
	}
	return title + suffix
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperror.InvalidTitle("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", apperror.InvalidTitle(fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	return title, nil
}

func validateCode(code string) error {
	if len(code) > MaxCodeBytes {
		return apperror.PayloadTooLarge("code", MaxCodeBytes)
	}
	return nil
}

func validateLanguage(language string) error {
	if !slices.Contains(Languages, language) {
		return apperror.ValidationFailed("language", fmt.Sprintf("unsupported language %q", language))
	}
	return nil
}

func validateTags(tags []string) ([]string, error) {
	if len(tags) > MaxTags {
		return nil, apperror.ValidationFailed("tags", fmt.Sprintf("at most %d tags are allowed", MaxTags))
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, apperror.ValidationFailed("tags", fmt.Sprintf("tags must be %d characters or less", MaxTagLength))
		}
		out = append(out, tag)
	}
	return out, nil
}

func snippetsFromDocs(docs []docstore.Document) []model.Snippet {
	out := make([]model.Snippet, 0, len(docs))
	for _, doc := range docs {
		out = append(out, snippetFromDoc(doc))
	}
	return out
}

// snippetFromDoc reads the canonical field names and falls back to the
// legacy camelCase ones (userId, content, createdAt, updatedAt) written by
// older clients, until cmd/migrate has rewritten them.
func snippetFromDoc(doc docstore.Document) model.Snippet {
	f := doc.Fields
	return model.Snippet{
		ID:            doc.ID,
		Title:         f.String("title"),
		Code:          firstString(f, "code", "content"),
		Language:      f.String("language"),
		OwnerID:       firstString(f, "user_id", "userId"),
		FolderPath:    f.Strings("folder_path"),
		Tags:          f.Strings("tags"),
		IsFavorite:    f.Bool("is_favorite"),
		OriginalTitle: f.String("original_title"),
		CreatedAt:     firstTime(f, "created_at", "createdAt"),
		UpdatedAt:     firstTime(f, "updated_at", "updatedAt"),
	}
}

func firstString(f docstore.Fields, keys ...string) string {
	for _, k := range keys {
		if f.Has(k) {
			return f.String(k)
		}
	}
	return ""
}

func firstTime(f docstore.Fields, keys ...string) time.Time {
	for _, k := range keys {
		if t := f.Time(k); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
