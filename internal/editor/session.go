// Package editor keeps the server side of a signed-in user's editor: the
// draft being typed, which snippet is open, the autosave coordinator that
// persists it, and a cached snippet list for the sidebar.
//
// HOW A SAVE FLOWS:
//
//	Edit ──▶ draft updated ──▶ Coordinator.Notify (if eligible and changed)
//	                                 │ 2s quiet
//	                                 ▼
//	                            Session.write ──▶ SnippetService.Create / Update
//	Save ──────────────────▶ Coordinator.Flush ──┘
//
// A draft is eligible for autosave once a snippet is selected or the title
// is non-empty. Autosave falls back to the title "Untitled"; a manual save
// needs a real title.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/codeflow/internal/apperror"
	"github.com/sakif/codeflow/internal/autosave"
	"github.com/sakif/codeflow/internal/executor"
	"github.com/sakif/codeflow/internal/model"
	"github.com/sakif/codeflow/internal/service"
)

// FallbackTitle is used by autosave when the draft has no title yet.
const FallbackTitle = "Untitled"

// Snippets is the part of service.SnippetService a session needs.
type Snippets interface {
	Create(ctx context.Context, owner string, in service.NewSnippet) (*model.Snippet, error)
	Get(ctx context.Context, owner, id string) (*model.Snippet, error)
	Update(ctx context.Context, owner, id, title, code, language string) (*model.Snippet, error)
	Delete(ctx context.Context, owner, id string) error
	ListByOwner(ctx context.Context, owner string) ([]model.Snippet, error)
}

// Draft is what the editor currently shows.
type Draft struct {
	Title      string   `json:"title"`
	Code       string   `json:"code"`
	Language   string   `json:"language"`
	FolderPath []string `json:"folderPath"`
}

// Edit carries the fields that changed. Nil fields are left alone.
type Edit struct {
	Title      *string
	Code       *string
	Language   *string
	FolderPath *[]string
}

// View is a snapshot of the session for rendering.
type View struct {
	Draft      Draft             `json:"draft"`
	SelectedID string            `json:"selectedId,omitempty"`
	Eligible   bool              `json:"autosaveEligible"`
	Autosave   autosave.Snapshot `json:"autosave"`
	LastRun    *executor.Result  `json:"lastRun,omitempty"`
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Snippets Snippets
	Executor executor.Executor
	Limiter  *executor.Limiter // optional
	Logger   *slog.Logger
	// Autosave options applied to each session's coordinator.
	Autosave []autosave.Option
}

type Session struct {
	owner  string
	deps   Deps
	logger *slog.Logger
	coord  *autosave.Coordinator

	// saveMu serialises writes so two saves of a never-saved draft cannot
	// both create a snippet.
	saveMu sync.Mutex

	mu       sync.Mutex
	draft    Draft
	selected string
	gen      uint64 // bumped when the open snippet changes
	lastRun  *executor.Result
	cache    []model.Snippet
	stale    bool
	lastUsed time.Time
}

// NewSession opens an empty draft in language for owner.
func NewSession(owner, language string, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Session{
		owner:    owner,
		deps:     deps,
		logger:   deps.Logger.With(slog.String("owner", owner)),
		draft:    blankDraft(language),
		stale:    true,
		lastUsed: time.Now(),
	}
	opts := append([]autosave.Option{autosave.WithLogger(s.logger)}, deps.Autosave...)
	s.coord = autosave.New(s.autosave, opts...)
	return s
}

func (s *Session) Owner() string { return s.owner }

// Edit applies changes to the draft. Autosave is notified only when the
// title, code or language actually changed and the draft is eligible; a
// draft that stopped being eligible drops its pending write.
//
// The folder only applies to snippets that were never saved. Once a snippet
// is selected its folder is fixed and FolderPath is ignored.
func (s *Session) Edit(e Edit) View {
	s.mu.Lock()
	before := s.draft
	if e.Title != nil {
		s.draft.Title = *e.Title
	}
	if e.Code != nil {
		s.draft.Code = *e.Code
	}
	if e.Language != nil {
		s.draft.Language = *e.Language
	}
	if e.FolderPath != nil && s.selected == "" {
		s.draft.FolderPath = append([]string(nil), (*e.FolderPath)...)
	}
	changed := before.Title != s.draft.Title ||
		before.Code != s.draft.Code ||
		before.Language != s.draft.Language
	eligible := s.eligibleLocked()
	s.touchLocked()
	s.mu.Unlock()

	switch {
	case !eligible:
		s.coord.Cancel()
	case changed:
		s.coord.Notify()
	}
	return s.View()
}

// Selected reports the id of the open snippet, or "" for a new draft.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Save is the manual save. It writes immediately and returns the saved
// snippet; an empty title is rejected.
func (s *Session) Save(ctx context.Context) (*model.Snippet, error) {
	s.mu.Lock()
	hasTitle := strings.TrimSpace(s.draft.Title) != ""
	s.touchLocked()
	s.mu.Unlock()

	if !hasTitle {
		return nil, apperror.InvalidTitle("title is required")
	}

	var saved *model.Snippet
	err := s.coord.Flush(withSaved(ctx, &saved))
	if errors.Is(err, autosave.ErrSkipped) {
		// The title was cleared while the save was queued.
		return nil, apperror.InvalidTitle("title is required")
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Select opens a saved snippet. Pending changes to the current draft are
// flushed first; if that fails the session stays where it is.
func (s *Session) Select(ctx context.Context, id string) (View, error) {
	if err := s.flushPending(ctx); err != nil {
		return View{}, err
	}

	snippet, err := s.deps.Snippets.Get(ctx, s.owner, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	s.draft = Draft{
		Title:      snippet.Title,
		Code:       snippet.Code,
		Language:   snippet.Language,
		FolderPath: append([]string(nil), snippet.FolderPath...),
	}
	s.selected = snippet.ID
	s.gen++
	s.lastRun = nil
	s.upsertCacheLocked(*snippet)
	s.touchLocked()
	s.mu.Unlock()

	s.coord.Reset()
	return s.View(), nil
}

// New starts an empty draft with the template for language (or the current
// language when empty). Pending changes are flushed first.
func (s *Session) New(ctx context.Context, language string) (View, error) {
	if err := s.flushPending(ctx); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if language == "" {
		language = s.draft.Language
	}
	s.clearLocked(language)
	s.touchLocked()
	s.mu.Unlock()

	s.coord.Reset()
	return s.View(), nil
}

// Delete removes a snippet. Deleting the open snippet also clears the
// editor, dropping any unsaved changes to it.
func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.deps.Snippets.Delete(ctx, s.owner, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.removeCacheLocked(id)
	wasSelected := s.selected == id
	if wasSelected {
		s.clearLocked(s.draft.Language)
	}
	s.touchLocked()
	s.mu.Unlock()

	if wasSelected {
		s.coord.Reset()
	}
	return nil
}

// Run executes the draft. Empty code is rejected before the rate limiter is
// consulted.
func (s *Session) Run(ctx context.Context, stdin string) (*executor.Result, error) {
	s.mu.Lock()
	req := executor.Request{Language: s.draft.Language, Code: s.draft.Code, Stdin: stdin}
	s.touchLocked()
	s.mu.Unlock()

	if strings.TrimSpace(req.Code) == "" {
		return nil, apperror.ValidationFailed("code", "cannot execute empty code")
	}
	if s.deps.Executor == nil {
		return nil, fmt.Errorf("editor: code execution is not configured")
	}
	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Allow(s.owner); err != nil {
			return nil, err
		}
	}

	res, err := s.deps.Executor.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, executor.ErrUnsupportedLanguage) {
			return nil, apperror.ValidationFailed("language", fmt.Sprintf("running %s is not supported", req.Language))
		}
		return nil, fmt.Errorf("editor: running code: %w", err)
	}

	s.mu.Lock()
	s.lastRun = res
	s.mu.Unlock()
	return res, nil
}

// SetAutosave turns autosave on or off for this session.
func (s *Session) SetAutosave(enabled bool) View {
	s.coord.SetEnabled(enabled)
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
	return s.View()
}

// Snippets returns the owner's snippets, newest first. After a save the
// cached list already holds the saved snippet, but the next call re-fetches
// it anyway. If the fetch fails and a cached list exists, that list is
// returned instead.
func (s *Session) Snippets(ctx context.Context) ([]model.Snippet, error) {
	s.mu.Lock()
	if !s.stale {
		out := append([]model.Snippet(nil), s.cache...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	list, err := s.deps.Snippets.ListByOwner(ctx, s.owner)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.cache == nil {
			return nil, err
		}
		s.logger.Warn("snippet list refresh failed, serving cached list", slog.String("error", err.Error()))
		return append([]model.Snippet(nil), s.cache...), nil
	}
	s.cache = list
	s.stale = false
	return append([]model.Snippet(nil), list...), nil
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.draft
	d.FolderPath = append([]string(nil), s.draft.FolderPath...)
	return View{
		Draft:      d,
		SelectedID: s.selected,
		Eligible:   s.eligibleLocked(),
		Autosave:   s.coord.Snapshot(),
		LastRun:    s.lastRun,
	}
}

// Close flushes pending changes and stops the coordinator's timers.
func (s *Session) Close(ctx context.Context) error {
	err := s.flushPending(ctx)
	s.coord.Close()
	return err
}

// LastUsed reports when the session was last touched by its owner.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) pending() bool {
	s.mu.Lock()
	eligible := s.eligibleLocked()
	s.mu.Unlock()
	return eligible && s.coord.Pending()
}

func (s *Session) flushPending(ctx context.Context) error {
	if !s.pending() {
		return nil
	}
	err := s.coord.Flush(ctx)
	if err != nil && !errors.Is(err, autosave.ErrSkipped) {
		return fmt.Errorf("editor: saving pending changes: %w", err)
	}
	return nil
}

// autosave is the coordinator's SaveFunc. Manual saves reach it through
// Flush as well.
func (s *Session) autosave(ctx context.Context) error {
	saved, err := s.write(ctx)
	if out := savedFrom(ctx); out != nil {
		*out = saved
	}
	return err
}

// write persists the current draft: update when a snippet is open, create
// otherwise. A draft that stopped being eligible returns
// autosave.ErrSkipped.
func (s *Session) write(ctx context.Context) (*model.Snippet, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.eligibleLocked() {
		s.mu.Unlock()
		return nil, autosave.ErrSkipped
	}
	draft := s.draft
	draft.FolderPath = append([]string(nil), s.draft.FolderPath...)
	selected := s.selected
	gen := s.gen
	s.mu.Unlock()

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = FallbackTitle
	}

	var (
		saved *model.Snippet
		err   error
	)
	if selected != "" {
		saved, err = s.deps.Snippets.Update(ctx, s.owner, selected, title, draft.Code, draft.Language)
	} else {
		saved, err = s.deps.Snippets.Create(ctx, s.owner, service.NewSnippet{
			Title:      title,
			Code:       draft.Code,
			Language:   draft.Language,
			FolderPath: draft.FolderPath,
		})
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCacheLocked(*saved)
	s.stale = true
	// The user may have moved to another snippet while this write was in
	// flight; only bind the result if they have not.
	if gen == s.gen && selected == "" {
		s.selected = saved.ID
		if strings.TrimSpace(s.draft.Title) == title || strings.TrimSpace(s.draft.Title) == "" {
			s.draft.Title = saved.Title
		}
	}
	return saved, nil
}

func (s *Session) eligibleLocked() bool {
	return s.selected != "" || strings.TrimSpace(s.draft.Title) != ""
}

func (s *Session) clearLocked(language string) {
	s.draft = blankDraft(language)
	s.selected = ""
	s.gen++
	s.lastRun = nil
}

func (s *Session) touchLocked() {
	s.lastUsed = time.Now()
}

// upsertCacheLocked puts snippet at the front of the cached list, replacing
// an older copy.
func (s *Session) upsertCacheLocked(snippet model.Snippet) {
	out := make([]model.Snippet, 0, len(s.cache)+1)
	out = append(out, snippet)
	for _, c := range s.cache {
		if c.ID != snippet.ID {
			out = append(out, c)
		}
	}
	s.cache = out
}

func (s *Session) removeCacheLocked(id string) {
	out := s.cache[:0]
	for _, c := range s.cache {
		if c.ID != id {
			out = append(out, c)
		}
	}
	s.cache = out
}

func blankDraft(language string) Draft {
	if language == "" {
		language = DefaultLanguage
	}
	return Draft{Language: language, Code: Template(language)}
}

type savedKey struct{}

// withSaved lets a manual Save collect the snippet written by the
// coordinator's SaveFunc.
func withSaved(ctx context.Context, out **model.Snippet) context.Context {
	return context.WithValue(ctx, savedKey{}, out)
}

func savedFrom(ctx context.Context) **model.Snippet {
	out, _ := ctx.Value(savedKey{}).(**model.Snippet)
	return out
}
