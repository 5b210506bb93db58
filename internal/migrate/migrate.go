// Package migrate rewrites snippet documents written by older clients into
// the canonical snake_case schema.
//
// LEGACY FIELDS:
//
//	userId    → user_id
//	content   → code
//	createdAt → created_at
//	updatedAt → updated_at
//
// A canonical field that is already present wins over its legacy twin; the
// legacy value is then only removed (unless KeepOld is set). Documents are
// rewritten in all-or-nothing batches of at most Options.Limit writes.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/service"
)

// MaxBatch is the largest batch a single commit may carry.
const MaxBatch = 500

// legacyFields maps each legacy name to its canonical replacement.
var legacyFields = []struct{ legacy, canonical string }{
	{"userId", "user_id"},
	{"content", "code"},
	{"createdAt", "created_at"},
	{"updatedAt", "updated_at"},
}

type Options struct {
	DryRun  bool // count only, write nothing
	KeepOld bool // keep the legacy fields next to the canonical ones
	Limit   int  // documents per batch, 1..MaxBatch
}

// Report is printed by cmd/migrate as JSON.
type Report struct {
	OK       bool `json:"ok"`
	DryRun   bool `json:"dryRun"`
	KeepOld  bool `json:"keepOld"`
	Scanned  int  `json:"scanned"`
	Migrated int  `json:"migrated"`
	Batches  int  `json:"batches"`
}

func (o Options) validate() error {
	if o.Limit <= 0 || o.Limit > MaxBatch {
		return fmt.Errorf("migrate: --limit must be a number between 1 and %d", MaxBatch)
	}
	return nil
}

// Snippets migrates every document in the snippets collection.
func Snippets(ctx context.Context, store docstore.Store, opts Options, logger *slog.Logger) (*Report, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	docs, err := store.Query(ctx, service.SnippetsCollection, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("migrate: reading snippets: %w", err)
	}

	rep := &Report{DryRun: opts.DryRun, KeepOld: opts.KeepOld}
	batch := store.Batch()

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("migrate: committing batch %d: %w", rep.Batches+1, err)
		}
		rep.Batches++
		logger.Info("batch committed", slog.Int("batch", rep.Batches), slog.Int("migrated", rep.Migrated))
		batch = store.Batch()
		return nil
	}

	for _, doc := range docs {
		rep.Scanned++
		fields, changed := Rewrite(doc.Fields, opts.KeepOld)
		if !changed {
			continue
		}
		rep.Migrated++
		if opts.DryRun {
			continue
		}
		batch.Set(service.SnippetsCollection, doc.ID, fields)
		if batch.Len() >= opts.Limit {
			if err := flush(); err != nil {
				return rep, err
			}
		}
	}
	if !opts.DryRun {
		if err := flush(); err != nil {
			return rep, err
		}
	}

	rep.OK = true
	return rep, nil
}

// Rewrite returns the canonical form of one snippet document and whether
// anything changed. The input is not modified.
func Rewrite(in docstore.Fields, keepOld bool) (docstore.Fields, bool) {
	out := in.Clone()
	changed := false

	for _, lf := range legacyFields {
		if !out.Has(lf.legacy) {
			continue
		}
		if !out.Has(lf.canonical) {
			out[lf.canonical] = out[lf.legacy]
			changed = true
		}
		if !keepOld {
			delete(out, lf.legacy)
			changed = true
		}
	}

	// Duplicate-title detection filters on the joined folder path.
	if !out.Has("folder") {
		out["folder"] = strings.Join(out.Strings("folder_path"), service.PathSeparator)
		changed = true
	}
	if !out.Has("folder_path") {
		out["folder_path"] = []string{}
		changed = true
	}
	return out, changed
}
