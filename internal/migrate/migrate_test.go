package migrate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/docstore/sqlite"
	"github.com/sakif/codeflow/internal/service"
)

func newStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seedLegacy(t *testing.T, db *sqlite.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := db.Add(context.Background(), service.SnippetsCollection, docstore.Fields{
			"title":     "old",
			"content":   "print(1)",
			"language":  "python",
			"userId":    "u1",
			"createdAt": time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
}

func TestRewrite(t *testing.T) {
	in := docstore.Fields{"userId": "u1", "content": "x", "title": "t"}

	out, changed := Rewrite(in, false)
	assert.True(t, changed)
	assert.Equal(t, "u1", out["user_id"])
	assert.Equal(t, "x", out["code"])
	assert.False(t, out.Has("userId"))
	assert.False(t, out.Has("content"))
	assert.Equal(t, "", out["folder"])
	assert.True(t, in.Has("userId"), "input is left alone")

	kept, _ := Rewrite(in, true)
	assert.Equal(t, "u1", kept["userId"])
	assert.Equal(t, "u1", kept["user_id"])
}

func TestRewrite_CanonicalWins(t *testing.T) {
	out, changed := Rewrite(docstore.Fields{
		"user_id": "new", "userId": "old", "folder": "", "folder_path": []string{},
	}, false)
	assert.True(t, changed)
	assert.Equal(t, "new", out["user_id"])
	assert.False(t, out.Has("userId"))
}

func TestRewrite_AlreadyCanonical(t *testing.T) {
	_, changed := Rewrite(docstore.Fields{
		"user_id": "u", "code": "c", "folder": "", "folder_path": []string{},
	}, false)
	assert.False(t, changed)
}

func TestSnippets_MigratesInBatches(t *testing.T) {
	db := newStore(t)
	seedLegacy(t, db, 5)

	rep, err := Snippets(context.Background(), db, Options{Limit: 2}, quiet())
	require.NoError(t, err)
	assert.True(t, rep.OK)
	assert.Equal(t, 5, rep.Scanned)
	assert.Equal(t, 5, rep.Migrated)
	assert.Equal(t, 3, rep.Batches)

	// Migrated snippets now show up in the owner's list.
	logger := quiet()
	svc := service.NewSnippetService(db, service.NewFolderResolver(db, logger), logger)
	list, err := svc.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "print(1)", list[0].Code)

	again, err := Snippets(context.Background(), db, Options{Limit: 2}, quiet())
	require.NoError(t, err)
	assert.Zero(t, again.Migrated, "second run is a no-op")
}

func TestSnippets_DryRunWritesNothing(t *testing.T) {
	db := newStore(t)
	seedLegacy(t, db, 3)

	rep, err := Snippets(context.Background(), db, Options{DryRun: true, Limit: 10}, quiet())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Migrated)
	assert.Zero(t, rep.Batches)

	docs, err := db.Query(context.Background(), service.SnippetsCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("user_id", "u1")},
	})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSnippets_RejectsBadLimit(t *testing.T) {
	db := newStore(t)
	for _, limit := range []int{0, -1, MaxBatch + 1} {
		_, err := Snippets(context.Background(), db, Options{Limit: limit}, quiet())
		assert.Error(t, err, "limit %d", limit)
	}
}
