package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/docstore"
)

// newTestDB opens an in-memory store with a controllable clock. Each test
// gets a fresh database that disappears when it is closed.
func newTestDB(t *testing.T, opts ...Option) (*DB, *time.Time) {
	t.Helper()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	opts = append(opts, WithClock(func() time.Time { return clock }))

	db, err := New(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, &clock
}

func TestAdd_ResolvesServerTimestamp(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()

	doc, err := db.Add(ctx, "snippets", docstore.Fields{
		"title":      "hello",
		"tags":       []string{"a", "b"},
		"created_at": docstore.ServerTimestamp,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)

	got, err := db.Get(ctx, "snippets", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Fields.String("title"))
	assert.Equal(t, []string{"a", "b"}, got.Fields.Strings("tags"))
	assert.True(t, got.Fields.Time("created_at").Equal(*clock))
}

func TestGet_NotFound(t *testing.T) {
	db, _ := newTestDB(t)

	_, err := db.Get(context.Background(), "snippets", "missing")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestUpdate_MergesAndDeletesFields(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()

	doc, err := db.Add(ctx, "snippets", docstore.Fields{
		"title":      "old",
		"userId":     "u1",
		"updated_at": docstore.ServerTimestamp,
	})
	require.NoError(t, err)

	*clock = clock.Add(time.Minute)
	updated, err := db.Update(ctx, "snippets", doc.ID, docstore.Fields{
		"title":      "new",
		"user_id":    "u1",
		"userId":     docstore.DeleteField,
		"updated_at": docstore.ServerTimestamp,
	})
	require.NoError(t, err)

	assert.Equal(t, "new", updated.Fields.String("title"))
	assert.Equal(t, "u1", updated.Fields.String("user_id"))
	assert.False(t, updated.Fields.Has("userId"))
	assert.True(t, updated.Fields.Time("updated_at").Equal(*clock))
}

func TestUpdate_NotFound(t *testing.T) {
	db, _ := newTestDB(t)

	_, err := db.Update(context.Background(), "snippets", "missing", docstore.Fields{"title": "x"})
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestDelete(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	doc, err := db.Add(ctx, "snippets", docstore.Fields{"title": "bye"})
	require.NoError(t, err)

	require.NoError(t, db.Delete(ctx, "snippets", doc.ID))
	assert.True(t, errors.Is(db.Delete(ctx, "snippets", doc.ID), docstore.ErrNotFound))
}

func TestQuery_FiltersByEquality(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	for _, f := range []docstore.Fields{
		{"user_id": "u1", "is_favorite": true},
		{"user_id": "u1", "is_favorite": false},
		{"user_id": "u2", "is_favorite": true},
	} {
		_, err := db.Add(ctx, "snippets", f)
		require.NoError(t, err)
	}

	docs, err := db.Query(ctx, "snippets", docstore.Query{
		Filters: []docstore.Filter{docstore.Where("user_id", "u1"), docstore.Where("is_favorite", true)},
	})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestQuery_CompositeOrderNeedsIndex(t *testing.T) {
	ctx := context.Background()
	q := docstore.Query{
		Filters: []docstore.Filter{docstore.Where("user_id", "u1")},
		Order:   &docstore.Order{Field: "created_at", Desc: true},
	}

	t.Run("without index", func(t *testing.T) {
		db, _ := newTestDB(t)
		_, err := db.Query(ctx, "snippets", q)
		assert.True(t, errors.Is(err, docstore.ErrIndexRequired))
	})

	t.Run("with index", func(t *testing.T) {
		db, clock := newTestDB(t, WithIndexes(docstore.Index{
			Collection: "snippets",
			Fields:     []string{"user_id"},
			OrderBy:    "created_at",
		}))

		for _, title := range []string{"first", "second", "third"} {
			*clock = clock.Add(time.Second)
			_, err := db.Add(ctx, "snippets", docstore.Fields{
				"user_id":    "u1",
				"title":      title,
				"created_at": docstore.ServerTimestamp,
			})
			require.NoError(t, err)
		}

		docs, err := db.Query(ctx, "snippets", q)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "third", docs[0].Fields.String("title"))
		assert.Equal(t, "first", docs[2].Fields.String("title"))
	})
}

func TestQuery_RejectsUnsafeFieldNames(t *testing.T) {
	db, _ := newTestDB(t)

	_, err := db.Query(context.Background(), "snippets", docstore.Query{
		Filters: []docstore.Filter{docstore.Where("title') OR 1=1 --", "x")},
	})
	assert.True(t, errors.Is(err, docstore.ErrUnsupported))
}

func TestQuery_Int64RoundTrip(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	_, err := db.Add(ctx, "users", docstore.Fields{"github_id": int64(9007199254740993)})
	require.NoError(t, err)

	docs, err := db.Query(ctx, "users", docstore.Query{
		Filters: []docstore.Filter{docstore.Where("github_id", int64(9007199254740993))},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(9007199254740993), docs[0].Fields.Int64("github_id"))
}

func TestBatch_CommitsAllOrNothing(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	b := db.Batch()
	b.Set("folders", "u1:a", docstore.Fields{"name": "a"})
	b.Set("folders", "u1:a/b", docstore.Fields{"bad-name": "b"})
	assert.Equal(t, 2, b.Len())

	require.Error(t, b.Commit(ctx))

	_, err := db.Get(ctx, "folders", "u1:a")
	assert.True(t, errors.Is(err, docstore.ErrNotFound), "first write must be rolled back")

	ok := db.Batch()
	ok.Set("folders", "u1:a", docstore.Fields{"name": "a"})
	ok.Set("folders", "u1:a/b", docstore.Fields{"name": "b"})
	require.NoError(t, ok.Commit(ctx))

	got, err := db.Get(ctx, "folders", "u1:a/b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Fields.String("name"))
}

func TestBatch_SetReplacesExisting(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	first := db.Batch()
	first.Set("folders", "u1:a", docstore.Fields{"name": "a", "extra": true})
	require.NoError(t, first.Commit(ctx))

	second := db.Batch()
	second.Set("folders", "u1:a", docstore.Fields{"name": "a"})
	require.NoError(t, second.Commit(ctx))

	got, err := db.Get(ctx, "folders", "u1:a")
	require.NoError(t, err)
	assert.False(t, got.Fields.Has("extra"))
}
