package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/docstore/sqlite"
)

var snippetIndex = SnippetListIndex

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by the store and the service.
type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// newTestStore opens a fresh in-memory SQLite store wrapped in a
// faultyStore, so tests can both count writes and inject failures.
func newTestStore(t *testing.T, clock *testClock, indexes ...docstore.Index) *faultyStore {
	t.Helper()
	db, err := sqlite.New(":memory:", sqlite.WithClock(clock.Now), sqlite.WithIndexes(indexes...))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &faultyStore{Store: db}
}

func newTestSnippetService(t *testing.T, indexes ...docstore.Index) (*SnippetService, *faultyStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := newTestStore(t, clock, indexes...)
	logger := discardLogger()
	svc := NewSnippetService(store, NewFolderResolver(store, logger), logger)
	svc.now = clock.Now
	return svc, store, clock
}

// faultyStore embeds a real store and overrides only what tests need:
// injected errors and counters. Methods it does not override fall through
// to the embedded store.
type faultyStore struct {
	docstore.Store

	getErr    error
	queryErr  error
	addErr    error
	updateErr error
	deleteErr error
	commitErr error

	adds          int
	deletes       int
	commits       int
	batchedWrites int
}

func (f *faultyStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.Get(ctx, collection, id)
}

func (f *faultyStore) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.Query(ctx, collection, q)
}

func (f *faultyStore) Add(ctx context.Context, collection string, fields docstore.Fields) (*docstore.Document, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.adds++
	return f.Store.Add(ctx, collection, fields)
}

func (f *faultyStore) Update(ctx context.Context, collection, id string, fields docstore.Fields) (*docstore.Document, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.Store.Update(ctx, collection, id, fields)
}

func (f *faultyStore) Delete(ctx context.Context, collection, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes++
	return f.Store.Delete(ctx, collection, id)
}

func (f *faultyStore) Batch() docstore.Batch {
	return &countingBatch{Batch: f.Store.Batch(), store: f}
}

type countingBatch struct {
	docstore.Batch
	store *faultyStore
}

func (b *countingBatch) Commit(ctx context.Context) error {
	if b.store.commitErr != nil {
		return b.store.commitErr
	}
	n := b.Len()
	if err := b.Batch.Commit(ctx); err != nil {
		return err
	}
	b.store.commits++
	b.store.batchedWrites += n
	return nil
}
