// Package sqlite implements docstore.Store on an embedded SQLite database.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the Go binary as a single
// file. No separate server to run, which makes it the default backend for
// single-node deployments and for tests (":memory:").
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, so cross-compiling needs a C toolchain.
// modernc.org/sqlite is a pure Go translation of SQLite, no C compiler needed.
//
// DOCUMENTS IN A RELATIONAL DATABASE:
// Every collection shares one table, keyed by (collection, id), with the
// document body stored as JSON. Queries reach into the body with SQLite's
// json_extract(). Declared composite indexes become expression indexes over
// the same json_extract() calls, so the planner can use them:
//
//	CREATE INDEX idx_snippets__user_id__created_at
//	    ON documents(collection, json_extract(body, '$.user_id'), json_extract(body, '$.created_at'))
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/codeflow/internal/docstore"

	// Blank import: the driver's init() registers itself with database/sql
	// under the name "sqlite".
	_ "modernc.org/sqlite"
)

// compile-time check that *DB implements docstore.Store
var _ docstore.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and implements docstore.Store.
type DB struct {
	conn    *sql.DB
	indexes []docstore.Index
	now     func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithIndexes declares composite indexes. Queries that filter on some fields
// and order by another are only accepted when one of these covers them.
func WithIndexes(indexes ...docstore.Index) Option {
	return func(db *DB) {
		db.indexes = append(db.indexes, indexes...)
	}
}

// WithClock overrides the clock used for docstore.ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/codeflow.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests, lost on close)
//
// sql.Open() does not connect; Ping forces the first connection so a bad
// path fails here instead of on the first query.
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each connection to ":memory:" gets its own empty database, so the pool
	// must never hold more than one.
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the documents table and one expression index per declared
// composite index. CREATE ... IF NOT EXISTS keeps it safe to run on every
// start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			body       TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	for _, ix := range db.indexes {
		stmt, err := indexDDL(ix)
		if err != nil {
			return err
		}
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("creating index on %s: %w", ix.Collection, err)
		}
	}

	return nil
}

func indexDDL(ix docstore.Index) (string, error) {
	if err := checkName(ix.Collection); err != nil {
		return "", err
	}
	cols := append(append([]string(nil), ix.Fields...), ix.OrderBy)
	exprs := []string{"collection"}
	for _, c := range cols {
		if err := checkName(c); err != nil {
			return "", err
		}
		exprs = append(exprs, fieldExpr(c))
	}
	name := "idx_" + ix.Collection + "__" + strings.Join(cols, "__")
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON documents(%s)`, name, strings.Join(exprs, ", ")), nil
}
