package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/codeflow/internal/docstore"
)

// Get returns one document or docstore.ErrNotFound.
func (db *DB) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var body string
	err := db.conn.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting %s/%s: %w", collection, id, err)
	}
	return decode(id, body)
}

// Query runs an equality query with an optional sort.
//
// Filters on one field combined with ordering on another are rejected with
// docstore.ErrIndexRequired unless a matching index was declared, so code
// written against this backend behaves the same against a hosted store.
func (db *DB) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := docstore.CheckIndex(collection, q, db.indexes); err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := []any{collection}
	sb.WriteString(`SELECT id, body FROM documents WHERE collection = ?`)

	for _, f := range q.Filters {
		if err := checkName(f.Field); err != nil {
			return nil, err
		}
		if f.Value == nil {
			sb.WriteString(" AND " + fieldExpr(f.Field) + " IS NULL")
			continue
		}
		arg, err := filterArg(f.Value)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" AND " + fieldExpr(f.Field) + " = ?")
		args = append(args, arg)
	}

	if q.Order != nil {
		if err := checkName(q.Order.Field); err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", fieldExpr(q.Order.Field), dir, dir)
	}

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying %s: %w", collection, err)
	}
	// rows MUST be closed or the connection is never returned to the pool.
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("sqlite: scanning %s row: %w", collection, err)
		}
		doc, err := decode(id, body)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating %s: %w", collection, err)
	}
	return docs, nil
}

// Add inserts a document under a fresh xid. xids sort by creation time,
// which also makes them a stable tie-breaker in ordered queries.
func (db *DB) Add(ctx context.Context, collection string, fields docstore.Fields) (*docstore.Document, error) {
	if err := checkName(collection); err != nil {
		return nil, err
	}
	id := xid.New().String()
	body, err := encode(docstore.Resolve(fields, db.now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		collection, id, body,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: inserting into %s: %w", collection, err)
	}
	return decode(id, body)
}

// Update merges fields into the stored body inside one transaction.
func (db *DB) Update(ctx context.Context, collection, id string, fields docstore.Fields) (*docstore.Document, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning update: %w", err)
	}
	// Rollback after Commit is a no-op, so deferring it is always safe.
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading %s/%s: %w", collection, id, err)
	}

	current, err := decode(id, body)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	docstore.Merge(current.Fields, fields, db.now().UTC())

	updated, err := encode(current.Fields)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ? WHERE collection = ? AND id = ?`,
		updated, collection, id,
	); err != nil {
		return nil, fmt.Errorf("sqlite: updating %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing update of %s/%s: %w", collection, id, err)
	}
	return decode(id, updated)
}

// Delete removes one document or returns docstore.ErrNotFound.
func (db *DB) Delete(ctx context.Context, collection, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting %s/%s: %w", collection, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking delete of %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

// Batch starts an empty write batch.
func (db *DB) Batch() docstore.Batch {
	return &batch{db: db}
}

type batch struct {
	db     *DB
	writes []docstore.Write
}

func (b *batch) Set(collection, id string, fields docstore.Fields) {
	b.writes = append(b.writes, docstore.Write{Collection: collection, ID: id, Fields: fields.Clone()})
}

func (b *batch) Len() int { return len(b.writes) }

// Commit writes every staged document in one SQL transaction. Any failure
// rolls back the whole batch.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}

	now := b.db.now().UTC()
	tx, err := b.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning batch: %w", err)
	}
	defer tx.Rollback()

	for _, w := range b.writes {
		if err := checkName(w.Collection); err != nil {
			return err
		}
		body, err := encode(docstore.Resolve(w.Fields, now))
		if err != nil {
			return fmt.Errorf("sqlite: batch %s/%s: %w", w.Collection, w.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body`,
			w.Collection, w.ID, body,
		); err != nil {
			return fmt.Errorf("sqlite: batch write %s/%s: %w", w.Collection, w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing batch: %w", err)
	}
	b.writes = nil
	return nil
}
