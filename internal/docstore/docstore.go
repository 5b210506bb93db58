// Package docstore is a small document-database abstraction: named
// collections of schemaless documents, equality queries with a single sort
// key, and atomic batches.
//
// WHY A DOCUMENT STORE AND NOT TABLES?
// Snippets, folders and users are loosely shaped records whose fields drifted
// over time (userId vs user_id, content vs code). A document store lets old
// and new shapes coexist until the migrate command rewrites them. The two
// backends (embedded SQLite and hosted MongoDB) implement the same contract,
// so services never know which one they talk to.
//
// KEY CONCEPTS:
//   - Fields      one document body, a map of field name to value
//   - ServerTimestamp  placeholder value replaced by the store clock on write
//   - DeleteField placeholder value that removes a field during Update
//   - Index       declares that a (filters, order) combination may be queried;
//     hosted document stores refuse such queries without one, and so do we
package docstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrIndexRequired = errors.New("docstore: query requires a composite index")
	ErrUnsupported   = errors.New("docstore: unsupported query")
)

// TimeLayout is the fixed-width UTC layout used wherever a backend has to
// store a timestamp as text. Fixed width keeps lexical order equal to time
// order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

type sentinel string

// ServerTimestamp asks the store to fill the field with its own clock.
var ServerTimestamp any = sentinel("server-timestamp")

// DeleteField removes the field when passed to Store.Update.
var DeleteField any = sentinel("delete-field")

// Document is one stored record.
type Document struct {
	ID     string
	Fields Fields
}

// Filter is an equality predicate on one top-level field.
type Filter struct {
	Field string
	Value any
}

// Order sorts results by one top-level field.
type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	Order   *Order
	Limit   int // 0 = unlimited
}

// Where is shorthand for a single equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Index declares a composite index: equality on Fields, sorted by OrderBy.
type Index struct {
	Collection string
	Fields     []string
	OrderBy    string
}

// Covers reports whether the index serves q on collection.
func (ix Index) Covers(collection string, q Query) bool {
	if ix.Collection != collection || q.Order == nil || q.Order.Field != ix.OrderBy {
		return false
	}
	if len(ix.Fields) != len(q.Filters) {
		return false
	}
	for _, f := range q.Filters {
		if !slices.Contains(ix.Fields, f.Field) {
			return false
		}
	}
	return true
}

// NeedsIndex reports whether q combines equality filters with an ordering
// on some other field, the shape hosted stores only serve from a composite
// index.
func NeedsIndex(q Query) bool {
	if q.Order == nil || len(q.Filters) == 0 {
		return false
	}
	for _, f := range q.Filters {
		if f.Field != q.Order.Field {
			return true
		}
	}
	return false
}

// CheckIndex returns ErrIndexRequired when q needs an index none of
// indexes provides.
func CheckIndex(collection string, q Query, indexes []Index) error {
	if !NeedsIndex(q) {
		return nil
	}
	for _, ix := range indexes {
		if ix.Covers(collection, q) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s filtered by %v ordered by %s", ErrIndexRequired, collection, filterNames(q.Filters), q.Order.Field)
}

func filterNames(filters []Filter) []string {
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.Field
	}
	return names
}

// Store is the contract both backends implement.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Add inserts a new document under a store-assigned id.
	Add(ctx context.Context, collection string, fields Fields) (*Document, error)
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Fields) (*Document, error)
	Delete(ctx context.Context, collection, id string) error
	Batch() Batch
	Close() error
}

// Batch stages full-document writes and commits them all or none.
type Batch interface {
	// Set creates or replaces the document with the given id.
	Set(collection, id string, fields Fields)
	Len() int
	Commit(ctx context.Context) error
}

// Write is one staged batch entry. Backends share it.
type Write struct {
	Collection string
	ID         string
	Fields     Fields
}

// Resolve returns a copy of fields with ServerTimestamp replaced by now and
// DeleteField entries dropped.
func Resolve(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		switch v {
		case ServerTimestamp:
			out[k] = now
		case DeleteField:
		default:
			out[k] = v
		}
	}
	return out
}

// Merge applies patch onto base in place, honouring DeleteField and
// ServerTimestamp.
func Merge(base, patch Fields, now time.Time) {
	for k, v := range patch {
		switch v {
		case DeleteField:
			delete(base, k)
		case ServerTimestamp:
			base[k] = now
		default:
			base[k] = v
		}
	}
}
