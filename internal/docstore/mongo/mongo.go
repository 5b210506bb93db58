// Package mongo implements docstore.Store on MongoDB, for deployments that
// keep snippets in a hosted document database.
//
// One docstore collection maps to one Mongo collection. Document ids are
// stored as string _id values so ids minted here (ObjectID hex) and ids
// chosen by callers (folder paths) share one type.
//
// Batches run inside a multi-document transaction, which requires a replica
// set (Atlas clusters are replica sets; a bare mongod is not).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/codeflow/internal/docstore"
)

var _ docstore.Store = (*Store)(nil)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Connect dials uri, pings the primary and returns a store bound to database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}
	return &Store{
		client: client,
		db:     client.Database(database),
		now:    time.Now,
	}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongo: %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: getting %s/%s: %w", collection, id, err)
	}
	return fromBSON(raw), nil
}

// Query never needs a declared index: MongoDB sorts without one, just slower.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	filter := bson.D{}
	for _, f := range q.Filters {
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}

	opts := options.Find()
	if q.Order != nil {
		dir := 1
		if q.Order.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.Order.Field, Value: dir}, {Key: "_id", Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: querying %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []docstore.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("mongo: decoding %s: %w", collection, err)
		}
		docs = append(docs, *fromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo: iterating %s: %w", collection, err)
	}
	return docs, nil
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (*docstore.Document, error) {
	id := primitive.NewObjectID().Hex()
	body := toBSON(docstore.Resolve(fields, s.now().UTC()))
	body["_id"] = id

	if _, err := s.db.Collection(collection).InsertOne(ctx, body); err != nil {
		return nil, fmt.Errorf("mongo: inserting into %s: %w", collection, err)
	}
	return fromBSON(body), nil
}

// Update translates the patch into $set / $unset and returns the document
// as it is after the update.
func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) (*docstore.Document, error) {
	now := s.now().UTC()
	set := bson.M{}
	unset := bson.M{}
	for k, v := range fields {
		switch v {
		case docstore.DeleteField:
			unset[k] = ""
		case docstore.ServerTimestamp:
			set[k] = now
		default:
			set[k] = v
		}
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		return s.Get(ctx, collection, id)
	}

	var raw bson.M
	err := s.db.Collection(collection).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongo: %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: updating %s/%s: %w", collection, id, err)
	}
	return fromBSON(raw), nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: deleting %s/%s: %w", collection, id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("mongo: %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Batch() docstore.Batch {
	return &batch{store: s}
}

type batch struct {
	store  *Store
	writes []docstore.Write
}

func (b *batch) Set(collection, id string, fields docstore.Fields) {
	b.writes = append(b.writes, docstore.Write{Collection: collection, ID: id, Fields: fields.Clone()})
}

func (b *batch) Len() int { return len(b.writes) }

// Commit replaces (or inserts) every staged document inside one transaction.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	now := b.store.now().UTC()

	session, err := b.store.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: starting session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, w := range b.writes {
			body := toBSON(docstore.Resolve(w.Fields, now))
			body["_id"] = w.ID
			_, err := b.store.db.Collection(w.Collection).ReplaceOne(sc,
				bson.M{"_id": w.ID},
				body,
				options.Replace().SetUpsert(true),
			)
			if err != nil {
				return nil, fmt.Errorf("writing %s/%s: %w", w.Collection, w.ID, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("mongo: committing batch: %w", err)
	}
	b.writes = nil
	return nil
}

func toBSON(fields docstore.Fields) bson.M {
	out := make(bson.M, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// fromBSON strips _id and normalises driver types (DateTime, A, nested
// documents) into the plain Go shapes docstore.Fields accessors expect.
func fromBSON(raw bson.M) *docstore.Document {
	id, _ := raw["_id"].(string)
	fields := make(docstore.Fields, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		fields[k] = normalise(v)
	}
	return &docstore.Document{ID: id, Fields: fields}
}

func normalise(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case time.Time:
		return x.UTC()
	case primitive.A:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalise(item)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalise(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalise(e.Value)
		}
		return out
	}
	return v
}
