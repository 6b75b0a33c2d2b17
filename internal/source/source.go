// Package source provides filtered, paginated document retrieval from the
// MongoDB source store.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/config"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/document"
)

// Conventional source document date fields.
const (
	FieldCreationDate = "creation_date"
	FieldUpdateDate   = "update_date"
)

const maxRetries = 3

// Store is a handle on the source database.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

// Connect opens the source client and verifies connectivity.
func Connect(ctx context.Context, cfg config.SourceConfig) (*Store, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping source: %w", err)
	}

	return &Store{
		client:  client,
		db:      client.Database(cfg.Database),
		timeout: timeout,
	}, nil
}

// Close releases the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Collection returns a reader over one source collection.
func (s *Store) Collection(name string) *Collection {
	return &Collection{coll: s.db.Collection(name), timeout: s.timeout}
}

// Collection reads one source collection with per-operation timeouts and
// bounded retry on transient errors.
type Collection struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.coll.Name()
}

// Count counts documents matching the filter.
func (c *Collection) Count(ctx context.Context, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	var count int64
	op := func() error {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var err error
		count, err = c.coll.CountDocuments(opCtx, filter)
		return err
	}
	if err := retry(ctx, op); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c.coll.Name(), err)
	}
	return count, nil
}

// Find returns one page of documents matching the filter, sorted ascending
// by creation date for stable pagination.
func (c *Collection) Find(ctx context.Context, filter, projection bson.M, skip, limit int64) ([]bson.M, error) {
	if filter == nil {
		filter = bson.M{}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: FieldCreationDate, Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)
	if projection != nil {
		opts.SetProjection(projection)
	}

	var docs []bson.M
	op := func() error {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		cursor, err := c.coll.Find(opCtx, filter, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(opCtx)

		docs = docs[:0]
		return cursor.All(opCtx, &docs)
	}
	if err := retry(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to find in %s: %w", c.coll.Name(), err)
	}
	return docs, nil
}

// FindByIDs bulk-fetches documents by identifier, keyed by canonical string
// form. Identifiers may be ObjectIDs or strings; both are passed through to
// the $in as-is.
func (c *Collection) FindByIDs(ctx context.Context, ids []any, projection bson.M) (map[string]bson.M, error) {
	if len(ids) == 0 {
		return map[string]bson.M{}, nil
	}

	opts := options.Find()
	if projection != nil {
		opts.SetProjection(projection)
	}

	found := make(map[string]bson.M, len(ids))
	op := func() error {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		cursor, err := c.coll.Find(opCtx, bson.M{"_id": bson.M{"$in": ids}}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(opCtx)

		clear(found)
		for cursor.Next(opCtx) {
			var doc bson.M
			if err := cursor.Decode(&doc); err != nil {
				return err
			}
			if id, ok := document.IDString(doc["_id"]); ok {
				found[id] = doc
			}
		}
		return cursor.Err()
	}
	if err := retry(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to fetch children from %s: %w", c.coll.Name(), err)
	}
	return found, nil
}

func retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(op, policy)
}

// DateFilter builds the incremental filter: a record is re-examined when it
// was created or updated at or after the watermark. Nil yields no filter.
func DateFilter(after *time.Time) bson.M {
	if after == nil {
		return bson.M{}
	}
	return bson.M{"$or": bson.A{
		bson.M{FieldCreationDate: bson.M{"$gte": *after}},
		bson.M{FieldUpdateDate: bson.M{"$gte": *after}},
	}}
}

// ArrayFilter restricts a scan to parents carrying at least one non-empty
// array among the given fields, combined with the optional date filter.
func ArrayFilter(fields []string, after *time.Time) bson.M {
	var arrayConds bson.A
	for _, f := range fields {
		arrayConds = append(arrayConds, bson.M{f: bson.M{"$exists": true, "$ne": bson.A{}}})
	}

	dateFilter := DateFilter(after)

	switch {
	case len(arrayConds) == 0:
		return dateFilter
	case len(dateFilter) == 0 && len(arrayConds) == 1:
		return arrayConds[0].(bson.M)
	case len(dateFilter) == 0:
		return bson.M{"$or": arrayConds}
	case len(arrayConds) == 1:
		filter := bson.M{}
		for k, v := range arrayConds[0].(bson.M) {
			filter[k] = v
		}
		for k, v := range dateFilter {
			filter[k] = v
		}
		return filter
	default:
		// Both the array disjunction and the date disjunction must hold.
		return bson.M{"$and": bson.A{bson.M{"$or": arrayConds}, dateFilter}}
	}
}
