// Package docstore defines the document-store contract DuoDeck persists
// through, plus an in-memory implementation and the change hub shared by
// adapters that push document snapshots to subscribers.
//
// Documents are flat JSON-compatible maps addressed by collection and id.
// Every committed write stamps the document with a store-wide increasing
// Version so that subscribers can discard snapshots older than the one they
// already applied.
package docstore

import (
	"context"
	"errors"
)

// Fields is the JSON-compatible content of a document.
type Fields map[string]any

// Document is a stored record.
type Document struct {
	Collection string
	ID         string
	Fields     Fields
	Version    int64
}

// Decode unmarshals the document fields into v.
func (d *Document) Decode(v any) error {
	return Decode(d.Fields, v)
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection. A zero Limit means no limit.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Where returns q with an additional equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

// Store is the durable document store.
//
// Get returns common.ErrorNotFound for a missing document. Update merges the
// given top-level fields into an existing document and fails with
// common.ErrorNotFound if it is absent. Delete of a missing document is not an
// error. Subscribe delivers the current state of one document immediately and
// then every committed write, in commit order, with nil meaning the document
// does not exist; it stops when unsubscribe is called or ctx is done.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, fields Fields) error
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]*Document, error)
	Subscribe(ctx context.Context, collection, id string, fn func(*Document)) (unsubscribe func(), err error)
}

// Transactor is implemented by stores that can apply several writes
// atomically. The Store passed to fn must be used for every read and write of
// the transaction; it does not support Subscribe.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// ErrSubscribeInTx is returned by Subscribe on a transactional store handle.
var ErrSubscribeInTx = errors.New("subscribe is not available inside a transaction")
