package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/duodeck/internal/common"
)

// MemoryStore is an in-process Store. It is safe for concurrent use and also
// implements Transactor by staging writes and applying them under one lock.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[docKey]*Document
	version int64
	hub     *Hub

	txMu sync.Mutex
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ Transactor = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[docKey]*Document),
		hub:  NewHub(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[docKey{collection, id}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := Encode(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, f)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := Encode(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merge(collection, id, f)
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(collection, id)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := s.collect(collection)
	s.mu.RUnlock()
	return Apply(docs, q), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection, id string, fn func(*Document)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// holding the write lock orders the initial snapshot before later writes
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.Add(ctx, collection, id, s.docs[docKey{collection, id}], fn), nil
}

// WithTx runs fn against a staging handle. Writes become visible, and are
// published, together when fn returns nil. Transactions are serialized with
// each other only: there is no conflict detection, so a plain write to a
// document staged by fn is overwritten on commit.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{base: s, staged: make(map[docKey]*stagedDoc)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range tx.order {
		if st := tx.staged[k]; st.deleted {
			s.remove(k.collection, k.id)
		} else {
			s.put(k.collection, k.id, st.fields)
		}
	}
	return nil
}

// Close stops all subscriptions.
func (s *MemoryStore) Close() {
	s.hub.Close()
}

func (s *MemoryStore) put(collection, id string, f Fields) {
	s.version++
	d := &Document{Collection: collection, ID: id, Fields: f, Version: s.version}
	s.docs[docKey{collection, id}] = d
	s.hub.Publish(collection, id, d)
}

func (s *MemoryStore) merge(collection, id string, f Fields) error {
	d, ok := s.docs[docKey{collection, id}]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, common.ErrorNotFound)
	}
	merged := cloneFields(d.Fields)
	for k, v := range f {
		merged[k] = v
	}
	s.put(collection, id, merged)
	return nil
}

func (s *MemoryStore) remove(collection, id string) {
	k := docKey{collection, id}
	if _, ok := s.docs[k]; !ok {
		return
	}
	delete(s.docs, k)
	s.version++
	s.hub.Publish(collection, id, nil)
}

func (s *MemoryStore) collect(collection string) []*Document {
	var out []*Document
	for k, d := range s.docs {
		if k.collection == collection {
			out = append(out, d.Clone())
		}
	}
	return out
}

type stagedDoc struct {
	fields  Fields
	deleted bool
}

// memoryTx stages writes in memory; reads see staged writes over the
// committed state.
type memoryTx struct {
	base   *MemoryStore
	staged map[docKey]*stagedDoc
	order  []docKey
}

func (t *memoryTx) stage(k docKey, st *stagedDoc) {
	if _, ok := t.staged[k]; !ok {
		t.order = append(t.order, k)
	}
	t.staged[k] = st
}

func (t *memoryTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	k := docKey{collection, id}
	st, ok := t.staged[k]
	if !ok {
		return t.base.Get(ctx, collection, id)
	}
	if st.deleted {
		return nil, common.ErrorNotFound
	}
	return &Document{Collection: collection, ID: id, Fields: cloneFields(st.fields)}, nil
}

func (t *memoryTx) Set(ctx context.Context, collection, id string, fields Fields) error {
	f, err := Encode(fields)
	if err != nil {
		return err
	}
	t.stage(docKey{collection, id}, &stagedDoc{fields: f})
	return nil
}

func (t *memoryTx) Update(ctx context.Context, collection, id string, fields Fields) error {
	cur, err := t.Get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	f, err := Encode(fields)
	if err != nil {
		return err
	}
	for k, v := range f {
		cur.Fields[k] = v
	}
	t.stage(docKey{collection, id}, &stagedDoc{fields: cur.Fields})
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, collection, id string) error {
	t.stage(docKey{collection, id}, &stagedDoc{deleted: true})
	return nil
}

func (t *memoryTx) Query(ctx context.Context, collection string, q Query) ([]*Document, error) {
	base, err := t.base.Query(ctx, collection, Query{})
	if err != nil {
		return nil, err
	}
	var docs []*Document
	for _, d := range base {
		if _, ok := t.staged[docKey{collection, d.ID}]; !ok {
			docs = append(docs, d)
		}
	}
	for _, k := range t.order {
		if k.collection != collection {
			continue
		}
		d, err := t.Get(ctx, k.collection, k.id)
		if err == nil {
			docs = append(docs, d)
		}
	}
	return Apply(docs, q), nil
}

func (t *memoryTx) Subscribe(context.Context, string, string, func(*Document)) (func(), error) {
	return nil, ErrSubscribeInTx
}
