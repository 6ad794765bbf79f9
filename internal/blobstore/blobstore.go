// Package blobstore stores opaque encrypted blobs, such as voice card audio,
// by key. PresignedStore talks to object storage through URLs handed out by a
// Presigner; MemoryStore keeps blobs in process.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/netx"
)

// Store keeps blobs by key. Get returns common.ErrorNotFound for a missing
// key; Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Presigner issues short-lived URLs for one object operation each.
type Presigner interface {
	PresignPut(ctx context.Context, key string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	PresignDelete(ctx context.Context, key string) (string, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// PresignedStore moves blobs over HTTP using presigned URLs.
type PresignedStore struct {
	presigner Presigner
	client    *http.Client
	maxSize   int64
}

// NewPresignedStore builds a store that refuses to download more than
// maxSize bytes (no limit when maxSize <= 0). A nil client uses
// http.DefaultClient.
func NewPresignedStore(presigner Presigner, client *http.Client, maxSize int64) *PresignedStore {
	return &PresignedStore{presigner: presigner, client: client, maxSize: maxSize}
}

func (s *PresignedStore) Put(ctx context.Context, key string, data []byte) error {
	url, err := s.presigner.PresignPut(ctx, key)
	if err != nil {
		return fmt.Errorf("presign put %s: %w", key, err)
	}
	if err := netx.Upload(ctx, s.client, url, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *PresignedStore) Get(ctx context.Context, key string) ([]byte, error) {
	url, err := s.presigner.PresignGet(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("presign get %s: %w", key, err)
	}
	b, err := netx.Download(ctx, s.client, url, s.maxSize)
	if errors.Is(err, netx.ErrTooLarge) {
		return nil, common.ErrPayloadTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return b, nil
}

func (s *PresignedStore) Delete(ctx context.Context, key string) error {
	url, err := s.presigner.PresignDelete(ctx, key)
	if err != nil {
		return fmt.Errorf("presign delete %s: %w", key, err)
	}
	if err := netx.Remove(ctx, s.client, url); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
