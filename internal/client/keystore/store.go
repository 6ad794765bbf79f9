// Package keystore is the device-local secure storage: a string key-value
// store holding the device private key and a cached copy of the identity.
//
// SQLiteStore persists values in a local database; SealedStore encrypts every
// value with a key derived from the user's passphrase before handing it to
// another Store.
package keystore

import (
	"context"
	"sync"
)

// Well-known keys.
const (
	KeyIdentityID = "identity_id"
	KeyPrivateKey = "device_private_key"
	KeyIdentity   = "cached_identity"
	KeyAuthToken  = "auth_token"
)

// Store keeps string values by key. Get reports ok=false for a missing key;
// Remove of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
