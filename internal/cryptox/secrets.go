package cryptox

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"golang.org/x/sync/singleflight"
)

// PrivateKeySource yields the device private key. Implementations return
// common.ErrKeyMissing when the device has none.
type PrivateKeySource interface {
	PrivateKey(ctx context.Context) (string, error)
}

type cachedSecret struct {
	partnerPublicKey string
	key              []byte
}

// SecretCache memoizes shared secrets per pair id in process memory only.
// Concurrent misses for the same pair collapse into a single derivation, and
// the private key is read only on a miss.
type SecretCache struct {
	keys   PrivateKeySource
	derive func(partnerPublicKey, ownPrivateKey string) ([]byte, error)

	mu      sync.Mutex
	secrets map[string]cachedSecret
	epoch   uint64

	group singleflight.Group
}

// NewSecretCache returns an empty cache deriving with DeriveSharedSecret.
func NewSecretCache(keys PrivateKeySource) *SecretCache {
	return &SecretCache{
		keys:    keys,
		derive:  DeriveSharedSecret,
		secrets: make(map[string]cachedSecret),
	}
}

// GetOrDerive returns the shared secret for pairID, deriving and caching it on
// a miss. A cached entry derived for a different partner key is treated as a
// miss. The returned slice is a copy owned by the caller.
//
// Callers waiting on the same derivation each honour their own ctx; the
// derivation itself is not cancelled when one of them gives up.
func (c *SecretCache) GetOrDerive(ctx context.Context, pairID, partnerPublicKey string) ([]byte, error) {
	c.mu.Lock()
	if s, ok := c.secrets[pairID]; ok && s.partnerPublicKey == partnerPublicKey {
		key := clone(s.key)
		c.mu.Unlock()
		return key, nil
	}
	epoch := c.epoch
	c.mu.Unlock()

	work := context.WithoutCancel(ctx)
	ch := c.group.DoChan(pairID+"|"+partnerPublicKey, func() (any, error) {
		priv, err := c.keys.PrivateKey(work)
		if err != nil {
			return nil, err
		}
		if priv == "" {
			return nil, common.ErrKeyMissing
		}

		key, err := c.derive(partnerPublicKey, priv)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// an eviction while deriving wins; the caller still gets its key
		if c.epoch == epoch {
			if old, ok := c.secrets[pairID]; ok {
				common.WipeByteArray(old.key)
			}
			// the cache owns its own copy: eviction wipes it while waiters
			// may still be copying key
			c.secrets[pairID] = cachedSecret{partnerPublicKey: partnerPublicKey, key: clone(key)}
		}
		c.mu.Unlock()
		return key, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]byte)), nil
	}
}

// Evict drops and wipes the secret cached for pairID.
func (c *SecretCache) Evict(pairID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.secrets[pairID]; ok {
		common.WipeByteArray(s.key)
		delete(c.secrets, pairID)
	}
	c.epoch++
}

// EvictAll drops every cached secret, e.g. on logout.
func (c *SecretCache) EvictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.secrets {
		common.WipeByteArray(s.key)
		delete(c.secrets, id)
	}
	c.epoch++
}

// Cached reports whether a secret for pairID is currently held. It is a
// diagnostic for tests and debugging; encryption paths go through GetOrDerive.
func (c *SecretCache) Cached(pairID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.secrets[pairID]
	return ok
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
