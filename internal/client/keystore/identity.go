package keystore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/timex"
)

type cachedIdentity struct {
	ID               string                  `json:"id"`
	PublicKey        string                  `json:"publicKey"`
	PairID           *string                 `json:"pairId"`
	ConnectionStatus models.ConnectionStatus `json:"connectionStatus"`
	CreatedAt        int64                   `json:"createdAt"`
}

// IdentityCache keeps the last seen identity document in a Store so the
// client can show its state before the network answers.
type IdentityCache struct {
	store Store
}

func NewIdentityCache(store Store) *IdentityCache {
	return &IdentityCache{store: store}
}

// Load returns nil when nothing is cached.
func (c *IdentityCache) Load(ctx context.Context) (*models.Identity, error) {
	v, ok, err := c.store.Get(ctx, KeyIdentity)
	if err != nil || !ok {
		return nil, err
	}
	var rec cachedIdentity
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, fmt.Errorf("cached identity: %w", err)
	}
	return &models.Identity{
		ID:               rec.ID,
		PublicKey:        rec.PublicKey,
		PairID:           rec.PairID,
		ConnectionStatus: rec.ConnectionStatus,
		CreatedAt:        timex.FromMillis(rec.CreatedAt),
	}, nil
}

func (c *IdentityCache) Save(ctx context.Context, identity *models.Identity) error {
	b, err := json.Marshal(cachedIdentity{
		ID:               identity.ID,
		PublicKey:        identity.PublicKey,
		PairID:           identity.PairID,
		ConnectionStatus: identity.ConnectionStatus,
		CreatedAt:        timex.ToMillis(identity.CreatedAt),
	})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, KeyIdentity, string(b))
}

func (c *IdentityCache) Clear(ctx context.Context) error {
	return c.store.Remove(ctx, KeyIdentity)
}
