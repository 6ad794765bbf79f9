// Package account owns the device identity: its id, its X25519 key pair and
// the identity document that publishes the public half.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/client/keystore"
	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/cryptox"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/repositories/identities"
	"github.com/google/uuid"
)

// Account reads and creates the device identity.
type Account struct {
	keys       keystore.Store
	cache      *keystore.IdentityCache
	identities identities.Repository
	log        logging.Logger

	now   func() time.Time
	newID func() string
}

func New(keys keystore.Store, repo identities.Repository, log logging.Logger) *Account {
	return &Account{
		keys:       keys,
		cache:      keystore.NewIdentityCache(keys),
		identities: repo,
		log:        logging.OrNop(log).With("module", "account"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Cache is the identity cache kept next to the keys.
func (a *Account) Cache() *keystore.IdentityCache { return a.cache }

// PrivateKey returns the device private key or common.ErrKeyMissing.
func (a *Account) PrivateKey(ctx context.Context) (string, error) {
	v, ok, err := a.keys.Get(ctx, keystore.KeyPrivateKey)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", common.ErrKeyMissing
	}
	return v, nil
}

// Bootstrap returns the device identity, creating the key pair and the
// identity document on first start. When the store is unreachable the cached
// identity is returned with offline set.
func (a *Account) Bootstrap(ctx context.Context) (identity *models.Identity, offline bool, err error) {
	id, ok, err := a.keys.Get(ctx, keystore.KeyIdentityID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		identity, err := a.create(ctx)
		return identity, false, err
	}

	priv, err := a.PrivateKey(ctx)
	if err != nil {
		return nil, false, err
	}
	pub, err := cryptox.PublicKeyOf(priv)
	if err != nil {
		return nil, false, err
	}

	identity, err = a.identities.Get(ctx, id)
	switch {
	case err == nil:
		if identity.PublicKey != pub {
			return nil, false, fmt.Errorf("identity %s: %w", id, common.ErrInvalidKey)
		}
		return identity, false, nil

	case errors.Is(err, common.ErrorNotFound):
		a.log.Warn(ctx, "identity document missing, publishing again", "identity_id", id)
		identity = &models.Identity{ID: id, PublicKey: pub, ConnectionStatus: models.StatusUnpaired, CreatedAt: a.now().UTC()}
		if err := a.identities.Create(ctx, identity); err != nil {
			return nil, false, fmt.Errorf("publish identity: %w", err)
		}
		return identity, false, nil

	case common.IsRetryable(err):
		cached, cerr := a.cache.Load(ctx)
		if cerr != nil || cached == nil || cached.ID != id {
			return nil, false, err
		}
		a.log.Warn(ctx, "store unreachable, using cached identity", "identity_id", id)
		return cached, true, nil
	}
	return nil, false, err
}

// create generates the device key pair and publishes a fresh identity. Keys
// are stored before the document so a failed publish is repaired by the next
// Bootstrap.
func (a *Account) create(ctx context.Context) (*models.Identity, error) {
	kp, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	identity := &models.Identity{
		ID:               a.newID(),
		PublicKey:        kp.PublicKey,
		ConnectionStatus: models.StatusUnpaired,
		CreatedAt:        a.now().UTC(),
	}

	if err := a.keys.Set(ctx, keystore.KeyPrivateKey, kp.PrivateKey); err != nil {
		return nil, fmt.Errorf("store private key: %w", err)
	}
	if err := a.keys.Set(ctx, keystore.KeyIdentityID, identity.ID); err != nil {
		return nil, fmt.Errorf("store identity id: %w", err)
	}
	if err := a.identities.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("publish identity: %w", err)
	}

	a.log.Info(ctx, "identity created", "identity_id", identity.ID)
	return identity, nil
}
