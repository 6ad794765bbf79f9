package identities

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/timex"
)

type record struct {
	PublicKey        string                  `json:"publicKey"`
	PairID           *string                 `json:"pairId"`
	ConnectionStatus models.ConnectionStatus `json:"connectionStatus"`
	CreatedAt        int64                   `json:"createdAt"`
}

type DocumentRepository struct {
	store docstore.Store
}

func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

func (r *DocumentRepository) Create(ctx context.Context, identity *models.Identity) error {
	f, err := docstore.Encode(record{
		PublicKey:        identity.PublicKey,
		PairID:           identity.PairID,
		ConnectionStatus: identity.ConnectionStatus,
		CreatedAt:        timex.ToMillis(identity.CreatedAt),
	})
	if err != nil {
		return err
	}
	return r.store.Set(ctx, Collection, identity.ID, f)
}

// Get returns common.ErrorNotFound for an unknown id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*models.Identity, error) {
	d, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	return fromDocument(d)
}

// Snapshot is Get plus the document version, comparable with the versions
// delivered by Watch.
func (r *DocumentRepository) Snapshot(ctx context.Context, id string) (*models.Identity, int64, error) {
	d, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, 0, err
	}
	identity, err := fromDocument(d)
	if err != nil {
		return nil, 0, err
	}
	return identity, d.Version, nil
}

// SetStatus writes status and pair binding together so that no reader sees
// one without the other.
func (r *DocumentRepository) SetStatus(ctx context.Context, id string, status models.ConnectionStatus, pairID *string) error {
	return r.store.Update(ctx, Collection, id, docstore.Fields{
		"connectionStatus": string(status),
		"pairId":           pairID,
	})
}

// Watch reports the identity after every committed change; nil means it was
// deleted. Undecodable snapshots are skipped.
func (r *DocumentRepository) Watch(ctx context.Context, id string, fn func(*models.Identity, int64)) (func(), error) {
	return r.store.Subscribe(ctx, Collection, id, func(d *docstore.Document) {
		if d == nil {
			fn(nil, 0)
			return
		}
		identity, err := fromDocument(d)
		if err != nil {
			return
		}
		fn(identity, d.Version)
	})
}

func fromDocument(d *docstore.Document) (*models.Identity, error) {
	var rec record
	if err := d.Decode(&rec); err != nil {
		return nil, fmt.Errorf("identity %s: %w", d.ID, err)
	}
	status := rec.ConnectionStatus
	if !status.Valid() {
		status = models.StatusUnpaired
	}
	return &models.Identity{
		ID:               d.ID,
		PublicKey:        rec.PublicKey,
		PairID:           rec.PairID,
		ConnectionStatus: status,
		CreatedAt:        timex.FromMillis(rec.CreatedAt),
	}, nil
}
