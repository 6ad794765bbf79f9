package invites

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/timex"
)

type record struct {
	IssuerID        string `json:"issuerId"`
	IssuerPublicKey string `json:"issuerPublicKey"`
	CreatedAt       int64  `json:"createdAt"`
	ExpiresAt       int64  `json:"expiresAt"`
}

type DocumentRepository struct {
	store docstore.Store
}

func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

func (r *DocumentRepository) Create(ctx context.Context, invite *models.InviteCode) error {
	f, err := docstore.Encode(record{
		IssuerID:        invite.IssuerID,
		IssuerPublicKey: invite.IssuerPublicKey,
		CreatedAt:       timex.ToMillis(invite.CreatedAt),
		ExpiresAt:       timex.ToMillis(invite.ExpiresAt),
	})
	if err != nil {
		return err
	}
	return r.store.Set(ctx, Collection, invite.Code, f)
}

func (r *DocumentRepository) Exists(ctx context.Context, code string) (bool, error) {
	_, err := r.store.Get(ctx, Collection, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrorNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Get returns common.ErrorNotFound for an unknown code.
func (r *DocumentRepository) Get(ctx context.Context, code string) (*models.InviteCode, error) {
	d, err := r.store.Get(ctx, Collection, code)
	if err != nil {
		return nil, err
	}
	return fromDocument(d)
}

func (r *DocumentRepository) ListByIssuer(ctx context.Context, issuerID string) ([]*models.InviteCode, error) {
	docs, err := r.store.Query(ctx, Collection, docstore.Query{OrderBy: "createdAt"}.Where("issuerId", issuerID))
	if err != nil {
		return nil, err
	}
	out := make([]*models.InviteCode, 0, len(docs))
	for _, d := range docs {
		inv, err := fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, code string) error {
	return r.store.Delete(ctx, Collection, code)
}

func fromDocument(d *docstore.Document) (*models.InviteCode, error) {
	var rec record
	if err := d.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invite %s: %w", d.ID, err)
	}
	return &models.InviteCode{
		Code:            d.ID,
		IssuerID:        rec.IssuerID,
		IssuerPublicKey: rec.IssuerPublicKey,
		CreatedAt:       timex.FromMillis(rec.CreatedAt),
		ExpiresAt:       timex.FromMillis(rec.ExpiresAt),
	}, nil
}
