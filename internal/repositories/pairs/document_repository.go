package pairs

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/timex"
)

type record struct {
	MemberAID  string `json:"memberAId"`
	MemberBID  string `json:"memberBId"`
	InviteCode string `json:"inviteCode,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

type DocumentRepository struct {
	store docstore.Store
}

func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

func (r *DocumentRepository) Create(ctx context.Context, pair *models.Pair) error {
	f, err := docstore.Encode(record{
		MemberAID:  pair.MemberAID,
		MemberBID:  pair.MemberBID,
		InviteCode: pair.InviteCode,
		CreatedAt:  timex.ToMillis(pair.CreatedAt),
	})
	if err != nil {
		return err
	}
	return r.store.Set(ctx, Collection, pair.ID, f)
}

// Get returns common.ErrorNotFound for an unknown pair.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*models.Pair, error) {
	d, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := d.Decode(&rec); err != nil {
		return nil, fmt.Errorf("pair %s: %w", id, err)
	}
	return &models.Pair{
		ID:         d.ID,
		MemberAID:  rec.MemberAID,
		MemberBID:  rec.MemberBID,
		InviteCode: rec.InviteCode,
		CreatedAt:  timex.FromMillis(rec.CreatedAt),
	}, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, Collection, id)
}
