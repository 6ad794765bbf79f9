package cards

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/timex"
)

type record struct {
	PairID           string             `json:"pairId"`
	CreatorID        string             `json:"creatorId"`
	EncryptedContent []byte             `json:"encryptedContent,omitempty"`
	ContentType      models.ContentType `json:"contentType"`
	StoragePath      string             `json:"storagePath,omitempty"`
	IsRead           bool               `json:"isRead"`
	CreatedAt        int64              `json:"createdAt"`
	TemplateUsed     string             `json:"templateUsed,omitempty"`
}

type DocumentRepository struct {
	store docstore.Store
}

func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

func (r *DocumentRepository) Create(ctx context.Context, card *models.Card) error {
	f, err := docstore.Encode(record{
		PairID:           card.PairID,
		CreatorID:        card.CreatorID,
		EncryptedContent: card.EncryptedContent,
		ContentType:      card.ContentType,
		StoragePath:      card.StoragePath,
		IsRead:           card.IsRead,
		CreatedAt:        timex.ToMillis(card.CreatedAt),
		TemplateUsed:     card.TemplateUsed,
	})
	if err != nil {
		return err
	}
	return r.store.Set(ctx, Collection, card.ID, f)
}

// Get returns common.ErrorNotFound for an unknown card.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*models.Card, error) {
	d, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	return fromDocument(d)
}

func (r *DocumentRepository) ListByPair(ctx context.Context, pairID string) ([]*models.Card, error) {
	return r.list(ctx, docstore.Query{OrderBy: "createdAt"}.Where("pairId", pairID))
}

func (r *DocumentRepository) ListUnread(ctx context.Context, pairID string) ([]*models.Card, error) {
	return r.list(ctx, docstore.Query{OrderBy: "createdAt"}.Where("pairId", pairID).Where("isRead", false))
}

func (r *DocumentRepository) SetRead(ctx context.Context, id string, read bool) error {
	return r.store.Update(ctx, Collection, id, docstore.Fields{"isRead": read})
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, Collection, id)
}

func (r *DocumentRepository) list(ctx context.Context, q docstore.Query) ([]*models.Card, error) {
	docs, err := r.store.Query(ctx, Collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Card, 0, len(docs))
	for _, d := range docs {
		c, err := fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func fromDocument(d *docstore.Document) (*models.Card, error) {
	var rec record
	if err := d.Decode(&rec); err != nil {
		return nil, fmt.Errorf("card %s: %w", d.ID, err)
	}
	return &models.Card{
		ID:               d.ID,
		PairID:           rec.PairID,
		CreatorID:        rec.CreatorID,
		EncryptedContent: rec.EncryptedContent,
		ContentType:      rec.ContentType,
		StoragePath:      rec.StoragePath,
		IsRead:           rec.IsRead,
		CreatedAt:        timex.FromMillis(rec.CreatedAt),
		TemplateUsed:     rec.TemplateUsed,
	}, nil
}
