package draws

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/models"
	"github.com/dmitrijs2005/duodeck/internal/timex"
)

type record struct {
	PairID   string `json:"pairId"`
	CardID   string `json:"cardId"`
	ViewedBy string `json:"viewedBy"`
	DrawnAt  int64  `json:"drawnAt"`
}

type DocumentRepository struct {
	store docstore.Store
}

func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

// Add appends a record. Records are never updated.
func (r *DocumentRepository) Add(ctx context.Context, draw *models.DrawRecord) error {
	f, err := docstore.Encode(record{
		PairID:   draw.PairID,
		CardID:   draw.CardID,
		ViewedBy: draw.ViewedBy,
		DrawnAt:  timex.ToMillis(draw.DrawnAt),
	})
	if err != nil {
		return err
	}
	return r.store.Set(ctx, models.DrawsCollection(draw.PairID), draw.ID, f)
}

// Latest returns the most recent draw by viewerID in the pair, or nil.
func (r *DocumentRepository) Latest(ctx context.Context, pairID, viewerID string) (*models.DrawRecord, error) {
	docs, err := r.store.Query(ctx, models.DrawsCollection(pairID),
		docstore.Query{OrderBy: "drawnAt", Descending: true, Limit: 1}.Where("viewedBy", viewerID))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return fromDocument(docs[0])
}

func (r *DocumentRepository) List(ctx context.Context, pairID string) ([]*models.DrawRecord, error) {
	docs, err := r.store.Query(ctx, models.DrawsCollection(pairID), docstore.Query{OrderBy: "drawnAt"})
	if err != nil {
		return nil, err
	}
	out := make([]*models.DrawRecord, 0, len(docs))
	for _, d := range docs {
		rec, err := fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, pairID, id string) error {
	return r.store.Delete(ctx, models.DrawsCollection(pairID), id)
}

func fromDocument(d *docstore.Document) (*models.DrawRecord, error) {
	var rec record
	if err := d.Decode(&rec); err != nil {
		return nil, fmt.Errorf("draw %s: %w", d.ID, err)
	}
	return &models.DrawRecord{
		ID:       d.ID,
		PairID:   rec.PairID,
		CardID:   rec.CardID,
		ViewedBy: rec.ViewedBy,
		DrawnAt:  timex.FromMillis(rec.DrawnAt),
	}, nil
}
