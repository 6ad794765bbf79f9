package draws

import (
	"context"

	"github.com/dmitrijs2005/duodeck/internal/models"
)

// Records live in the per-pair collection models.DrawsCollection(pairID).
type Repository interface {
	Add(ctx context.Context, draw *models.DrawRecord) error
	Latest(ctx context.Context, pairID, viewerID string) (*models.DrawRecord, error)
	List(ctx context.Context, pairID string) ([]*models.DrawRecord, error)
	Delete(ctx context.Context, pairID, id string) error
}
