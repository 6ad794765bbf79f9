package pairs

import (
	"context"

	"github.com/dmitrijs2005/duodeck/internal/models"
)

// Collection holds one document per pair, keyed by models.PairID.
const Collection = "pairs"

type Repository interface {
	Create(ctx context.Context, pair *models.Pair) error
	Get(ctx context.Context, id string) (*models.Pair, error)
	Delete(ctx context.Context, id string) error
}
