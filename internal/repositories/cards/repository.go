package cards

import (
	"context"

	"github.com/dmitrijs2005/duodeck/internal/models"
)

// Collection holds every card of every pair, keyed by card id.
const Collection = "cards"

type Repository interface {
	Create(ctx context.Context, card *models.Card) error
	Get(ctx context.Context, id string) (*models.Card, error)
	ListByPair(ctx context.Context, pairID string) ([]*models.Card, error)
	ListUnread(ctx context.Context, pairID string) ([]*models.Card, error)
	SetRead(ctx context.Context, id string, read bool) error
	Delete(ctx context.Context, id string) error
}
