package identities

import (
	"context"

	"github.com/dmitrijs2005/duodeck/internal/models"
)

// Collection holds one document per identity, keyed by identity id.
const Collection = "identities"

type Repository interface {
	Create(ctx context.Context, identity *models.Identity) error
	Get(ctx context.Context, id string) (*models.Identity, error)
	Snapshot(ctx context.Context, id string) (*models.Identity, int64, error)
	SetStatus(ctx context.Context, id string, status models.ConnectionStatus, pairID *string) error
	Watch(ctx context.Context, id string, fn func(identity *models.Identity, version int64)) (func(), error)
}
