package invites

import (
	"context"

	"github.com/dmitrijs2005/duodeck/internal/models"
)

// Collection holds one document per invite, keyed by the code itself.
const Collection = "inviteCodes"

type Repository interface {
	Create(ctx context.Context, invite *models.InviteCode) error
	Exists(ctx context.Context, code string) (bool, error)
	Get(ctx context.Context, code string) (*models.InviteCode, error)
	ListByIssuer(ctx context.Context, issuerID string) ([]*models.InviteCode, error)
	Delete(ctx context.Context, code string) error
}
