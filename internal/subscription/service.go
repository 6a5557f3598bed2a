package subscription

import (
	"context"
	"time"

	"inkpass/internal/pricing"

	"github.com/google/uuid"
)

// Service defines the interface for the subscription ledger.
type Service interface {
	Subscribe(ctx context.Context, p pricing.Pricing, tier Tier, payment uint64, subscriber string) (*Holding, error)
	Renew(ctx context.Context, id uuid.UUID, p pricing.Pricing, payment uint64, caller string) (*Holding, error)
	ChangeTier(ctx context.Context, id uuid.UUID, p pricing.Pricing, newTier Tier, payment uint64, caller string) (*Holding, error)
	Quote(ctx context.Context, id uuid.UUID, p pricing.Pricing, newTier Tier) (Quote, error)
	Transfer(ctx context.Context, id uuid.UUID, from, to string) (*Holding, error)
	Get(ctx context.Context, id uuid.UUID) (*Holding, error)
	ListByOwner(ctx context.Context, owner string) ([]*Holding, error)
	Now() time.Time
}
