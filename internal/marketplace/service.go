package marketplace

import (
	"context"

	"inkpass/internal/subscription"

	"github.com/google/uuid"
)

// Service defines the interface for resale through kiosks.
type Service interface {
	CreateKiosk(ctx context.Context, owner string) (*Kiosk, string, error)
	GetKiosk(ctx context.Context, kioskID uuid.UUID) (*Kiosk, error)
	Place(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID) error
	PlaceAndList(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID, price uint64) error
	List(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID, price uint64) error
	UpdatePrice(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID, newPrice uint64) error
	Delist(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID) error
	Take(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID) (*subscription.Holding, error)
	Purchase(ctx context.Context, kioskID, subID uuid.UUID, buyer string, payment, royaltyPayment uint64) (*subscription.Holding, error)
	WithdrawProfits(ctx context.Context, kioskID uuid.UUID, capToken string) (uint64, error)
	Listings(ctx context.Context) ([]Listing, error)
}
