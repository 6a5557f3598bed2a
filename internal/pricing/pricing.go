// Package pricing holds per-publication tier prices and the publisher capability for each publication.
package pricing

import (
	"context"
	"sync"

	"inkpass/internal/apperrors"
	"inkpass/internal/capability"

	"github.com/google/uuid"
)

// Pricing is an immutable snapshot of a publication's prices. Operations take
// it by value so a concurrent price change never affects a check in flight.
type Pricing struct {
	PublicationID   uuid.UUID `json:"publication_id"`
	Creator         string    `json:"creator"`
	BasicPrice      uint64    `json:"basic_price"`
	PremiumPrice    uint64    `json:"premium_price"`
	FreeTierEnabled bool      `json:"free_tier_enabled"`
}

// Publication is a catalog entry.
type Publication struct {
	Pricing
	Name string `json:"name"`

	capHash capability.Hash
}

// Catalog is the read side consumed by the ledger and the access gate.
type Catalog interface {
	Snapshot(ctx context.Context, publicationID uuid.UUID) (Pricing, error)
	VerifyPublisher(ctx context.Context, publicationID uuid.UUID, capToken string) bool
}

// newPublication validates a new catalog entry and issues its publisher capability.
func newPublication(name, creator string, basic, premium uint64, freeTier bool) (*Publication, string, error) {
	if creator == "" {
		return nil, "", apperrors.ErrValidation.WithDetails("publication creator address required")
	}
	token, h, err := capability.Issue()
	if err != nil {
		return nil, "", err
	}
	return &Publication{
		Pricing: Pricing{
			PublicationID:   uuid.New(),
			Creator:         creator,
			BasicPrice:      basic,
			PremiumPrice:    premium,
			FreeTierEnabled: freeTier,
		},
		Name:    name,
		capHash: h,
	}, token, nil
}

// MemoryCatalog is an in-process Catalog that also supports publisher writes.
type MemoryCatalog struct {
	mu           sync.RWMutex
	publications map[uuid.UUID]*Publication
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{publications: make(map[uuid.UUID]*Publication)}
}

// CreatePublication registers a publication and returns the publisher capability token.
func (c *MemoryCatalog) CreatePublication(ctx context.Context, name, creator string, basic, premium uint64, freeTier bool) (*Publication, string, error) {
	pub, token, err := newPublication(name, creator, basic, premium, freeTier)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	c.publications[pub.PublicationID] = pub
	c.mu.Unlock()

	out := *pub
	return &out, token, nil
}

// UpdatePricing replaces the prices of a publication. Requires the publisher capability.
func (c *MemoryCatalog) UpdatePricing(ctx context.Context, publicationID uuid.UUID, capToken string, basic, premium uint64, freeTier bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pub, ok := c.publications[publicationID]
	if !ok {
		return apperrors.ErrNotFound.WithDetails("publication %s", publicationID)
	}
	if !capability.Verify(capToken, pub.capHash) {
		return apperrors.ErrUnauthorized.WithDetails("publisher capability rejected for %s", publicationID)
	}

	pub.BasicPrice = basic
	pub.PremiumPrice = premium
	pub.FreeTierEnabled = freeTier
	return nil
}

func (c *MemoryCatalog) Snapshot(ctx context.Context, publicationID uuid.UUID) (Pricing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pub, ok := c.publications[publicationID]
	if !ok {
		return Pricing{}, apperrors.ErrNotFound.WithDetails("publication %s", publicationID)
	}
	return pub.Pricing, nil
}

func (c *MemoryCatalog) VerifyPublisher(ctx context.Context, publicationID uuid.UUID, capToken string) bool {
	c.mu.RLock()
	pub, ok := c.publications[publicationID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return capability.Verify(capToken, pub.capHash)
}
