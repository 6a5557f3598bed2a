package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"inkpass/internal/apperrors"
	"inkpass/internal/capability"

	"github.com/google/uuid"
)

// PostgresCatalog keeps publications in the publications table. Prices are
// NUMERIC(20,0) so the full uint64 range survives the round trip.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) CreatePublication(ctx context.Context, name, creator string, basic, premium uint64, freeTier bool) (*Publication, string, error) {
	pub, token, err := newPublication(name, creator, basic, premium, freeTier)
	if err != nil {
		return nil, "", err
	}

	query := `
		INSERT INTO publications (id, name, creator, basic_price, premium_price, free_tier_enabled, publisher_cap_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.ExecContext(ctx, query,
		pub.PublicationID, pub.Name, pub.Creator, formatAmount(basic), formatAmount(premium), freeTier, string(pub.capHash))
	if err != nil {
		return nil, "", fmt.Errorf("failed to insert publication: %w", err)
	}
	return pub, token, nil
}

func (c *PostgresCatalog) UpdatePricing(ctx context.Context, publicationID uuid.UUID, capToken string, basic, premium uint64, freeTier bool) error {
	pub, err := c.get(ctx, publicationID)
	if err != nil {
		return err
	}
	if !capability.Verify(capToken, pub.capHash) {
		return apperrors.ErrUnauthorized.WithDetails("publisher capability rejected for %s", publicationID)
	}

	query := `
		UPDATE publications
		SET basic_price = $1, premium_price = $2, free_tier_enabled = $3, updated_at = NOW()
		WHERE id = $4
	`
	if _, err := c.db.ExecContext(ctx, query, formatAmount(basic), formatAmount(premium), freeTier, publicationID); err != nil {
		return fmt.Errorf("failed to update pricing: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) Snapshot(ctx context.Context, publicationID uuid.UUID) (Pricing, error) {
	pub, err := c.get(ctx, publicationID)
	if err != nil {
		return Pricing{}, err
	}
	return pub.Pricing, nil
}

func (c *PostgresCatalog) VerifyPublisher(ctx context.Context, publicationID uuid.UUID, capToken string) bool {
	pub, err := c.get(ctx, publicationID)
	if err != nil {
		return false
	}
	return capability.Verify(capToken, pub.capHash)
}

func (c *PostgresCatalog) get(ctx context.Context, id uuid.UUID) (*Publication, error) {
	query := `
		SELECT id, name, creator, basic_price, premium_price, free_tier_enabled, publisher_cap_hash
		FROM publications
		WHERE id = $1
	`
	var (
		pub            Publication
		basic, premium string
		capHash        string
	)
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&pub.PublicationID,
		&pub.Name,
		&pub.Creator,
		&basic,
		&premium,
		&pub.FreeTierEnabled,
		&capHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound.WithDetails("publication %s", id)
		}
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}
	if pub.BasicPrice, err = parseAmount(basic); err != nil {
		return nil, err
	}
	if pub.PremiumPrice, err = parseAmount(premium); err != nil {
		return nil, err
	}
	pub.capHash = capability.Hash(capHash)
	return &pub, nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return v, nil
}
