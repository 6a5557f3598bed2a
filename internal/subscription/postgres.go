package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"inkpass/internal/apperrors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store backed by the subscriptions table.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

const selectHolding = `
	SELECT id, publication_id, tier, subscribed_at, expires_at, original_subscriber, owner, version
	FROM subscriptions
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHolding(row rowScanner) (*Holding, error) {
	h := &Holding{}
	var tier string
	err := row.Scan(
		&h.ID,
		&h.PublicationID,
		&tier,
		&h.SubscribedAt,
		&h.ExpiresAt,
		&h.OriginalSubscriber,
		&h.Owner,
		&h.Version,
	)
	if err != nil {
		return nil, err
	}
	if h.Tier, err = ParseTier(tier); err != nil {
		return nil, err
	}
	h.SubscribedAt = h.SubscribedAt.UTC()
	h.ExpiresAt = h.ExpiresAt.UTC()
	return h, nil
}

func (s *postgresStore) Get(ctx context.Context, id uuid.UUID) (*Holding, error) {
	h, err := scanHolding(s.db.QueryRowContext(ctx, selectHolding+`WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound.WithDetails("subscription %s", id)
		}
		return nil, fmt.Errorf("failed to get subscription from read model: %w", err)
	}
	return h, nil
}

func (s *postgresStore) ListByOwner(ctx context.Context, owner string) ([]*Holding, error) {
	rows, err := s.db.QueryContext(ctx, selectHolding+`WHERE owner = $1 ORDER BY subscribed_at ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return out, nil
}

const insertHolding = `
	INSERT INTO subscriptions (id, publication_id, tier, subscribed_at, expires_at, original_subscriber, owner, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insert(ctx context.Context, db execer, h *Holding) error {
	_, err := db.ExecContext(ctx, insertHolding,
		h.ID, h.PublicationID, h.Tier.String(), h.SubscribedAt, h.ExpiresAt, h.OriginalSubscriber, h.Owner, h.Version)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperrors.ErrConcurrencyConflict.WithDetails("subscription %s already exists", h.ID)
	}
	return err
}

func (s *postgresStore) Insert(ctx context.Context, h *Holding) error {
	if err := insert(ctx, s.db, h); err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (s *postgresStore) Update(ctx context.Context, h *Holding, expectedVersion int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET expires_at = $1, owner = $2, version = $3, updated_at = NOW()
		WHERE id = $4 AND version = $5
	`, h.ExpiresAt, h.Owner, h.Version, h.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return expectOneRow(res, h.ID, expectedVersion)
}

func (s *postgresStore) Replace(ctx context.Context, oldID uuid.UUID, expectedVersion int, h *Holding) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1 AND version = $2`, oldID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to retire subscription: %w", err)
	}
	if err := expectOneRow(res, oldID, expectedVersion); err != nil {
		return err
	}

	if err := insert(ctx, tx, h); err != nil {
		return fmt.Errorf("failed to insert replacement subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, id uuid.UUID, expectedVersion int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return apperrors.ErrConcurrencyConflict.WithDetails("subscription %s not at version %d", id, expectedVersion)
	}
	return nil
}
