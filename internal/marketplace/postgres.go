package marketplace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"inkpass/internal/apperrors"
	"inkpass/internal/capability"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store backed by the kiosks and kiosk_items tables.
// Amounts are NUMERIC(20,0) so the full uint64 range survives the round trip.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

const selectKiosk = `
	SELECT id, owner, cap_hash, profits, version
	FROM kiosks
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKiosk(row rowScanner) (*Record, error) {
	k := &Record{Items: make(map[uuid.UUID]Item)}
	var capHash, profits string
	if err := row.Scan(&k.ID, &k.Owner, &capHash, &profits, &k.Version); err != nil {
		return nil, err
	}
	k.CapHash = capability.Hash(capHash)
	var err error
	if k.Profits, err = parseAmount(profits); err != nil {
		return nil, err
	}
	return k, nil
}

func (s *postgresStore) Insert(ctx context.Context, k *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kiosks (id, owner, cap_hash, profits, version)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.Owner, string(k.CapHash), formatAmount(k.Profits), k.Version)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperrors.ErrConcurrencyConflict.WithDetails("kiosk %s already exists", k.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert kiosk: %w", err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	k, err := scanKiosk(s.db.QueryRowContext(ctx, selectKiosk+`WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound.WithDetails("kiosk %s", id)
		}
		return nil, fmt.Errorf("failed to get kiosk: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kiosk_id, subscription_id, listed, price
		FROM kiosk_items
		WHERE kiosk_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load kiosk items: %w", err)
	}
	if err := collectItems(rows, map[uuid.UUID]*Record{k.ID: k}); err != nil {
		return nil, err
	}
	return k, nil
}

// Save rewrites the kiosk row and its items in one transaction.
func (s *postgresStore) Save(ctx context.Context, k *Record, expectedVersion int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE kiosks
		SET profits = $1, version = $2, updated_at = NOW()
		WHERE id = $3 AND version = $4
	`, formatAmount(k.Profits), k.Version, k.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update kiosk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return apperrors.ErrConcurrencyConflict.WithDetails("kiosk %s not at version %d", k.ID, expectedVersion)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kiosk_items WHERE kiosk_id = $1`, k.ID); err != nil {
		return fmt.Errorf("failed to clear kiosk items: %w", err)
	}
	for _, it := range sortedItems(k) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kiosk_items (kiosk_id, subscription_id, listed, price)
			VALUES ($1, $2, $3, $4)
		`, k.ID, it.SubscriptionID, it.Listed, formatAmount(it.Price))
		if err != nil {
			return fmt.Errorf("failed to store kiosk item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectKiosk+`ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list kiosks: %w", err)
	}
	defer rows.Close()

	var out []*Record
	byID := make(map[uuid.UUID]*Record)
	for rows.Next() {
		k, err := scanKiosk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kiosk: %w", err)
		}
		out = append(out, k)
		byID[k.ID] = k
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kiosks: %w", err)
	}

	itemRows, err := s.db.QueryContext(ctx, `SELECT kiosk_id, subscription_id, listed, price FROM kiosk_items`)
	if err != nil {
		return nil, fmt.Errorf("failed to load kiosk items: %w", err)
	}
	if err := collectItems(itemRows, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// collectItems attaches item rows to their kiosks and closes rows.
func collectItems(rows *sql.Rows, kiosks map[uuid.UUID]*Record) error {
	defer rows.Close()
	for rows.Next() {
		var (
			kioskID uuid.UUID
			it      Item
			price   string
		)
		if err := rows.Scan(&kioskID, &it.SubscriptionID, &it.Listed, &price); err != nil {
			return fmt.Errorf("failed to scan kiosk item: %w", err)
		}
		var err error
		if it.Price, err = parseAmount(price); err != nil {
			return err
		}
		if k, ok := kiosks[kioskID]; ok {
			k.Items[it.SubscriptionID] = it
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate kiosk items: %w", err)
	}
	return nil
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
