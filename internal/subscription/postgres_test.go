package subscription

import (
	"context"
	"errors"
	"testing"

	"inkpass/internal/apperrors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var holdingColumns = []string{"id", "publication_id", "tier", "subscribed_at", "expires_at", "original_subscriber", "owner", "version"}

func newMockPostgresStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func testHolding() *Holding {
	return &Holding{
		Subscription: subAt(TierBasic, 0),
		Owner:        reader,
		Version:      1,
	}
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	h := testHolding()

	mock.ExpectQuery("SELECT id, publication_id, tier").
		WithArgs(h.ID).
		WillReturnRows(sqlmock.NewRows(holdingColumns).AddRow(
			h.ID.String(), h.PublicationID.String(), "basic", h.SubscribedAt, h.ExpiresAt, "", reader, 1,
		))

	got, err := store.Get(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, got.ID)
	assert.Equal(t, TierBasic, got.Tier)
	assert.Equal(t, h.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, reader, got.Owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, publication_id, tier").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(holdingColumns))

	_, err := store.Get(context.Background(), id)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestPostgresStore_UpdateChecksVersion(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	h := testHolding()
	h.Version = 2

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(h.ExpiresAt, h.Owner, 2, h.ID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(h.ExpiresAt, h.Owner, 2, h.ID, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Update(context.Background(), h, 1))

	err := store.Update(context.Background(), h, 1)
	assert.True(t, errors.Is(err, apperrors.ErrConcurrencyConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDuplicate(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	h := testHolding()

	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Insert(context.Background(), h)
	assert.True(t, errors.Is(err, apperrors.ErrConcurrencyConflict))
}

func TestPostgresStore_ReplaceIsTransactional(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	old := testHolding()
	next := testHolding()
	next.Tier = TierPremium

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM subscriptions").
		WithArgs(old.ID, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs(next.ID, next.PublicationID, "premium", next.SubscribedAt, next.ExpiresAt, "", reader, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Replace(context.Background(), old.ID, 1, next))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceStaleVersionRollsBack(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	old := testHolding()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM subscriptions").
		WithArgs(old.ID, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Replace(context.Background(), old.ID, 3, testHolding())
	assert.True(t, errors.Is(err, apperrors.ErrConcurrencyConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
