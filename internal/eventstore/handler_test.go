package eventstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	es, mock := newMockStore(t)
	r := chi.NewRouter()
	NewHandler(es).Routes(r)
	return r, mock
}

func TestHandleStream_PagesWithCursor(t *testing.T) {
	router, mock := newStreamRouter(t)
	id := uuid.New()
	now := time.Unix(0, 0).UTC()

	mock.ExpectQuery("FROM events\\s+WHERE id > \\$1").
		WithArgs(int64(41), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "version", "created_at"}).
			AddRow(int64(42), id.String(), "subscription", "SubscriptionCreated", []byte(`{}`), 1, now).
			AddRow(int64(45), id.String(), "subscription", "SubscriptionRenewed", []byte(`{}`), 2, now))
	mock.ExpectQuery("FROM events\\s+WHERE id > \\$1").
		WithArgs(int64(45), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "version", "created_at"}))

	var page struct {
		Events []Record `json:"events"`
		Next   int64    `json:"next"`
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?from=41&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, "SubscriptionRenewed", page.Events[1].EventType)
	assert.Equal(t, int64(45), page.Next)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?from=45&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Empty(t, page.Events)
	assert.Equal(t, int64(45), page.Next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStream_RejectsBadCursor(t *testing.T) {
	router, mock := newStreamRouter(t)

	for _, query := range []string{"from=-1", "from=abc", "limit=0", "limit=1001"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
