package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inkpass/internal/apperrors"
	"inkpass/internal/httpapi"
	"inkpass/internal/pricing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *ledgerFixture, pricing.Pricing) {
	t.Helper()
	f := newLedger(t)
	catalog := pricing.NewMemoryCatalog()
	pub, _, err := catalog.CreatePublication(context.Background(), "Weekly", "0xcreator", basicPrice, premiumPrice, false)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(f.svc, catalog).Routes(r)
	return r, f, pub.Pricing
}

func do(t *testing.T, h http.Handler, method, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != "" {
		req.Header.Set(httpapi.CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SubscribeRenewAndQuote(t *testing.T) {
	router, f, p := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/subscriptions", reader,
		`{"publication_id":"`+p.PublicationID.String()+`","tier":"basic","payment":5000000000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Holding
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, TierBasic, created.Tier)
	assert.Equal(t, reader, created.Owner)

	f.clock.Advance(15 * day)

	rec = do(t, router, http.MethodGet, "/subscriptions/"+created.ID.String()+"/quote?tier=premium", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q Quote
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&q))
	assert.Equal(t, uint64(12_500_000_000), q.TopUp)

	rec = do(t, router, http.MethodPost, "/subscriptions/"+created.ID.String()+"/renew", reader, `{"payment":5000000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var renewed Holding
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&renewed))
	assert.Equal(t, created.ExpiresAt.Add(Period).Unix(), renewed.ExpiresAt.Unix())

	rec = do(t, router, http.MethodGet, "/subscriptions?owner="+reader, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var owned []Holding
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&owned))
	assert.Len(t, owned, 1)
}

func TestHandler_ErrorMapping(t *testing.T) {
	router, _, p := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/subscriptions", reader,
		`{"publication_id":"`+p.PublicationID.String()+`","tier":"premium","payment":1}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body apperrors.Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeInsufficientPayment, body.Code)

	rec = do(t, router, http.MethodPost, "/subscriptions", reader,
		`{"publication_id":"`+p.PublicationID.String()+`","tier":"free","payment":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/subscriptions", reader,
		`{"publication_id":"`+p.PublicationID.String()+`","tier":"gold","payment":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/subscriptions/not-a-uuid", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_MissingTierIsRejected(t *testing.T) {
	router, f, p := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/subscriptions", reader,
		`{"publication_id":"`+p.PublicationID.String()+`","payment":5000000000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body apperrors.Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeInvalidTier, body.Code)

	h, err := f.svc.Subscribe(context.Background(), p, TierBasic, basicPrice, reader)
	require.NoError(t, err)
	rec = do(t, router, http.MethodPost, "/subscriptions/"+h.ID.String()+"/tier", reader, `{"payment":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeInvalidTier, body.Code)

	owned, err := f.svc.ListByOwner(context.Background(), reader)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, TierBasic, owned[0].Tier)
	assert.Equal(t, uint64(125_000_000), f.treasury.Collected())
}

func TestHandler_ValueReportsSuggestedResalePrice(t *testing.T) {
	router, f, p := newTestRouter(t)
	h, err := f.svc.Subscribe(context.Background(), p, TierBasic, basicPrice, reader)
	require.NoError(t, err)
	f.clock.Advance(15 * day)

	rec := do(t, router, http.MethodGet, "/subscriptions/"+h.ID.String()+"/value", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Valid                bool   `json:"valid"`
		RemainingValue       uint64 `json:"remaining_value"`
		SuggestedResalePrice uint64 `json:"suggested_resale_price"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Valid)
	assert.Equal(t, uint64(2_500_000_000), body.RemainingValue)
	assert.Equal(t, uint64(2_250_000_000), body.SuggestedResalePrice)
}
