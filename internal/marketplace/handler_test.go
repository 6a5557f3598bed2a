package marketplace

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inkpass/internal/apperrors"
	"inkpass/internal/httpapi"
	"inkpass/internal/subscription"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, path, caller, capToken, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(httpapi.CallerHeader, caller)
	if capToken != "" {
		req.Header.Set(httpapi.CapabilityHeader, capToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ListAndPurchase(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(f.market).Routes(r)
	h := f.subscribe(t)
	base := "/kiosks/" + f.kiosk.ID.String()

	rec := serve(t, r, http.MethodPost, base+"/items", seller, f.capToken,
		`{"subscription_id":"`+h.ID.String()+`","price":2000000000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(t, r, http.MethodGet, "/listings", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listings []Listing
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listings))
	require.Len(t, listings, 1)

	rec = serve(t, r, http.MethodPost, base+"/items/"+h.ID.String()+"/purchase", buyer, "",
		`{"payment":1,"royalty_payment":100000000}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var apiErr apperrors.Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
	assert.Equal(t, apperrors.CodePriceMismatch, apiErr.Code)

	rec = serve(t, r, http.MethodPost, base+"/items/"+h.ID.String()+"/purchase", buyer, "",
		`{"payment":2000000000,"royalty_payment":100000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bought subscription.Holding
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bought))
	assert.Equal(t, buyer, bought.Owner)

	rec = serve(t, r, http.MethodPost, base+"/withdraw", seller, f.capToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var withdrawn map[string]uint64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&withdrawn))
	assert.Equal(t, listPrice, withdrawn["amount"])
}

func TestHandler_OwnerOperationsNeedCapability(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(f.market).Routes(r)
	h := f.listed(t)

	rec := serve(t, r, http.MethodDelete, "/kiosks/"+f.kiosk.ID.String()+"/items/"+h.ID.String(), seller, "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, r, http.MethodPut, "/kiosks/"+f.kiosk.ID.String()+"/items/"+h.ID.String()+"/listing", seller, f.capToken, `{"price":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, r, http.MethodDelete, "/kiosks/"+f.kiosk.ID.String()+"/items/"+h.ID.String()+"/listing", seller, f.capToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
