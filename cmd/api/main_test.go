package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"inkpass/internal/content"
	"inkpass/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestGateway_ProxiesLedger(t *testing.T) {
	var gotPath string
	ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ledger.Close()

	ledgerURL, err := url.Parse(ledger.URL)
	require.NoError(t, err)
	guard := content.NewGuard(nil, logger.NewNoOpLogger())
	gw := newGateway(ledgerURL, content.NewLibrary(guard), rate.NewLimiter(rate.Inf, 0))

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/listings", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "/listings", gotPath)
}

func TestGateway_ServesContent(t *testing.T) {
	ledgerURL, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)
	gw := newGateway(ledgerURL, content.NewLibrary(content.NewGuard(nil, logger.NewNoOpLogger())), rate.NewLimiter(rate.Inf, 0))

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/articles", strings.NewReader(`{"title":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/articles/6f1c1f3e-1111-4a6b-9a51-1f0e5e1c0001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
