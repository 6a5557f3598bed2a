package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inkpass/internal/access"
	"inkpass/internal/clients"
	"inkpass/internal/clock"
	"inkpass/internal/events"
	"inkpass/internal/httpapi"
	"inkpass/internal/logger"
	"inkpass/internal/pricing"
	"inkpass/internal/subscription"
	"inkpass/internal/treasury"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contentFixture struct {
	router   http.Handler
	clock    *clock.Manual
	pub      *pricing.Publication
	capToken string
	subID    uuid.UUID
}

// newContentFixture serves the library with access decisions fetched over
// HTTP from a ledger, the way the gateway runs.
func newContentFixture(t *testing.T) *contentFixture {
	t.Helper()
	ctx := context.Background()

	tr, err := treasury.New(0)
	require.NoError(t, err)
	catalog := pricing.NewMemoryCatalog()
	pub, capToken, err := catalog.CreatePublication(ctx, "Weekly", "0xcreator", 10, 20, true)
	require.NoError(t, err)

	clk := clock.At(0)
	ledger := subscription.NewService(subscription.NewMemoryStore(), tr, events.Discard{}, clk, logger.NewNoOpLogger())
	h, err := ledger.Subscribe(ctx, pub.Pricing, subscription.TierBasic, 10, "0xreader")
	require.NoError(t, err)

	ledgerRouter := chi.NewRouter()
	access.NewHandler(access.NewGate(ledger, catalog, logger.NewNoOpLogger())).Routes(ledgerRouter)
	ledgerSrv := httptest.NewServer(ledgerRouter)
	t.Cleanup(ledgerSrv.Close)

	guard := NewGuard(clients.NewAccessClient(ledgerSrv.URL), logger.NewNoOpLogger())
	r := chi.NewRouter()
	NewHandler(NewLibrary(guard)).Routes(r)

	return &contentFixture{router: r, clock: clk, pub: pub, capToken: capToken, subID: h.ID}
}

func (f *contentFixture) do(method, path, reader string, subID uuid.UUID, capToken, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if reader != "" {
		req.Header.Set(httpapi.CallerHeader, reader)
	}
	if subID != uuid.Nil {
		req.Header.Set(SubscriptionHeader, subID.String())
	}
	if capToken != "" {
		req.Header.Set(httpapi.CapabilityHeader, capToken)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *contentFixture) publish(t *testing.T, tier string) Article {
	t.Helper()
	rec := f.do(http.MethodPost, "/articles", "", uuid.Nil, f.capToken,
		`{"publication_id":"`+f.pub.PublicationID.String()+`","required_tier":"`+tier+`","title":"Launch","body":"text"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a Article
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&a))
	return a
}

func TestHandler_PublishRequiresCapability(t *testing.T) {
	f := newContentFixture(t)

	rec := f.do(http.MethodPost, "/articles", "0xreader", f.subID, "",
		`{"publication_id":"`+f.pub.PublicationID.String()+`","required_tier":"basic","title":"Launch"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/articles", "", uuid.Nil, f.capToken,
		`{"publication_id":"`+f.pub.PublicationID.String()+`","required_tier":"basic","title":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ReadAndComment(t *testing.T) {
	f := newContentFixture(t)
	basic := f.publish(t, "basic")
	premium := f.publish(t, "premium")

	rec := f.do(http.MethodGet, "/articles/"+basic.ID.String(), "0xreader", f.subID, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/articles/"+premium.ID.String(), "0xreader", f.subID, "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/articles/"+basic.ID.String(), "0xstranger", f.subID, "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/articles/"+basic.ID.String()+"/comments", "0xreader", f.subID, "", `{"body":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/articles/"+basic.ID.String()+"/comments", "0xreader", f.subID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var comments []Comment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&comments))
	require.Len(t, comments, 1)
	assert.Equal(t, "0xreader", comments[0].Author)
}

func TestHandler_CommentAfterExpiryIsRejected(t *testing.T) {
	f := newContentFixture(t)
	a := f.publish(t, "basic")

	rec := f.do(http.MethodGet, "/articles/"+a.ID.String(), "0xreader", f.subID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	f.clock.Advance(subscription.Period + time.Second)

	rec = f.do(http.MethodPost, "/articles/"+a.ID.String()+"/comments", "0xreader", f.subID, "", `{"body":"late"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/articles/"+a.ID.String()+"/comments", "", uuid.Nil, f.capToken, `{"body":"editor note"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandler_UnknownArticle(t *testing.T) {
	f := newContentFixture(t)
	rec := f.do(http.MethodGet, "/articles/"+uuid.NewString(), "0xreader", f.subID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
