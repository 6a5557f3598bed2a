package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"inkpass/internal/access"
	"inkpass/internal/apperrors"
	"inkpass/internal/httpapi"
	"inkpass/internal/subscription"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessClient_Authorize(t *testing.T) {
	subID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, access.AuthorizePath, r.URL.Path)
		var req access.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, subID, req.SubscriptionID)
		assert.Equal(t, subscription.TierPremium, req.RequiredTier)

		httpapi.WriteJSON(w, http.StatusOK, access.Decision{Kind: access.Denied, Reason: access.ReasonExpired})
	}))
	defer srv.Close()

	d, err := NewAccessClient(srv.URL).Authorize(context.Background(), access.Request{
		Reader:         "0xreader",
		SubscriptionID: subID,
		RequiredTier:   subscription.TierPremium,
	})
	require.NoError(t, err)
	assert.Equal(t, access.Denied, d.Kind)
	assert.Equal(t, access.ReasonExpired, d.Reason)
}

func TestAccessClient_PropagatesAppErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteError(w, apperrors.ErrInvalidTier.WithDetails("unknown tier 9"))
	}))
	defer srv.Close()

	_, err := NewAccessClient(srv.URL).Authorize(context.Background(), access.Request{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTier))
}

func TestAccessClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAccessClient(srv.URL).Authorize(context.Background(), access.Request{})
	assert.EqualError(t, err, "unexpected status code: 502")
}
