package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"inkpass/internal/apperrors"
	"inkpass/internal/clock"
	"inkpass/internal/events"
	"inkpass/internal/logger"
	"inkpass/internal/pricing"
	"inkpass/internal/subscription"
	"inkpass/internal/treasury"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reader = "0xreader"

type gateFixture struct {
	gate     *Gate
	ledger   subscription.Service
	clock    *clock.Manual
	pricing  pricing.Pricing
	capToken string
	other    pricing.Pricing
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	ctx := context.Background()

	tr, err := treasury.New(0)
	require.NoError(t, err)
	catalog := pricing.NewMemoryCatalog()
	pub, token, err := catalog.CreatePublication(ctx, "Weekly", "0xcreator", 5_000_000_000, 15_000_000_000, true)
	require.NoError(t, err)
	other, _, err := catalog.CreatePublication(ctx, "Daily", "0xother", 1, 2, true)
	require.NoError(t, err)

	f := &gateFixture{
		clock:    clock.At(0),
		pricing:  pub.Pricing,
		capToken: token,
		other:    other.Pricing,
	}
	f.ledger = subscription.NewService(subscription.NewMemoryStore(), tr, events.Discard{}, f.clock, logger.NewNoOpLogger())
	f.gate = NewGate(f.ledger, catalog, logger.NewNoOpLogger())
	return f
}

func (f *gateFixture) subscribe(t *testing.T, tier subscription.Tier) *subscription.Holding {
	t.Helper()
	price, err := subscription.MonthlyPrice(f.pricing, tier)
	require.NoError(t, err)
	h, err := f.ledger.Subscribe(context.Background(), f.pricing, tier, price, reader)
	require.NoError(t, err)
	return h
}

func TestAuthorize_Decisions(t *testing.T) {
	f := newGateFixture(t)
	basic := f.subscribe(t, subscription.TierBasic)

	tests := []struct {
		name string
		req  Request
		want Decision
	}{
		{
			name: "basic reads basic",
			req:  Request{Reader: reader, PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierBasic, SubscriptionID: basic.ID},
			want: Decision{Kind: GrantedBySubscription, Tier: subscription.TierBasic},
		},
		{
			name: "basic reads free",
			req:  Request{Reader: reader, PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierFree, SubscriptionID: basic.ID},
			want: Decision{Kind: GrantedBySubscription, Tier: subscription.TierBasic},
		},
		{
			name: "basic cannot read premium",
			req:  Request{Reader: reader, PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierPremium, SubscriptionID: basic.ID},
			want: Decision{Kind: Denied, Reason: ReasonInsufficient},
		},
		{
			name: "wrong publication",
			req:  Request{Reader: reader, PublicationID: f.other.PublicationID, RequiredTier: subscription.TierFree, SubscriptionID: basic.ID},
			want: Decision{Kind: Denied, Reason: ReasonWrongPublication},
		},
		{
			name: "someone else's subscription",
			req:  Request{Reader: "0xfriend", PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierBasic, SubscriptionID: basic.ID},
			want: Decision{Kind: Denied, Reason: ReasonNotHolder},
		},
		{
			name: "unknown subscription",
			req:  Request{Reader: reader, PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierBasic, SubscriptionID: uuid.New()},
			want: Decision{Kind: Denied, Reason: ReasonNotHolder},
		},
		{
			name: "publisher capability bypasses tiers",
			req:  Request{PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierPremium, PublisherCap: f.capToken},
			want: Decision{Kind: GrantedByCapability},
		},
		{
			name: "capability is per publication",
			req:  Request{PublicationID: f.other.PublicationID, RequiredTier: subscription.TierPremium, PublisherCap: f.capToken},
			want: Decision{Kind: Denied, Reason: ReasonNotHolder},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.gate.Authorize(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorize_ExpiryBoundary(t *testing.T) {
	f := newGateFixture(t)
	h := f.subscribe(t, subscription.TierPremium)
	req := Request{Reader: reader, PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierBasic, SubscriptionID: h.ID}

	f.clock.Set(h.ExpiresAt.Add(-time.Second))
	d, err := f.gate.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Allowed())

	f.clock.Set(h.ExpiresAt)
	d, err = f.gate.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Decision{Kind: Denied, Reason: ReasonExpired}, d)
	assert.True(t, errors.Is(d.Err(), apperrors.ErrInsufficientAccess))
}

func TestAuthorize_EscrowedSubscriptionIsDenied(t *testing.T) {
	f := newGateFixture(t)
	h := f.subscribe(t, subscription.TierBasic)
	_, err := f.ledger.Transfer(context.Background(), h.ID, reader, "kiosk:"+uuid.NewString())
	require.NoError(t, err)

	d, err := f.gate.Authorize(context.Background(), Request{
		Reader: reader, PublicationID: f.pricing.PublicationID, RequiredTier: subscription.TierFree, SubscriptionID: h.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonNotHolder, d.Reason)
	assert.True(t, errors.Is(d.Err(), apperrors.ErrUnauthorized))
}

func TestAuthorize_UnknownTier(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.gate.Authorize(context.Background(), Request{RequiredTier: subscription.Tier(5)})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTier))
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, Decision{Kind: GrantedByCapability}.Err())
	assert.True(t, errors.Is(deny(ReasonWrongPublication).Err(), apperrors.ErrInvalidSubscription))
	assert.True(t, errors.Is(deny(ReasonInsufficient).Err(), apperrors.ErrInsufficientAccess))
}
