// Package access decides whether a reader may see tier-gated content.
package access

import (
	"context"
	"fmt"
	"time"

	"inkpass/internal/apperrors"
	"inkpass/internal/logger"
	"inkpass/internal/metrics"
	"inkpass/internal/pricing"
	"inkpass/internal/subscription"

	"github.com/google/uuid"
)

// Kind is the outcome of an authorization.
type Kind uint8

const (
	Denied Kind = iota
	GrantedBySubscription
	GrantedByCapability
)

func (k Kind) String() string {
	switch k {
	case GrantedBySubscription:
		return "granted_by_subscription"
	case GrantedByCapability:
		return "granted_by_capability"
	default:
		return "denied"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "granted_by_subscription":
		*k = GrantedBySubscription
	case "granted_by_capability":
		*k = GrantedByCapability
	case "denied":
		*k = Denied
	default:
		return fmt.Errorf("unknown decision kind %q", text)
	}
	return nil
}

// Reason explains a denial.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInsufficient
	ReasonExpired
	ReasonWrongPublication
	ReasonNotHolder
)

func (r Reason) String() string {
	switch r {
	case ReasonInsufficient:
		return "insufficient"
	case ReasonExpired:
		return "expired"
	case ReasonWrongPublication:
		return "wrong_publication"
	case ReasonNotHolder:
		return "not_holder"
	default:
		return ""
	}
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Reason) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*r = ReasonNone
	case "insufficient":
		*r = ReasonInsufficient
	case "expired":
		*r = ReasonExpired
	case "wrong_publication":
		*r = ReasonWrongPublication
	case "not_holder":
		*r = ReasonNotHolder
	default:
		return fmt.Errorf("unknown denial reason %q", text)
	}
	return nil
}

// Decision is one of GrantedBySubscription(Tier), GrantedByCapability or Denied(Reason).
type Decision struct {
	Kind   Kind              `json:"kind"`
	Tier   subscription.Tier `json:"tier,omitempty"`
	Reason Reason            `json:"reason,omitempty"`
}

func (d Decision) Allowed() bool {
	return d.Kind == GrantedBySubscription || d.Kind == GrantedByCapability
}

// Err converts a denial into the matching application error, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed() {
		return nil
	}
	switch d.Reason {
	case ReasonWrongPublication:
		return apperrors.ErrInvalidSubscription
	case ReasonExpired:
		return apperrors.ErrInsufficientAccess.WithDetails("subscription expired")
	case ReasonInsufficient:
		return apperrors.ErrInsufficientAccess.WithDetails("tier too low")
	default:
		return apperrors.ErrUnauthorized.WithDetails("reader does not hold the subscription")
	}
}

func deny(reason Reason) Decision {
	return Decision{Kind: Denied, Reason: reason}
}

// Request describes one access attempt. PublisherCap and SubscriptionID are both optional.
type Request struct {
	Reader         string            `json:"reader"`
	PublicationID  uuid.UUID         `json:"publication_id"`
	RequiredTier   subscription.Tier `json:"required_tier"`
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	PublisherCap   string            `json:"publisher_cap,omitempty"`
}

// Holdings is the read side of the ledger the gate consults.
type Holdings interface {
	Get(ctx context.Context, id uuid.UUID) (*subscription.Holding, error)
	Now() time.Time
}

// Gate authorizes reads and writes of gated content. Nothing is cached: every
// call re-reads the subscription and the clock.
type Gate struct {
	holdings Holdings
	catalog  pricing.Catalog
	logger   logger.Logger
}

func NewGate(holdings Holdings, catalog pricing.Catalog, log logger.Logger) *Gate {
	return &Gate{
		holdings: holdings,
		catalog:  catalog,
		logger:   log.WithFields(map[string]interface{}{"component": "access"}),
	}
}

// Authorize checks the publisher capability first, then the subscription.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	if !req.RequiredTier.Valid() {
		return Decision{}, apperrors.ErrInvalidTier.WithDetails("unknown tier %d", uint8(req.RequiredTier))
	}

	d, err := g.decide(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	metrics.AccessDecisions.WithLabelValues(d.Kind.String(), d.Reason.String()).Inc()
	g.logger.Debug("access decision", map[string]interface{}{
		"publicationId":  req.PublicationID.String(),
		"subscriptionId": req.SubscriptionID.String(),
		"requiredTier":   req.RequiredTier.String(),
		"kind":           d.Kind.String(),
		"reason":         d.Reason.String(),
	})
	return d, nil
}

func (g *Gate) decide(ctx context.Context, req Request) (Decision, error) {
	if req.PublisherCap != "" && g.catalog.VerifyPublisher(ctx, req.PublicationID, req.PublisherCap) {
		return Decision{Kind: GrantedByCapability}, nil
	}
	if req.SubscriptionID == uuid.Nil || req.Reader == "" {
		return deny(ReasonNotHolder), nil
	}

	h, err := g.holdings.Get(ctx, req.SubscriptionID)
	if err != nil {
		if apperrors.Normalize(err).Code == apperrors.CodeNotFound {
			return deny(ReasonNotHolder), nil
		}
		return Decision{}, fmt.Errorf("failed to load subscription: %w", err)
	}

	now := g.holdings.Now()
	switch {
	case h.PublicationID != req.PublicationID:
		return deny(ReasonWrongPublication), nil
	case h.Owner != req.Reader:
		return deny(ReasonNotHolder), nil
	case !h.IsValid(now):
		return deny(ReasonExpired), nil
	case !h.HasTierAccess(req.RequiredTier, now):
		return deny(ReasonInsufficient), nil
	}
	return Decision{Kind: GrantedBySubscription, Tier: h.Tier}, nil
}
