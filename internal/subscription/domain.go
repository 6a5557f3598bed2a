package subscription

import (
	"fmt"
	"time"

	"inkpass/internal/apperrors"

	"github.com/google/uuid"
)

// Period is the length of one paid subscription period.
const Period = 30 * 24 * time.Hour

// SecondsPerMonth is Period in whole seconds; all proration divides by it.
const SecondsPerMonth uint64 = 30 * 24 * 3600

// Tier is an access level. Tiers are totally ordered: Free < Basic < Premium.
type Tier uint8

const (
	TierFree Tier = iota
	TierBasic
	TierPremium
)

// Tiers lists every tier in rank order.
var Tiers = []Tier{TierFree, TierBasic, TierPremium}

func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierBasic:
		return "basic"
	case TierPremium:
		return "premium"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium:
		return true
	default:
		return false
	}
}

// Rank orders tiers for access comparisons.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierBasic:
		return 1
	case TierPremium:
		return 2
	default:
		return -1
	}
}

// Satisfies reports whether t meets a required tier.
func (t Tier) Satisfies(required Tier) bool {
	return t.Valid() && required.Valid() && t.Rank() >= required.Rank()
}

// ParseTier accepts the lowercase tier names.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "free":
		return TierFree, nil
	case "basic":
		return TierBasic, nil
	case "premium":
		return TierPremium, nil
	default:
		return 0, apperrors.ErrInvalidTier.WithDetails("unknown tier %q", s)
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, apperrors.ErrInvalidTier.WithDetails("unknown tier %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Subscription is one reader's paid-up access to one publication. Its tier
// never changes; a tier change retires the instance and creates a new one.
type Subscription struct {
	ID            uuid.UUID `json:"id"`
	PublicationID uuid.UUID `json:"publication_id"`
	Tier          Tier      `json:"tier"`
	SubscribedAt  time.Time `json:"subscribed_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	// OriginalSubscriber is the address that created this instance. It is not
	// updated when the subscription is resold; see Holding.Owner for custody.
	OriginalSubscriber string `json:"original_subscriber"`
}

// IsValid reports whether the subscription grants access at now. An instance
// expiring exactly at now is already invalid.
func (s Subscription) IsValid(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// HasTierAccess reports whether the subscription is valid and its tier meets required.
func (s Subscription) HasTierAccess(required Tier, now time.Time) bool {
	return s.IsValid(now) && s.Tier.Satisfies(required)
}

// RemainingTime is the unused part of the current period, zero once expired.
func (s Subscription) RemainingTime(now time.Time) time.Duration {
	if !s.IsValid(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// renewedExpiry stacks a period on unused time, or restarts from now once expired.
func (s Subscription) renewedExpiry(now time.Time) time.Time {
	if s.IsValid(now) {
		return s.ExpiresAt.Add(Period)
	}
	return now.Add(Period)
}

// tierChangeExpiry carries unused time over in full and adds a fresh period.
func (s Subscription) tierChangeExpiry(now time.Time) time.Time {
	return now.Add(s.RemainingTime(now)).Add(Period)
}

// Holding is a subscription together with its current custody.
type Holding struct {
	Subscription
	// Owner is the current holder: a reader address, or a kiosk address while escrowed.
	Owner   string `json:"owner"`
	Version int    `json:"version"`
}

func (h *Holding) clone() *Holding {
	c := *h
	return &c
}

// Event types emitted by the ledger.
const (
	EventSubscriptionCreated     = "SubscriptionCreated"
	EventSubscriptionRenewed     = "SubscriptionRenewed"
	EventSubscriptionTierChanged = "SubscriptionTierChanged"
	EventSubscriptionRetired     = "SubscriptionRetired"
	EventSubscriptionTransferred = "SubscriptionTransferred"

	AggregateType = "subscription"
)

// SubscriptionCreatedEvent is published when a reader subscribes.
type SubscriptionCreatedEvent struct {
	ID            uuid.UUID `json:"id"`
	PublicationID uuid.UUID `json:"publication_id"`
	Subscriber    string    `json:"subscriber"`
	Tier          Tier      `json:"tier"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SubscriptionRenewedEvent is published when a subscription is extended.
type SubscriptionRenewedEvent struct {
	ID        uuid.UUID `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubscriptionTierChangedEvent is published when an instance is replaced by one of another tier.
type SubscriptionTierChangedEvent struct {
	OldID         uuid.UUID `json:"old_id"`
	NewID         uuid.UUID `json:"new_id"`
	PublicationID uuid.UUID `json:"publication_id"`
	Subscriber    string    `json:"subscriber"`
	OldTier       Tier      `json:"old_tier"`
	NewTier       Tier      `json:"new_tier"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SubscriptionRetiredEvent closes the stream of a replaced instance.
type SubscriptionRetiredEvent struct {
	ID         uuid.UUID `json:"id"`
	ReplacedBy uuid.UUID `json:"replaced_by"`
}

// SubscriptionTransferredEvent is published when custody moves.
type SubscriptionTransferredEvent struct {
	ID   uuid.UUID `json:"id"`
	From string    `json:"from"`
	To   string    `json:"to"`
}
