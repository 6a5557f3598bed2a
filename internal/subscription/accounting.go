package subscription

import (
	"math"
	"math/bits"
	"time"

	"inkpass/internal/apperrors"
	"inkpass/internal/pricing"
)

// MonthlyPrice is the price of one period of tier t. Free is always zero.
func MonthlyPrice(p pricing.Pricing, t Tier) (uint64, error) {
	switch t {
	case TierFree:
		return 0, nil
	case TierBasic:
		return p.BasicPrice, nil
	case TierPremium:
		return p.PremiumPrice, nil
	default:
		return 0, apperrors.ErrInvalidTier.WithDetails("no price for %s", t)
	}
}

// MulDiv returns floor(a*b/d) using a 128-bit intermediate. A quotient that
// does not fit in 64 bits saturates at math.MaxUint64. d must be non-zero.
func MulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, d)
	return q
}

func remainingSeconds(s Subscription, now time.Time) uint64 {
	return uint64(s.RemainingTime(now) / time.Second)
}

// RemainingValue is the prorated value of the unused part of the period:
// floor(monthly_price * remaining_seconds / SecondsPerMonth). Fractions are dropped.
func RemainingValue(s Subscription, p pricing.Pricing, now time.Time) (uint64, error) {
	price, err := MonthlyPrice(p, s.Tier)
	if err != nil {
		return 0, err
	}
	secs := remainingSeconds(s, now)
	if secs == 0 {
		return 0, nil
	}
	return MulDiv(price, secs, SecondsPerMonth), nil
}

// RequiredTopUp is what a holder must pay to move to newTier. Surplus value on
// a downgrade is forfeited, never refunded.
func RequiredTopUp(s Subscription, newTier Tier, p pricing.Pricing, now time.Time) (uint64, error) {
	newPrice, err := MonthlyPrice(p, newTier)
	if err != nil {
		return 0, err
	}
	remaining, err := RemainingValue(s, p, now)
	if err != nil {
		return 0, err
	}
	if newPrice > remaining {
		return newPrice - remaining, nil
	}
	return 0, nil
}

// SuggestedResalePrice is an advisory listing price: 90% of remaining value.
func SuggestedResalePrice(s Subscription, p pricing.Pricing, now time.Time) (uint64, error) {
	remaining, err := RemainingValue(s, p, now)
	if err != nil {
		return 0, err
	}
	return MulDiv(remaining, 90, 100), nil
}

// Quote previews a tier change without performing it.
type Quote struct {
	CurrentTier    Tier      `json:"current_tier"`
	NewTier        Tier      `json:"new_tier"`
	RemainingValue uint64    `json:"remaining_value"`
	NewPrice       uint64    `json:"new_price"`
	TopUp          uint64    `json:"top_up"`
	Forfeited      uint64    `json:"forfeited"`
	NewExpiresAt   time.Time `json:"new_expires_at"`
}

// QuoteTierChange computes the numbers ChangeTier would apply at now.
func QuoteTierChange(s Subscription, newTier Tier, p pricing.Pricing, now time.Time) (Quote, error) {
	newPrice, err := MonthlyPrice(p, newTier)
	if err != nil {
		return Quote{}, err
	}
	remaining, err := RemainingValue(s, p, now)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		CurrentTier:    s.Tier,
		NewTier:        newTier,
		RemainingValue: remaining,
		NewPrice:       newPrice,
		NewExpiresAt:   s.tierChangeExpiry(now),
	}
	if newPrice > remaining {
		q.TopUp = newPrice - remaining
	} else {
		q.Forfeited = remaining - newPrice
	}
	return q, nil
}
