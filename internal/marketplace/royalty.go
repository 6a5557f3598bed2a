package marketplace

import (
	"fmt"

	"inkpass/internal/subscription"
)

const maxBasisPoints = 10_000

// RoyaltyPolicy charges a percentage of each resale with a floor.
// An empty Beneficiary pays the royalty to the publication's creator.
type RoyaltyPolicy struct {
	BasisPoints uint64 `mapstructure:"basis_points" json:"basis_points"`
	MinAmount   uint64 `mapstructure:"min_amount" json:"min_amount"`
	Beneficiary string `mapstructure:"beneficiary" json:"beneficiary,omitempty"`
}

func (p RoyaltyPolicy) Validate() error {
	if p.BasisPoints > maxBasisPoints {
		return fmt.Errorf("royalty basis points %d exceed %d", p.BasisPoints, maxBasisPoints)
	}
	return nil
}

// Compute returns max(floor(price * bp / 10000), min).
func (p RoyaltyPolicy) Compute(price uint64) uint64 {
	royalty := subscription.MulDiv(price, p.BasisPoints, maxBasisPoints)
	if royalty < p.MinAmount {
		return p.MinAmount
	}
	return royalty
}
