// Package treasury splits protocol fees off incoming payments and keeps payee balances.
package treasury

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"github.com/google/uuid"
)

const maxBasisPoints = 10_000

// Collector is what the ledger and the marketplace need from the treasury.
type Collector interface {
	// Settle splits payment into the protocol fee and the payee's share.
	// Nothing is recorded unless the whole split can be recorded.
	Settle(ctx context.Context, payment uint64, publicationID uuid.UUID, payer, payee string) (Settlement, error)
	// Refund reverses a Settle whose operation could not be committed.
	Refund(ctx context.Context, s Settlement) error
	Credit(ctx context.Context, address string, amount uint64) error
}

// Settlement records one split payment.
type Settlement struct {
	PublicationID uuid.UUID `json:"publication_id"`
	Payer         string    `json:"payer"`
	Payee         string    `json:"payee"`
	Fee           uint64    `json:"fee"`
	Remaining     uint64    `json:"remaining"`
}

// Treasury takes a fixed basis-point fee and credits balances in memory.
type Treasury struct {
	mu         sync.Mutex
	feeBP      uint64
	collected  uint64
	balances   map[string]uint64
	feeByPubID map[uuid.UUID]uint64
}

func New(feeBasisPoints uint64) (*Treasury, error) {
	if feeBasisPoints > maxBasisPoints {
		return nil, fmt.Errorf("fee basis points %d exceed %d", feeBasisPoints, maxBasisPoints)
	}
	return &Treasury{
		feeBP:      feeBasisPoints,
		balances:   make(map[string]uint64),
		feeByPubID: make(map[uuid.UUID]uint64),
	}, nil
}

// FeeFor returns floor(payment * feeBP / 10000) without intermediate overflow.
func (t *Treasury) FeeFor(payment uint64) uint64 {
	hi, lo := bits.Mul64(payment, t.feeBP)
	fee, _ := bits.Div64(hi, lo, maxBasisPoints)
	return fee
}

func (t *Treasury) Settle(ctx context.Context, payment uint64, publicationID uuid.UUID, payer, payee string) (Settlement, error) {
	fee := t.FeeFor(payment)
	s := Settlement{
		PublicationID: publicationID,
		Payer:         payer,
		Payee:         payee,
		Fee:           fee,
		Remaining:     payment - fee,
	}
	if s.Remaining > 0 && payee == "" {
		return Settlement{}, fmt.Errorf("credit of %d to empty address", s.Remaining)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.collected+fee < t.collected || t.balances[payee]+s.Remaining < t.balances[payee] {
		return Settlement{}, fmt.Errorf("settlement of %d overflows treasury accounts", payment)
	}
	t.collected += fee
	t.feeByPubID[publicationID] += fee
	if s.Remaining > 0 {
		t.balances[payee] += s.Remaining
	}
	return s, nil
}

func (t *Treasury) Refund(ctx context.Context, s Settlement) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.feeByPubID[s.PublicationID] < s.Fee || t.balances[s.Payee] < s.Remaining {
		return fmt.Errorf("refund of %d+%d exceeds recorded settlement", s.Fee, s.Remaining)
	}
	t.collected -= s.Fee
	t.feeByPubID[s.PublicationID] -= s.Fee
	if s.Remaining > 0 {
		t.balances[s.Payee] -= s.Remaining
	}
	return nil
}

func (t *Treasury) Credit(ctx context.Context, address string, amount uint64) error {
	if address == "" {
		return fmt.Errorf("credit of %d to empty address", amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[address]+amount < t.balances[address] {
		return fmt.Errorf("credit of %d overflows balance of %s", amount, address)
	}
	t.balances[address] += amount
	return nil
}

// Balance returns the amount credited to address so far.
func (t *Treasury) Balance(address string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[address]
}

// Collected returns total protocol fees.
func (t *Treasury) Collected() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collected
}

// CollectedFor returns protocol fees attributed to one publication.
func (t *Treasury) CollectedFor(publicationID uuid.UUID) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feeByPubID[publicationID]
}
