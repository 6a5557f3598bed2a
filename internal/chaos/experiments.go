package chaos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"inkpass/internal/clock"
	"inkpass/internal/events"
	"inkpass/internal/logger"
	"inkpass/internal/marketplace"
	"inkpass/internal/pricing"
	"inkpass/internal/subscription"
	"inkpass/internal/treasury"

	"github.com/google/uuid"
)

// ErrInjectedFault is returned by sinks while a fault is active.
var ErrInjectedFault = errors.New("injected fault")

// FaultyNotifier forwards to next until Fail(true) is called.
type FaultyNotifier struct {
	next    events.Notifier
	failing atomic.Bool
	dropped atomic.Int64
}

func NewFaultyNotifier(next events.Notifier) *FaultyNotifier {
	return &FaultyNotifier{next: next}
}

func (n *FaultyNotifier) Fail(on bool) { n.failing.Store(on) }

func (n *FaultyNotifier) Dropped() int64 { return n.dropped.Load() }

func (n *FaultyNotifier) Notify(ctx context.Context, event events.Event) error {
	if n.failing.Load() {
		n.dropped.Add(1)
		return ErrInjectedFault
	}
	return n.next.Notify(ctx, event)
}

// Stack is an in-memory ledger and marketplace wired the way the service runs.
type Stack struct {
	Catalog  *pricing.MemoryCatalog
	Treasury *treasury.Treasury
	Ledger   subscription.Service
	Market   marketplace.Service
	Notifier *FaultyNotifier
}

func NewStack(clk clock.Clock, log logger.Logger) (*Stack, error) {
	tr, err := treasury.New(250)
	if err != nil {
		return nil, err
	}
	notifier := NewFaultyNotifier(events.Discard{})
	catalog := pricing.NewMemoryCatalog()
	ledger := subscription.NewService(subscription.NewMemoryStore(), tr, notifier, clk, log)
	market := marketplace.NewService(marketplace.NewMemoryStore(), ledger, catalog, tr, marketplace.RoyaltyPolicy{BasisPoints: 500, MinAmount: 1000}, notifier, log)

	return &Stack{Catalog: catalog, Treasury: tr, Ledger: ledger, Market: market, Notifier: notifier}, nil
}

const (
	basicPrice   = 1_000_000
	premiumPrice = 3_000_000
)

func (s *Stack) publication(ctx context.Context, name string) (pricing.Pricing, error) {
	pub, _, err := s.Catalog.CreatePublication(ctx, name, "0xchaos-creator", basicPrice, premiumPrice, false)
	if err != nil {
		return pricing.Pricing{}, err
	}
	return pub.Pricing, nil
}

// ConcurrentRenewalExperiment renews one subscription from many goroutines
// and checks that every accepted renewal added exactly one period.
func ConcurrentRenewalExperiment(ctx context.Context, s *Stack, workers int) (Experiment, error) {
	p, err := s.publication(ctx, "renewal-race")
	if err != nil {
		return Experiment{}, err
	}
	const holder = "0xchaos-renewer"
	h, err := s.Ledger.Subscribe(ctx, p, subscription.TierBasic, basicPrice, holder)
	if err != nil {
		return Experiment{}, err
	}
	initial := h.ExpiresAt

	var accepted atomic.Int64
	drift := func(ctx context.Context) (float64, error) {
		cur, err := s.Ledger.Get(ctx, h.ID)
		if err != nil {
			return 0, err
		}
		want := initial.Add(time.Duration(accepted.Load()) * subscription.Period)
		return math.Abs(cur.ExpiresAt.Sub(want).Seconds()), nil
	}

	return Experiment{
		Name:       "concurrent-renewal-race",
		Hypothesis: "Concurrent renewals of one subscription each extend expiry by exactly one period",
		SteadyState: []Probe{
			{Name: "expiry_drift_seconds", Query: drift, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "subscription-ledger",
			Execute: func(ctx context.Context) error {
				var wg sync.WaitGroup
				for i := 0; i < workers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.Ledger.Renew(ctx, h.ID, p, basicPrice, holder); err == nil {
							accepted.Add(1)
						}
					}()
				}
				wg.Wait()
				if accepted.Load() == 0 {
					return fmt.Errorf("no renewal accepted out of %d", workers)
				}
				return nil
			},
		}},
		Validation: []Assertion{{
			Probe:     "expiry_drift_seconds",
			Condition: func(v float64) bool { return v == 0 },
			Message:   "expiry must equal initial expiry plus one period per accepted renewal",
		}},
	}, nil
}

// ConcurrentPurchaseExperiment lets many buyers race for one listing.
func ConcurrentPurchaseExperiment(ctx context.Context, s *Stack, buyers int) (Experiment, error) {
	p, err := s.publication(ctx, "purchase-race")
	if err != nil {
		return Experiment{}, err
	}
	const seller = "0xchaos-seller"
	h, err := s.Ledger.Subscribe(ctx, p, subscription.TierPremium, premiumPrice, seller)
	if err != nil {
		return Experiment{}, err
	}
	kiosk, capToken, err := s.Market.CreateKiosk(ctx, seller)
	if err != nil {
		return Experiment{}, err
	}
	const price = 2_000_000
	if err := s.Market.PlaceAndList(ctx, kiosk.ID, capToken, h.ID, price); err != nil {
		return Experiment{}, err
	}
	royalty := marketplace.RoyaltyPolicy{BasisPoints: 500, MinAmount: 1000}.Compute(price)

	var (
		mu      sync.Mutex
		winners []string
	)
	extraSales := func(context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return math.Max(float64(len(winners)-1), 0), nil
	}
	custodyMismatch := func(ctx context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(winners) == 0 {
			return 0, nil
		}
		cur, err := s.Ledger.Get(ctx, h.ID)
		if err != nil {
			return 0, err
		}
		if cur.Owner != winners[0] {
			return 1, nil
		}
		return 0, nil
	}

	return Experiment{
		Name:       "concurrent-purchase-race",
		Hypothesis: "A listed subscription is sold to exactly one of many concurrent buyers",
		SteadyState: []Probe{
			{Name: "extra_sales", Query: extraSales, Threshold: Threshold{Operator: "==", Value: 0}},
			{Name: "custody_mismatch", Query: custodyMismatch, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "marketplace",
			Execute: func(ctx context.Context) error {
				var wg sync.WaitGroup
				for i := 0; i < buyers; i++ {
					wg.Add(1)
					go func(buyer string) {
						defer wg.Done()
						if _, err := s.Market.Purchase(ctx, kiosk.ID, h.ID, buyer, price, royalty); err == nil {
							mu.Lock()
							winners = append(winners, buyer)
							mu.Unlock()
						}
					}(fmt.Sprintf("0xchaos-buyer-%s", uuid.NewString()[:8]))
				}
				wg.Wait()
				return nil
			},
		}},
		Validation: []Assertion{
			{Probe: "extra_sales", Condition: func(v float64) bool { return v == 0 }, Message: "no listing may be sold twice"},
			{Probe: "custody_mismatch", Condition: func(v float64) bool { return v == 0 }, Message: "the winning buyer must hold the subscription"},
		},
	}, nil
}

// NotifierOutageExperiment fails every notification sink while subscriptions
// are created and checks that the ledger keeps accepting them.
func NotifierOutageExperiment(ctx context.Context, s *Stack, operations int) (Experiment, error) {
	p, err := s.publication(ctx, "notifier-outage")
	if err != nil {
		return Experiment{}, err
	}

	var attempts, succeeded atomic.Int64
	successRate := func(context.Context) (float64, error) {
		if attempts.Load() == 0 {
			return 100, nil
		}
		return float64(succeeded.Load()) / float64(attempts.Load()) * 100, nil
	}

	return Experiment{
		Name:       "notifier-outage",
		Hypothesis: "Ledger operations succeed while every notification sink is down",
		SteadyState: []Probe{
			{Name: "subscribe_success_rate", Query: successRate, Threshold: Threshold{Operator: ">=", Value: 100}},
		},
		Method: []Action{
			{
				Type:    "fail-sink",
				Target:  "notifier",
				Execute: func(context.Context) error { s.Notifier.Fail(true); return nil },
			},
			{
				Type:   "sequential-requests",
				Target: "subscription-ledger",
				Execute: func(ctx context.Context) error {
					for i := 0; i < operations; i++ {
						attempts.Add(1)
						if _, err := s.Ledger.Subscribe(ctx, p, subscription.TierBasic, basicPrice, fmt.Sprintf("0xchaos-reader-%d", i)); err == nil {
							succeeded.Add(1)
						}
					}
					return nil
				},
			},
		},
		Rollback: []Action{{
			Type:    "restore-sink",
			Target:  "notifier",
			Execute: func(context.Context) error { s.Notifier.Fail(false); return nil },
		}},
		Validation: []Assertion{{
			Probe:     "subscribe_success_rate",
			Condition: func(v float64) bool { return v == 100 },
			Message:   "notification failures must never fail a subscription",
		}},
	}, nil
}

// RegisterLedgerExperiments builds and registers the standard experiments against s.
func (e *Engine) RegisterLedgerExperiments(ctx context.Context, s *Stack) error {
	builders := []func() (Experiment, error){
		func() (Experiment, error) { return ConcurrentRenewalExperiment(ctx, s, 32) },
		func() (Experiment, error) { return ConcurrentPurchaseExperiment(ctx, s, 32) },
		func() (Experiment, error) { return NotifierOutageExperiment(ctx, s, 20) },
	}
	for _, build := range builders {
		exp, err := build()
		if err != nil {
			return fmt.Errorf("failed to build experiment: %w", err)
		}
		e.Register(exp)
	}
	return nil
}
