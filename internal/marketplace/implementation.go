package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"inkpass/internal/apperrors"
	"inkpass/internal/capability"
	"inkpass/internal/events"
	"inkpass/internal/keylock"
	"inkpass/internal/logger"
	"inkpass/internal/metrics"
	"inkpass/internal/pricing"
	"inkpass/internal/subscription"
	"inkpass/internal/treasury"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// service implements the Service interface.
type service struct {
	store     Store
	ledger    subscription.Service
	catalog   pricing.Catalog
	collector treasury.Collector
	royalty   RoyaltyPolicy
	notifier  events.Notifier
	locks     *keylock.Mutex
	logger    logger.Logger
	tracer    trace.Tracer
}

// NewService creates a marketplace that keeps kiosks in store and moves
// custody through ledger.
func NewService(store Store, ledger subscription.Service, catalog pricing.Catalog, collector treasury.Collector, royalty RoyaltyPolicy, notifier events.Notifier, log logger.Logger) Service {
	if notifier == nil {
		notifier = events.Discard{}
	}
	return &service{
		store:     store,
		ledger:    ledger,
		catalog:   catalog,
		collector: collector,
		royalty:   royalty,
		notifier:  notifier,
		locks:     keylock.New(),
		logger:    log.WithFields(map[string]interface{}{"component": "marketplace"}),
		tracer:    otel.Tracer("inkpass/marketplace"),
	}
}

// change is one event announced after a kiosk write commits.
type change struct {
	eventType string
	data      interface{}
}

// CreateKiosk opens an escrow container for owner and returns its owner capability token.
func (s *service) CreateKiosk(ctx context.Context, owner string) (*Kiosk, string, error) {
	if owner == "" {
		return nil, "", apperrors.ErrUnauthorized.WithDetails("kiosk owner address required")
	}
	token, hash, err := capability.Issue()
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue kiosk capability: %w", err)
	}

	k := &Record{
		ID:      uuid.New(),
		Owner:   owner,
		CapHash: hash,
		Items:   make(map[uuid.UUID]Item),
		Version: 1,
	}
	if err := s.store.Insert(ctx, k); err != nil {
		return nil, "", fmt.Errorf("failed to store kiosk: %w", err)
	}

	s.announce(ctx, k.ID, 0, change{EventKioskCreated, map[string]string{"owner": owner}})
	metrics.MarketplaceActions.WithLabelValues("create_kiosk").Inc()
	return k.view(), token, nil
}

func (s *service) GetKiosk(ctx context.Context, kioskID uuid.UUID) (*Kiosk, error) {
	k, err := s.store.Get(ctx, kioskID)
	if err != nil {
		return nil, err
	}
	return k.view(), nil
}

// Place moves a subscription from the kiosk owner into escrow, unlisted.
func (s *service) Place(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID) error {
	return s.place(ctx, "place", kioskID, capToken, subID, 0)
}

// PlaceAndList escrows and lists in one step. The end state equals Place followed by List.
func (s *service) PlaceAndList(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID, price uint64) error {
	if price == 0 {
		return s.reject("place_and_list", apperrors.ErrInvalidPrice)
	}
	return s.place(ctx, "place_and_list", kioskID, capToken, subID, price)
}

func (s *service) place(ctx context.Context, action string, kioskID uuid.UUID, capToken string, subID uuid.UUID, price uint64) error {
	ctx, span := s.startSpan(ctx, "marketplace."+action, kioskID, subID)
	defer span.End()

	k, unlock, err := s.lockOwned(ctx, kioskID, capToken)
	if err != nil {
		return s.reject(action, err)
	}
	defer unlock()

	if _, err := s.ledger.Transfer(ctx, subID, k.Owner, k.address()); err != nil {
		return s.fail(span, action, err)
	}

	expected := k.Version
	item := Item{SubscriptionID: subID}
	changes := []change{{EventItemPlaced, ItemEvent{KioskID: k.ID, SubscriptionID: subID}}}
	if price > 0 {
		item.Listed = true
		item.Price = price
		changes = append(changes, change{EventItemListed, ItemEvent{KioskID: k.ID, SubscriptionID: subID, Price: price}})
	}
	k.Items[subID] = item

	if err := s.commit(ctx, k, expected, len(changes)); err != nil {
		s.undoTransfer(ctx, subID, k.address(), k.Owner)
		return s.fail(span, action, err)
	}
	s.announce(ctx, k.ID, expected, changes...)

	metrics.MarketplaceActions.WithLabelValues(action).Inc()
	s.logger.Info("subscription placed in kiosk", map[string]interface{}{
		"kioskId":        k.ID.String(),
		"subscriptionId": subID.String(),
		"price":          price,
	})
	return nil
}

// List marks an escrowed item for sale at price.
func (s *service) List(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID, price uint64) error {
	if price == 0 {
		return s.reject("list", apperrors.ErrInvalidPrice)
	}
	k, unlock, err := s.lockOwned(ctx, kioskID, capToken)
	if err != nil {
		return s.reject("list", err)
	}
	defer unlock()

	item, err := k.item(subID)
	if err != nil {
		return s.reject("list", err)
	}
	item.Listed = true
	item.Price = price
	k.Items[subID] = item

	expected := k.Version
	if err := s.commit(ctx, k, expected, 1); err != nil {
		return err
	}
	metrics.MarketplaceActions.WithLabelValues("list").Inc()
	s.announce(ctx, k.ID, expected, change{EventItemListed, ItemEvent{KioskID: k.ID, SubscriptionID: subID, Price: price}})
	return nil
}

// UpdatePrice delists and then relists the item. The two steps run separately:
// between them the item is escrowed but not for sale, and a concurrent Take or
// Purchase attempt observes that state.
func (s *service) UpdatePrice(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID, newPrice uint64) error {
	if newPrice == 0 {
		return s.reject("update_price", apperrors.ErrInvalidPrice)
	}
	if err := s.Delist(ctx, kioskID, capToken, subID); err != nil {
		return err
	}
	return s.List(ctx, kioskID, capToken, subID, newPrice)
}

// Delist removes the for-sale marking; the item stays in escrow.
func (s *service) Delist(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID) error {
	k, unlock, err := s.lockOwned(ctx, kioskID, capToken)
	if err != nil {
		return s.reject("delist", err)
	}
	defer unlock()

	item, err := k.item(subID)
	if err != nil {
		return s.reject("delist", err)
	}
	if !item.Listed {
		return s.reject("delist", apperrors.ErrNotListed.WithDetails("subscription %s", subID))
	}
	item.Listed = false
	item.Price = 0
	k.Items[subID] = item

	expected := k.Version
	if err := s.commit(ctx, k, expected, 1); err != nil {
		return err
	}
	metrics.MarketplaceActions.WithLabelValues("delist").Inc()
	s.announce(ctx, k.ID, expected, change{EventItemDelisted, ItemEvent{KioskID: k.ID, SubscriptionID: subID}})
	return nil
}

// Take returns an escrowed item to the kiosk owner, withdrawing any listing.
func (s *service) Take(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID) (*subscription.Holding, error) {
	ctx, span := s.startSpan(ctx, "marketplace.take", kioskID, subID)
	defer span.End()

	k, unlock, err := s.lockOwned(ctx, kioskID, capToken)
	if err != nil {
		return nil, s.reject("take", err)
	}
	defer unlock()

	item, err := k.item(subID)
	if err != nil {
		return nil, s.reject("take", err)
	}

	holding, err := s.ledger.Transfer(ctx, subID, k.address(), k.Owner)
	if err != nil {
		return nil, s.fail(span, "take", err)
	}

	expected := k.Version
	var changes []change
	if item.Listed {
		changes = append(changes, change{EventItemDelisted, ItemEvent{KioskID: k.ID, SubscriptionID: subID}})
	}
	changes = append(changes, change{EventItemTaken, ItemEvent{KioskID: k.ID, SubscriptionID: subID}})
	delete(k.Items, subID)

	if err := s.commit(ctx, k, expected, len(changes)); err != nil {
		s.undoTransfer(ctx, subID, k.Owner, k.address())
		return nil, s.fail(span, "take", err)
	}
	s.announce(ctx, k.ID, expected, changes...)
	metrics.MarketplaceActions.WithLabelValues("take").Inc()
	return holding, nil
}

// Purchase sells a listed item to buyer. The payment must equal the listed
// price and the royalty must be at least the policy amount; both are checked
// before custody moves. A royalty that cannot be credited undoes the sale.
func (s *service) Purchase(ctx context.Context, kioskID, subID uuid.UUID, buyer string, payment, royaltyPayment uint64) (*subscription.Holding, error) {
	ctx, span := s.startSpan(ctx, "marketplace.purchase", kioskID, subID,
		attribute.String("payment", strconv.FormatUint(payment, 10)),
		attribute.String("royalty_payment", strconv.FormatUint(royaltyPayment, 10)),
	)
	defer span.End()
	defer observe("purchase", time.Now())

	if buyer == "" {
		return nil, s.reject("purchase", apperrors.ErrUnauthorized.WithDetails("buyer address required"))
	}

	k, unlock, err := s.lock(ctx, kioskID)
	if err != nil {
		return nil, s.reject("purchase", err)
	}
	defer unlock()

	item, err := k.item(subID)
	if err != nil {
		return nil, s.reject("purchase", err)
	}
	if !item.Listed {
		return nil, s.reject("purchase", apperrors.ErrNotListed.WithDetails("subscription %s", subID))
	}
	if payment != item.Price {
		return nil, s.reject("purchase", apperrors.ErrPriceMismatch.WithDetails("paid %d, listed at %d", payment, item.Price))
	}
	royalty := s.royalty.Compute(item.Price)
	if royaltyPayment < royalty {
		return nil, s.reject("purchase", apperrors.ErrRoyaltyUnsettled.WithDetails("royalty paid %d, owed %d", royaltyPayment, royalty))
	}
	if k.Profits+payment < k.Profits {
		return nil, s.fail(span, "purchase", fmt.Errorf("kiosk %s profits would overflow", k.ID))
	}
	beneficiary, err := s.beneficiary(ctx, subID)
	if err != nil {
		return nil, s.fail(span, "purchase", err)
	}
	if royaltyPayment > 0 && beneficiary == "" {
		return nil, s.fail(span, "purchase", fmt.Errorf("no royalty beneficiary for subscription %s", subID))
	}

	holding, err := s.ledger.Transfer(ctx, subID, k.address(), buyer)
	if err != nil {
		return nil, s.fail(span, "purchase", err)
	}

	prev := k.clone()
	delete(k.Items, subID)
	k.Profits += payment
	if err := s.commit(ctx, k, prev.Version, 1); err != nil {
		s.undoTransfer(ctx, subID, buyer, k.address())
		return nil, s.fail(span, "purchase", err)
	}

	if royaltyPayment > 0 {
		if err := s.collector.Credit(ctx, beneficiary, royaltyPayment); err != nil {
			s.logger.Warn("compensating failed royalty settlement", map[string]interface{}{
				"kioskId":        k.ID.String(),
				"subscriptionId": subID.String(),
			})
			s.restore(ctx, prev, k.Version)
			s.undoTransfer(ctx, subID, buyer, k.address())
			return nil, s.fail(span, "purchase", fmt.Errorf("failed to settle royalty: %w", err))
		}
	}

	metrics.MarketplaceActions.WithLabelValues("purchase").Inc()
	metrics.PaymentsCollected.WithLabelValues("royalty").Add(float64(royaltyPayment))
	s.logger.Info("subscription purchased", map[string]interface{}{
		"kioskId":        k.ID.String(),
		"subscriptionId": subID.String(),
		"price":          payment,
		"royalty":        royaltyPayment,
	})
	s.announce(ctx, k.ID, prev.Version, change{EventItemPurchased, ItemPurchasedEvent{
		KioskID:        k.ID,
		SubscriptionID: subID,
		Seller:         k.Owner,
		Buyer:          buyer,
		Price:          payment,
		Royalty:        royaltyPayment,
	}})
	return holding, nil
}

// WithdrawProfits credits accumulated sales to the kiosk owner.
func (s *service) WithdrawProfits(ctx context.Context, kioskID uuid.UUID, capToken string) (uint64, error) {
	k, unlock, err := s.lockOwned(ctx, kioskID, capToken)
	if err != nil {
		return 0, s.reject("withdraw", err)
	}
	defer unlock()

	amount := k.Profits
	if amount == 0 {
		return 0, nil
	}
	prev := k.clone()
	k.Profits = 0
	if err := s.commit(ctx, k, prev.Version, 1); err != nil {
		return 0, err
	}
	if err := s.collector.Credit(ctx, k.Owner, amount); err != nil {
		s.restore(ctx, prev, k.Version)
		return 0, fmt.Errorf("failed to credit kiosk owner: %w", err)
	}

	metrics.MarketplaceActions.WithLabelValues("withdraw").Inc()
	s.announce(ctx, k.ID, prev.Version, change{EventProfitsWithdrawn, ProfitsWithdrawnEvent{KioskID: k.ID, Owner: k.Owner, Amount: amount}})
	return amount, nil
}

// Listings returns every item currently for sale with an advisory price.
func (s *service) Listings(ctx context.Context) ([]Listing, error) {
	kiosks, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []Listing
	for _, k := range kiosks {
		for _, it := range sortedItems(k) {
			if !it.Listed {
				continue
			}
			h, err := s.ledger.Get(ctx, it.SubscriptionID)
			if err != nil {
				return nil, fmt.Errorf("failed to load listed subscription: %w", err)
			}
			l := Listing{
				KioskID:        k.ID,
				Seller:         k.Owner,
				SubscriptionID: h.ID,
				PublicationID:  h.PublicationID,
				Tier:           h.Tier,
				ExpiresAt:      h.ExpiresAt,
				Price:          it.Price,
				Royalty:        s.royalty.Compute(it.Price),
			}
			if p, err := s.catalog.Snapshot(ctx, h.PublicationID); err == nil {
				l.SuggestedPrice, _ = subscription.SuggestedResalePrice(h.Subscription, p, s.ledger.Now())
			}
			out = append(out, l)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

// lock serializes work on one kiosk and loads its current record.
func (s *service) lock(ctx context.Context, id uuid.UUID) (*Record, func(), error) {
	unlock := s.locks.Lock(id)
	k, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return k, unlock, nil
}

// lockOwned is lock after the kiosk owner capability checks out.
func (s *service) lockOwned(ctx context.Context, id uuid.UUID, capToken string) (*Record, func(), error) {
	k, unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !k.authorize(capToken) {
		unlock()
		return nil, nil, apperrors.ErrUnauthorized.WithDetails("kiosk capability rejected for %s", id)
	}
	return k, unlock, nil
}

// commit saves k, read at expectedVersion, advancing its version once per event.
func (s *service) commit(ctx context.Context, k *Record, expectedVersion, eventCount int) error {
	k.Version = expectedVersion + eventCount
	if err := s.store.Save(ctx, k, expectedVersion); err != nil {
		return fmt.Errorf("failed to save kiosk: %w", err)
	}
	return nil
}

// restore puts back a committed kiosk whose later step failed. No events were
// announced for the undone write, so its version goes back too.
func (s *service) restore(ctx context.Context, prev *Record, committedVersion int) {
	if err := s.store.Save(ctx, prev, committedVersion); err != nil {
		s.logger.Error("failed to restore kiosk", map[string]interface{}{
			"kioskId": prev.ID.String(),
			"error":   err.Error(),
		})
	}
}

func (s *service) undoTransfer(ctx context.Context, subID uuid.UUID, from, to string) {
	if _, err := s.ledger.Transfer(ctx, subID, from, to); err != nil {
		s.logger.Error("failed to compensate", map[string]interface{}{
			"subscriptionId": subID.String(),
			"error":          err.Error(),
		})
	}
}

func (s *service) beneficiary(ctx context.Context, subID uuid.UUID) (string, error) {
	if s.royalty.Beneficiary != "" {
		return s.royalty.Beneficiary, nil
	}
	h, err := s.ledger.Get(ctx, subID)
	if err != nil {
		return "", err
	}
	p, err := s.catalog.Snapshot(ctx, h.PublicationID)
	if err != nil {
		return "", err
	}
	return p.Creator, nil
}

// announce publishes the events of a committed write in order, numbering
// them after the version the write started from.
func (s *service) announce(ctx context.Context, kioskID uuid.UUID, fromVersion int, changes ...change) {
	for i, c := range changes {
		event := events.Event{
			Type:          c.eventType,
			AggregateID:   kioskID,
			AggregateType: AggregateType,
			Version:       fromVersion + i + 1,
			OccurredAt:    s.ledger.Now(),
			Data:          c.data,
		}
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.Warn("failed to publish event", map[string]interface{}{
				"eventType": c.eventType,
				"kioskId":   kioskID.String(),
				"error":     err.Error(),
			})
		}
	}
}

func (s *service) startSpan(ctx context.Context, name string, kioskID, subID uuid.UUID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("kiosk.id", kioskID.String()),
		attribute.String("subscription.id", subID.String()),
	)
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *service) reject(action string, err error) error {
	metrics.LedgerRejections.WithLabelValues(action, string(apperrors.Normalize(err).Code)).Inc()
	return err
}

func (s *service) fail(span trace.Span, action string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return s.reject(action, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("marketplace operation failed", map[string]interface{}{
		"action": action,
		"error":  err.Error(),
	})
	return err
}

func observe(operation string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
