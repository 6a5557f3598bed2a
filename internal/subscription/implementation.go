package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"inkpass/internal/apperrors"
	"inkpass/internal/clock"
	"inkpass/internal/events"
	"inkpass/internal/keylock"
	"inkpass/internal/logger"
	"inkpass/internal/metrics"
	"inkpass/internal/pricing"
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
	collector treasury.Collector
	notifier  events.Notifier
	clock     clock.Clock
	locks     *keylock.Mutex
	logger    logger.Logger
	tracer    trace.Tracer
}

// NewService creates a new subscription ledger.
func NewService(store Store, collector treasury.Collector, notifier events.Notifier, clk clock.Clock, log logger.Logger) Service {
	if notifier == nil {
		notifier = events.Discard{}
	}
	return &service{
		store:     store,
		collector: collector,
		notifier:  notifier,
		clock:     clk,
		locks:     keylock.New(),
		logger:    log.WithFields(map[string]interface{}{"component": "ledger"}),
		tracer:    otel.Tracer("inkpass/subscription"),
	}
}

func (s *service) Now() time.Time {
	return s.clock.Now()
}

// Subscribe mints a new subscription for one period of the requested tier.
func (s *service) Subscribe(ctx context.Context, p pricing.Pricing, tier Tier, payment uint64, subscriber string) (*Holding, error) {
	ctx, span := s.startSpan(ctx, "ledger.subscribe", p.PublicationID,
		attribute.String("tier", tier.String()),
		attribute.String("payment", strconv.FormatUint(payment, 10)),
	)
	defer span.End()
	defer observe("subscribe", time.Now())

	if subscriber == "" {
		return nil, s.reject(span, "subscribe", apperrors.ErrUnauthorized.WithDetails("subscriber address required"))
	}
	if err := checkPayee(p); err != nil {
		return nil, s.reject(span, "subscribe", err)
	}
	if err := checkTierAvailable(p, tier); err != nil {
		return nil, s.reject(span, "subscribe", err)
	}
	price, err := MonthlyPrice(p, tier)
	if err != nil {
		return nil, s.reject(span, "subscribe", err)
	}
	if payment < price {
		return nil, s.reject(span, "subscribe", apperrors.ErrInsufficientPayment.WithDetails("paid %d, %s costs %d", payment, tier, price))
	}

	now := s.clock.Now()
	h := &Holding{
		Subscription: Subscription{
			ID:                 uuid.New(),
			PublicationID:      p.PublicationID,
			Tier:               tier,
			SubscribedAt:       now,
			ExpiresAt:          now.Add(Period),
			OriginalSubscriber: subscriber,
		},
		Owner:   subscriber,
		Version: 1,
	}

	settlement, err := s.settle(ctx, p, payment, subscriber)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.store.Insert(ctx, h); err != nil {
		s.refund(ctx, "subscribe", h.ID, settlement)
		return nil, s.fail(span, fmt.Errorf("failed to store subscription: %w", err))
	}

	recordSettlement(settlement)
	metrics.SubscriptionsCreated.WithLabelValues(tier.String()).Inc()
	s.logger.Info("subscription created", map[string]interface{}{
		"subscriptionId": h.ID.String(),
		"publicationId":  p.PublicationID.String(),
		"tier":           tier.String(),
		"expiresAt":      h.ExpiresAt,
	})

	s.publish(ctx, events.Event{
		Type:          EventSubscriptionCreated,
		AggregateID:   h.ID,
		AggregateType: AggregateType,
		Version:       h.Version,
		OccurredAt:    now,
		Data: SubscriptionCreatedEvent{
			ID:            h.ID,
			PublicationID: h.PublicationID,
			Subscriber:    subscriber,
			Tier:          tier,
			ExpiresAt:     h.ExpiresAt,
		},
	})

	return h, nil
}

// Renew extends a subscription by one period. Early renewal stacks on the
// unused time; late renewal starts a fresh period at now.
func (s *service) Renew(ctx context.Context, id uuid.UUID, p pricing.Pricing, payment uint64, caller string) (*Holding, error) {
	ctx, span := s.startSpan(ctx, "ledger.renew", p.PublicationID,
		attribute.String("subscription.id", id.String()),
		attribute.String("payment", strconv.FormatUint(payment, 10)),
	)
	defer span.End()
	defer observe("renew", time.Now())

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.reject(span, "renew", err)
	}
	if current.PublicationID != p.PublicationID {
		return nil, s.reject(span, "renew", apperrors.ErrInvalidPublicationID.WithDetails("subscription %s belongs to %s, not %s", id, current.PublicationID, p.PublicationID))
	}
	if err := checkPayee(p); err != nil {
		return nil, s.reject(span, "renew", err)
	}
	if current.Owner != caller {
		return nil, s.reject(span, "renew", apperrors.ErrUnauthorized.WithDetails("%q does not hold subscription %s", caller, id))
	}
	price, err := MonthlyPrice(p, current.Tier)
	if err != nil {
		return nil, s.reject(span, "renew", err)
	}
	if payment < price {
		return nil, s.reject(span, "renew", apperrors.ErrInsufficientPayment.WithDetails("paid %d, %s costs %d", payment, current.Tier, price))
	}

	now := s.clock.Now()
	state := "expired"
	if current.IsValid(now) {
		state = "active"
	}

	renewed := current.clone()
	renewed.ExpiresAt = current.renewedExpiry(now)
	renewed.Version = current.Version + 1

	settlement, err := s.settle(ctx, p, payment, caller)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.store.Update(ctx, renewed, current.Version); err != nil {
		s.refund(ctx, "renew", id, settlement)
		return nil, s.fail(span, fmt.Errorf("failed to renew subscription: %w", err))
	}

	recordSettlement(settlement)
	metrics.SubscriptionsRenewed.WithLabelValues(state).Inc()
	s.logger.Info("subscription renewed", map[string]interface{}{
		"subscriptionId": id.String(),
		"state":          state,
		"expiresAt":      renewed.ExpiresAt,
	})

	s.publish(ctx, events.Event{
		Type:          EventSubscriptionRenewed,
		AggregateID:   id,
		AggregateType: AggregateType,
		Version:       renewed.Version,
		OccurredAt:    now,
		Data: SubscriptionRenewedEvent{
			ID:        id,
			ExpiresAt: renewed.ExpiresAt,
		},
	})

	return renewed, nil
}

// ChangeTier retires a subscription and mints one of newTier. Unused time
// carries over and a full period is added; a downgrade forfeits surplus value.
func (s *service) ChangeTier(ctx context.Context, id uuid.UUID, p pricing.Pricing, newTier Tier, payment uint64, caller string) (*Holding, error) {
	ctx, span := s.startSpan(ctx, "ledger.change_tier", p.PublicationID,
		attribute.String("subscription.id", id.String()),
		attribute.String("new_tier", newTier.String()),
		attribute.String("payment", strconv.FormatUint(payment, 10)),
	)
	defer span.End()
	defer observe("change_tier", time.Now())

	unlock := s.locks.Lock(id)
	defer unlock()

	old, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.reject(span, "change_tier", err)
	}
	if old.PublicationID != p.PublicationID {
		return nil, s.reject(span, "change_tier", apperrors.ErrInvalidPublicationID.WithDetails("subscription %s belongs to %s, not %s", id, old.PublicationID, p.PublicationID))
	}
	if err := checkPayee(p); err != nil {
		return nil, s.reject(span, "change_tier", err)
	}
	if err := checkTierAvailable(p, newTier); err != nil {
		return nil, s.reject(span, "change_tier", err)
	}
	if old.Owner != caller {
		return nil, s.reject(span, "change_tier", apperrors.ErrUnauthorized.WithDetails("%q does not hold subscription %s", caller, id))
	}

	now := s.clock.Now()
	topUp, err := RequiredTopUp(old.Subscription, newTier, p, now)
	if err != nil {
		return nil, s.reject(span, "change_tier", err)
	}
	if payment < topUp {
		return nil, s.reject(span, "change_tier", apperrors.ErrInsufficientPayment.WithDetails("paid %d, top-up to %s is %d", payment, newTier, topUp))
	}

	replacement := &Holding{
		Subscription: Subscription{
			ID:                 uuid.New(),
			PublicationID:      old.PublicationID,
			Tier:               newTier,
			SubscribedAt:       now,
			ExpiresAt:          old.tierChangeExpiry(now),
			OriginalSubscriber: caller,
		},
		Owner:   caller,
		Version: 1,
	}

	settlement, err := s.settle(ctx, p, payment, caller)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.store.Replace(ctx, old.ID, old.Version, replacement); err != nil {
		s.refund(ctx, "change_tier", id, settlement)
		return nil, s.fail(span, fmt.Errorf("failed to replace subscription: %w", err))
	}

	recordSettlement(settlement)
	metrics.TierChanges.WithLabelValues(old.Tier.String(), newTier.String()).Inc()
	s.logger.Info("subscription tier changed", map[string]interface{}{
		"oldSubscriptionId": old.ID.String(),
		"newSubscriptionId": replacement.ID.String(),
		"oldTier":           old.Tier.String(),
		"newTier":           newTier.String(),
		"topUp":             topUp,
		"payment":           payment,
		"expiresAt":         replacement.ExpiresAt,
	})

	s.publish(ctx, events.Event{
		Type:          EventSubscriptionRetired,
		AggregateID:   old.ID,
		AggregateType: AggregateType,
		Version:       old.Version + 1,
		OccurredAt:    now,
		Data: SubscriptionRetiredEvent{
			ID:         old.ID,
			ReplacedBy: replacement.ID,
		},
	})
	s.publish(ctx, events.Event{
		Type:          EventSubscriptionTierChanged,
		AggregateID:   replacement.ID,
		AggregateType: AggregateType,
		Version:       replacement.Version,
		OccurredAt:    now,
		Data: SubscriptionTierChangedEvent{
			OldID:         old.ID,
			NewID:         replacement.ID,
			PublicationID: replacement.PublicationID,
			Subscriber:    caller,
			OldTier:       old.Tier,
			NewTier:       newTier,
			ExpiresAt:     replacement.ExpiresAt,
		},
	})

	return replacement, nil
}

// Quote previews ChangeTier at the current time without touching state.
func (s *service) Quote(ctx context.Context, id uuid.UUID, p pricing.Pricing, newTier Tier) (Quote, error) {
	h, err := s.store.Get(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	if h.PublicationID != p.PublicationID {
		return Quote{}, apperrors.ErrInvalidPublicationID.WithDetails("subscription %s belongs to %s", id, h.PublicationID)
	}
	if err := checkTierAvailable(p, newTier); err != nil {
		return Quote{}, err
	}
	return QuoteTierChange(h.Subscription, newTier, p, s.clock.Now())
}

// Transfer moves custody of a subscription. The original subscriber field is untouched.
func (s *service) Transfer(ctx context.Context, id uuid.UUID, from, to string) (*Holding, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.transfer",
		trace.WithAttributes(attribute.String("subscription.id", id.String())),
	)
	defer span.End()

	if to == "" {
		return nil, s.reject(span, "transfer", apperrors.ErrUnauthorized.WithDetails("transfer of %s to empty address", id))
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.reject(span, "transfer", err)
	}
	if current.Owner != from {
		return nil, s.reject(span, "transfer", apperrors.ErrUnauthorized.WithDetails("%q does not hold subscription %s", from, id))
	}

	moved := current.clone()
	moved.Owner = to
	moved.Version = current.Version + 1
	if err := s.store.Update(ctx, moved, current.Version); err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to transfer subscription: %w", err))
	}

	s.logger.Debug("subscription transferred", map[string]interface{}{
		"subscriptionId": id.String(),
		"from":           from,
		"to":             to,
	})
	s.publish(ctx, events.Event{
		Type:          EventSubscriptionTransferred,
		AggregateID:   id,
		AggregateType: AggregateType,
		Version:       moved.Version,
		OccurredAt:    s.clock.Now(),
		Data:          SubscriptionTransferredEvent{ID: id, From: from, To: to},
	})
	return moved, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Holding, error) {
	return s.store.Get(ctx, id)
}

func (s *service) ListByOwner(ctx context.Context, owner string) ([]*Holding, error) {
	return s.store.ListByOwner(ctx, owner)
}

func checkTierAvailable(p pricing.Pricing, tier Tier) error {
	if !tier.Valid() {
		return apperrors.ErrInvalidTier.WithDetails("unknown tier %d", uint8(tier))
	}
	if tier == TierFree && !p.FreeTierEnabled {
		return apperrors.ErrInvalidTier.WithDetails("free tier disabled for publication %s", p.PublicationID)
	}
	return nil
}

// checkPayee rejects a snapshot whose payments could not be credited anywhere.
func checkPayee(p pricing.Pricing) error {
	if p.Creator == "" {
		return apperrors.ErrInvalidPublicationID.WithDetails("publication %s has no creator", p.PublicationID)
	}
	return nil
}

// settle splits the protocol fee off payment and credits the rest to the
// publication's creator in one step. A zero payment moves nothing.
func (s *service) settle(ctx context.Context, p pricing.Pricing, payment uint64, payer string) (treasury.Settlement, error) {
	if payment == 0 {
		return treasury.Settlement{}, nil
	}
	settlement, err := s.collector.Settle(ctx, payment, p.PublicationID, payer, p.Creator)
	if err != nil {
		return treasury.Settlement{}, fmt.Errorf("failed to settle payment: %w", err)
	}
	return settlement, nil
}

// refund reverses a settlement whose store write did not happen.
func (s *service) refund(ctx context.Context, operation string, id uuid.UUID, settlement treasury.Settlement) {
	if settlement.Fee == 0 && settlement.Remaining == 0 {
		return
	}
	if err := s.collector.Refund(ctx, settlement); err != nil {
		s.logger.Error("failed to refund settlement", map[string]interface{}{
			"operation":      operation,
			"subscriptionId": id.String(),
			"fee":            settlement.Fee,
			"remaining":      settlement.Remaining,
			"error":          err.Error(),
		})
	}
}

func recordSettlement(settlement treasury.Settlement) {
	metrics.PaymentsCollected.WithLabelValues("fee").Add(float64(settlement.Fee))
	metrics.PaymentsCollected.WithLabelValues("creator").Add(float64(settlement.Remaining))
}

func (s *service) publish(ctx context.Context, event events.Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", map[string]interface{}{
			"eventType":   event.Type,
			"aggregateId": event.AggregateID.String(),
			"error":       err.Error(),
		})
	}
}

func (s *service) startSpan(ctx context.Context, name string, publicationID uuid.UUID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("publication.id", publicationID.String()))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *service) reject(span trace.Span, operation string, err error) error {
	code := string(apperrors.Normalize(err).Code)
	span.SetAttributes(attribute.String("rejection.code", code))
	metrics.LedgerRejections.WithLabelValues(operation, code).Inc()
	return err
}

func (s *service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		s.logger.Error("ledger operation failed", map[string]interface{}{"error": err.Error()})
	}
	return err
}

func observe(operation string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
