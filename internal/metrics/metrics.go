package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubscriptionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_created_total",
			Help: "Total number of subscriptions created",
		},
		[]string{"tier"},
	)

	SubscriptionsRenewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_renewed_total",
			Help: "Total number of renewals, split by whether the subscription was still active",
		},
		[]string{"state"},
	)

	TierChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_tier_changes_total",
			Help: "Total number of tier changes",
		},
		[]string{"from", "to"},
	)

	LedgerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rejections_total",
			Help: "Operations rejected by the ledger or marketplace",
		},
		[]string{"operation", "code"},
	)

	PaymentsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_collected_total",
			Help: "Sum of payments collected, in the smallest currency unit",
		},
		[]string{"kind"},
	)

	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access gate decisions",
		},
		[]string{"kind", "reason"},
	)

	MarketplaceActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_actions_total",
			Help: "Kiosk operations performed",
		},
		[]string{"action"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger and marketplace operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
