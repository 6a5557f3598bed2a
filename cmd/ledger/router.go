package main

import (
	"net/http"

	"inkpass/internal/access"
	"inkpass/internal/eventstore"
	"inkpass/internal/httpapi"
	"inkpass/internal/marketplace"
	"inkpass/internal/pricing"
	"inkpass/internal/subscription"
	"inkpass/internal/treasury"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type services struct {
	catalog  pricing.Publisher
	treasury *treasury.Treasury
	ledger   subscription.Service
	market   marketplace.Service
	gate     *access.Gate
	// journal is nil when no database is configured.
	journal *eventstore.EventStore
}

func newRouter(s services, limiter *rate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httpapi.RateLimit(limiter))
		pricing.NewHandler(s.catalog, s.treasury).Routes(r)
		subscription.NewHandler(s.ledger, s.catalog).Routes(r)
		marketplace.NewHandler(s.market).Routes(r)
		access.NewHandler(s.gate).Routes(r)
		if s.journal != nil {
			eventstore.NewHandler(s.journal).Routes(r)
		}
	})
	return r
}
