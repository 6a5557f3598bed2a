package subscription

import (
	"net/http"

	"inkpass/internal/apperrors"
	"inkpass/internal/httpapi"
	"inkpass/internal/pricing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
	catalog pricing.Catalog
}

func NewHandler(service Service, catalog pricing.Catalog) *Handler {
	return &Handler{service: service, catalog: catalog}
}

// Routes mounts the ledger endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.HandleSubscribe)
		r.Get("/", h.HandleListByOwner)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/value", h.HandleValue)
		r.Get("/{id}/quote", h.HandleQuote)
		r.Post("/{id}/renew", h.HandleRenew)
		r.Post("/{id}/tier", h.HandleChangeTier)
	})
}

func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicationID uuid.UUID `json:"publication_id"`
		Tier          *Tier     `json:"tier"`
		Payment       uint64    `json:"payment"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}
	tier, ok := requireTier(w, req.Tier)
	if !ok {
		return
	}

	p, err := h.catalog.Snapshot(r.Context(), req.PublicationID)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	holding, err := h.service.Subscribe(r.Context(), p, tier, req.Payment, httpapi.Caller(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, holding)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	holding, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, holding)
}

func (h *Handler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = httpapi.Caller(r)
	}
	if owner == "" {
		http.Error(w, "missing owner", http.StatusBadRequest)
		return
	}

	holdings, err := h.service.ListByOwner(r.Context(), owner)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	if holdings == nil {
		holdings = []*Holding{}
	}

	httpapi.WriteJSON(w, http.StatusOK, holdings)
}

// HandleValue reports what the unused part of a subscription is worth now.
func (h *Handler) HandleValue(w http.ResponseWriter, r *http.Request) {
	holding, p, ok := h.loadWithPricing(w, r)
	if !ok {
		return
	}

	now := h.service.Now()
	remaining, err := RemainingValue(holding.Subscription, p, now)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	suggested, err := SuggestedResalePrice(holding.Subscription, p, now)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subscription_id":        holding.ID,
		"valid":                  holding.IsValid(now),
		"remaining_seconds":      remainingSeconds(holding.Subscription, now),
		"remaining_value":        remaining,
		"suggested_resale_price": suggested,
	})
}

func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	tier, err := ParseTier(r.URL.Query().Get("tier"))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	holding, p, ok := h.loadWithPricing(w, r)
	if !ok {
		return
	}

	quote, err := h.service.Quote(r.Context(), holding.ID, p, tier)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, quote)
}

func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payment uint64 `json:"payment"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}
	holding, p, ok := h.loadWithPricing(w, r)
	if !ok {
		return
	}

	renewed, err := h.service.Renew(r.Context(), holding.ID, p, req.Payment, httpapi.Caller(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, renewed)
}

func (h *Handler) HandleChangeTier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier    *Tier  `json:"tier"`
		Payment uint64 `json:"payment"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}
	tier, ok := requireTier(w, req.Tier)
	if !ok {
		return
	}
	holding, p, ok := h.loadWithPricing(w, r)
	if !ok {
		return
	}

	replacement, err := h.service.ChangeTier(r.Context(), holding.ID, p, tier, req.Payment, httpapi.Caller(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, replacement)
}

// requireTier rejects a body without a tier; a missing tier is never read as free.
func requireTier(w http.ResponseWriter, tier *Tier) (Tier, bool) {
	if tier == nil {
		httpapi.WriteError(w, apperrors.ErrInvalidTier.WithDetails("tier is required"))
		return 0, false
	}
	return *tier, true
}

// loadWithPricing resolves the path subscription and its publication's current prices.
func (h *Handler) loadWithPricing(w http.ResponseWriter, r *http.Request) (*Holding, pricing.Pricing, bool) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return nil, pricing.Pricing{}, false
	}

	holding, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, err)
		return nil, pricing.Pricing{}, false
	}

	p, err := h.catalog.Snapshot(r.Context(), holding.PublicationID)
	if err != nil {
		if apperrors.Normalize(err).Code == apperrors.CodeNotFound {
			err = apperrors.ErrInvalidPublicationID.WithDetails("publication %s no longer listed", holding.PublicationID)
		}
		httpapi.WriteError(w, err)
		return nil, pricing.Pricing{}, false
	}
	return holding, p, true
}
