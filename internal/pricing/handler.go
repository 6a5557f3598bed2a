package pricing

import (
	"context"
	"net/http"

	"inkpass/internal/apperrors"
	"inkpass/internal/httpapi"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Publisher is the write side of the catalog.
type Publisher interface {
	Catalog
	CreatePublication(ctx context.Context, name, creator string, basic, premium uint64, freeTier bool) (*Publication, string, error)
	UpdatePricing(ctx context.Context, publicationID uuid.UUID, capToken string, basic, premium uint64, freeTier bool) error
}

// FeeReporter reports protocol fees attributed to one publication.
type FeeReporter interface {
	CollectedFor(publicationID uuid.UUID) uint64
}

type Handler struct {
	publisher Publisher
	fees      FeeReporter
}

func NewHandler(publisher Publisher, fees FeeReporter) *Handler {
	return &Handler{publisher: publisher, fees: fees}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/publications", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}/pricing", h.HandleUpdatePricing)
		r.Get("/{id}/fees", h.HandleFees)
	})
}

type pricesRequest struct {
	BasicPrice      uint64 `json:"basic_price"`
	PremiumPrice    uint64 `json:"premium_price"`
	FreeTierEnabled bool   `json:"free_tier_enabled"`
}

// HandleCreate registers a publication owned by the caller. The capability
// token is returned once and never stored in clear.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		pricesRequest
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}
	creator := httpapi.Caller(r)
	if creator == "" {
		http.Error(w, "missing caller", http.StatusBadRequest)
		return
	}

	pub, token, err := h.publisher.CreatePublication(r.Context(), req.Name, creator, req.BasicPrice, req.PremiumPrice, req.FreeTierEnabled)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, map[string]any{
		"publication":   pub,
		"publisher_cap": token,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	p, err := h.publisher.Snapshot(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleUpdatePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req pricesRequest
	if !httpapi.Decode(w, r, &req) {
		return
	}

	err := h.publisher.UpdatePricing(r.Context(), id, r.Header.Get(httpapi.CapabilityHeader), req.BasicPrice, req.PremiumPrice, req.FreeTierEnabled)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	p, err := h.publisher.Snapshot(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, p)
}

// HandleFees reports the protocol fees taken from a publication's payments.
// Only the publisher may read it.
func (h *Handler) HandleFees(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if _, err := h.publisher.Snapshot(r.Context(), id); err != nil {
		httpapi.WriteError(w, err)
		return
	}
	if !h.publisher.VerifyPublisher(r.Context(), id, r.Header.Get(httpapi.CapabilityHeader)) {
		httpapi.WriteError(w, apperrors.ErrUnauthorized.WithDetails("publisher capability rejected for %s", id))
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"publication_id": id,
		"protocol_fees":  h.fees.CollectedFor(id),
	})
}
