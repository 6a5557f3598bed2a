package marketplace

import (
	"context"
	"net/http"

	"inkpass/internal/httpapi"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the kiosk endpoints on r. Owner operations read the kiosk
// capability from the X-Capability header.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/listings", h.HandleListings)
	r.Route("/kiosks", func(r chi.Router) {
		r.Post("/", h.HandleCreateKiosk)
		r.Get("/{kioskID}", h.HandleGetKiosk)
		r.Post("/{kioskID}/withdraw", h.HandleWithdraw)
		r.Post("/{kioskID}/items", h.HandlePlace)
		r.Delete("/{kioskID}/items/{subID}", h.HandleTake)
		r.Post("/{kioskID}/items/{subID}/listing", h.HandleList)
		r.Put("/{kioskID}/items/{subID}/listing", h.HandleUpdatePrice)
		r.Delete("/{kioskID}/items/{subID}/listing", h.HandleDelist)
		r.Post("/{kioskID}/items/{subID}/purchase", h.HandlePurchase)
	})
}

func (h *Handler) HandleCreateKiosk(w http.ResponseWriter, r *http.Request) {
	k, token, err := h.service.CreateKiosk(r.Context(), httpapi.Caller(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"kiosk":      k,
		"capability": token,
	})
}

func (h *Handler) HandleGetKiosk(w http.ResponseWriter, r *http.Request) {
	kioskID, ok := httpapi.ParseID(w, chi.URLParam(r, "kioskID"))
	if !ok {
		return
	}

	k, err := h.service.GetKiosk(r.Context(), kioskID)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, k)
}

// HandlePlace escrows a subscription, listing it too when a price is given.
func (h *Handler) HandlePlace(w http.ResponseWriter, r *http.Request) {
	kioskID, ok := httpapi.ParseID(w, chi.URLParam(r, "kioskID"))
	if !ok {
		return
	}
	var req struct {
		SubscriptionID uuid.UUID `json:"subscription_id"`
		Price          uint64    `json:"price"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}

	capToken := r.Header.Get(httpapi.CapabilityHeader)
	var err error
	if req.Price > 0 {
		err = h.service.PlaceAndList(r.Context(), kioskID, capToken, req.SubscriptionID, req.Price)
	} else {
		err = h.service.Place(r.Context(), kioskID, capToken, req.SubscriptionID)
	}
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.handlePriced(w, r, h.service.List)
}

func (h *Handler) HandleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	h.handlePriced(w, r, h.service.UpdatePrice)
}

func (h *Handler) HandleDelist(w http.ResponseWriter, r *http.Request) {
	kioskID, subID, ok := itemParams(w, r)
	if !ok {
		return
	}

	if err := h.service.Delist(r.Context(), kioskID, r.Header.Get(httpapi.CapabilityHeader), subID); err != nil {
		httpapi.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleTake(w http.ResponseWriter, r *http.Request) {
	kioskID, subID, ok := itemParams(w, r)
	if !ok {
		return
	}

	holding, err := h.service.Take(r.Context(), kioskID, r.Header.Get(httpapi.CapabilityHeader), subID)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, holding)
}

func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	kioskID, subID, ok := itemParams(w, r)
	if !ok {
		return
	}
	var req struct {
		Payment        uint64 `json:"payment"`
		RoyaltyPayment uint64 `json:"royalty_payment"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}

	holding, err := h.service.Purchase(r.Context(), kioskID, subID, httpapi.Caller(r), req.Payment, req.RoyaltyPayment)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, holding)
}

func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	kioskID, ok := httpapi.ParseID(w, chi.URLParam(r, "kioskID"))
	if !ok {
		return
	}

	amount, err := h.service.WithdrawProfits(r.Context(), kioskID, r.Header.Get(httpapi.CapabilityHeader))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]uint64{"amount": amount})
}

func (h *Handler) HandleListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.service.Listings(r.Context())
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	if listings == nil {
		listings = []Listing{}
	}

	httpapi.WriteJSON(w, http.StatusOK, listings)
}

type pricedOp func(ctx context.Context, kioskID uuid.UUID, capToken string, subID uuid.UUID, price uint64) error

func (h *Handler) handlePriced(w http.ResponseWriter, r *http.Request, op pricedOp) {
	kioskID, subID, ok := itemParams(w, r)
	if !ok {
		return
	}
	var req struct {
		Price uint64 `json:"price"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}

	if err := op(r.Context(), kioskID, r.Header.Get(httpapi.CapabilityHeader), subID, req.Price); err != nil {
		httpapi.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func itemParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	kioskID, ok := httpapi.ParseID(w, chi.URLParam(r, "kioskID"))
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	subID, ok := httpapi.ParseID(w, chi.URLParam(r, "subID"))
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return kioskID, subID, true
}
