package content

import (
	"net/http"

	"inkpass/internal/httpapi"
	"inkpass/internal/subscription"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SubscriptionHeader names the subscription a reader presents.
const SubscriptionHeader = "X-Subscription-ID"

type Handler struct {
	library *Library
}

func NewHandler(library *Library) *Handler {
	return &Handler{library: library}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/articles", func(r chi.Router) {
		r.Post("/", h.HandlePublish)
		r.Get("/{id}", h.HandleRead)
		r.Get("/{id}/comments", h.HandleListComments)
		r.Post("/{id}/comments", h.HandleComment)
	})
}

// credentials reads the caller, subscription and capability headers. A
// malformed subscription id is treated as absent.
func credentials(r *http.Request) Credentials {
	subID, _ := uuid.Parse(r.Header.Get(SubscriptionHeader))
	return Credentials{
		Reader:         httpapi.Caller(r),
		SubscriptionID: subID,
		PublisherCap:   r.Header.Get(httpapi.CapabilityHeader),
	}
}

func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicationID uuid.UUID         `json:"publication_id"`
		RequiredTier  subscription.Tier `json:"required_tier"`
		Title         string            `json:"title"`
		Body          string            `json:"body"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}

	a, err := h.library.Publish(r.Context(), req.PublicationID, req.RequiredTier, req.Title, req.Body, credentials(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	a, _, err := h.library.Read(r.Context(), id, credentials(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) HandleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	comments, err := h.library.Comments(r.Context(), id, credentials(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, comments)
}

func (h *Handler) HandleComment(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}

	c, err := h.library.Comment(r.Context(), id, req.Body, credentials(r))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, c)
}
