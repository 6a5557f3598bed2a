package access

import (
	"net/http"

	"inkpass/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

// AuthorizePath is where the gate is served and where clients post to.
const AuthorizePath = "/access/authorize"

type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post(AuthorizePath, h.HandleAuthorize)
}

// HandleAuthorize always answers 200 with the decision; only malformed
// requests and internal failures produce an error status.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req Request
	if !httpapi.Decode(w, r, &req) {
		return
	}
	if req.Reader == "" {
		req.Reader = httpapi.Caller(r)
	}
	if req.PublisherCap == "" {
		req.PublisherCap = r.Header.Get(httpapi.CapabilityHeader)
	}

	d, err := h.gate.Authorize(r.Context(), req)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, d)
}
