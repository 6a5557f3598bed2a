package eventstore

import (
	"context"
	"net/http"
	"strconv"

	"inkpass/internal/apperrors"
	"inkpass/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

const (
	defaultBatch = 100
	maxBatch     = 1000
)

// Streamer is the journal read side that indexers replay.
type Streamer interface {
	Stream(ctx context.Context, fromID int64, batchSize int) ([]Record, error)
}

type Handler struct {
	journal Streamer
}

func NewHandler(journal Streamer) *Handler {
	return &Handler{journal: journal}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/events", h.HandleStream)
}

// HandleStream pages through the journal in id order. Clients pass the
// returned next cursor back as from to continue.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := queryInt(q.Get("from"), 0)
	if err != nil || from < 0 {
		httpapi.WriteError(w, apperrors.ErrValidation.WithDetails("from must be a non-negative event id"))
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultBatch)
	if err != nil || limit < 1 || limit > maxBatch {
		httpapi.WriteError(w, apperrors.ErrValidation.WithDetails("limit must be between 1 and %d", maxBatch))
		return
	}

	records, err := h.journal.Stream(r.Context(), from, int(limit))
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	next := from
	if len(records) > 0 {
		next = records[len(records)-1].ID
	}
	if records == nil {
		records = []Record{}
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": records,
		"next":   next,
	})
}

func queryInt(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
