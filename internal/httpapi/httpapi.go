// Package httpapi holds the JSON and middleware helpers shared by every handler.
package httpapi

import (
	"encoding/json"
	"net/http"

	"inkpass/internal/apperrors"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// CallerHeader carries the wallet address of the caller. Authentication of
// that address happens upstream.
const CallerHeader = "X-Wallet-Address"

// CapabilityHeader carries a publisher or kiosk capability token.
const CapabilityHeader = "X-Capability"

// WriteJSON serialises payload as JSON and writes it with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// WriteError renders err as an apperrors.Error body with the mapped status.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperrors.HTTPStatus(err), apperrors.Normalize(err))
}

// Decode reads a JSON body into dst, writing a 400 on failure.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// Caller returns the wallet address the request acts for.
func Caller(r *http.Request) string {
	return r.Header.Get(CallerHeader)
}

// ParseID parses a uuid path parameter, writing a 400 on failure.
func ParseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// RateLimit rejects mutating requests once the shared limiter is exhausted.
// Reads are never limited.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead && !limiter.Allow() {
				WriteError(w, apperrors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
