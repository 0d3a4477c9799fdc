// Package httpx holds the small JSON response helpers shared by the
// engine's HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/weaponforge/economy-engine/internal/model"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteDomainError maps the engine's error kinds to HTTP statuses and
// writes the error message. Unclassified errors become 500s with a
// generic body so internals do not leak.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		WriteError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidState):
		WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrInsufficientFunds):
		WriteError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, model.ErrConflict):
		WriteError(w, err.Error(), http.StatusConflict)
	default:
		WriteError(w, "internal error", http.StatusInternalServerError)
	}
}
