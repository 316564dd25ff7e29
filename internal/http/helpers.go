package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/orders"
	"github.com/example/vai-no-pulo/internal/trips"
)

const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
)

// identity resolves the caller from the gateway-injected headers. On a
// missing or malformed identity it writes a 401 and returns ok=false.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, models.Role, bool) {
	id := r.Header.Get(headerUserID)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return "", "", false
	}
	role := models.Role(r.Header.Get(headerUserRole))
	switch role {
	case models.RoleCustomer, models.RoleDriver:
		return id, role, true
	default:
		writeError(w, http.StatusUnauthorized, "unknown role")
		return "", "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service sentinels onto HTTP statuses. The error
// text is the wrapped human-readable reason, safe to show the caller.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, trips.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orders.ErrForbidden), errors.Is(err, trips.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, orders.ErrBadRequest), errors.Is(err, trips.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, orders.ErrConflict), errors.Is(err, trips.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
