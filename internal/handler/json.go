package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/provision"
	"github.com/dukerupert/stampd/internal/store"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps service errors to an HTTP status and a message safe to
// show the caller. Unrecognized errors are reported as unavailable.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, issuance.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, issuance.ErrNotOwner), errors.Is(err, issuance.ErrNotStaff):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, store.ErrBusinessNotFound),
		errors.Is(err, issuance.ErrTokenNotFound),
		errors.Is(err, store.ErrTagNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, store.ErrQuantityOutOfRange):
		return http.StatusBadRequest, "quantity must be between 1 and 500"
	case errors.Is(err, issuance.ErrInvalidExpiry),
		errors.Is(err, issuance.ErrInvalidChannel):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrInventoryEmpty),
		errors.Is(err, store.ErrTokenNotActive),
		errors.Is(err, store.ErrAlreadyProvisioned):
		return http.StatusConflict, err.Error()
	case errors.Is(err, provision.ErrTagInactive):
		return http.StatusGone, err.Error()
	case errors.Is(err, provision.ErrNoKey):
		return http.StatusConflict, err.Error()
	}
	return http.StatusServiceUnavailable, "service unavailable, try again"
}
