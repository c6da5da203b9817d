package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// domainErrCode maps the error taxonomy onto an HTTP status, a stable
// code, and a client-safe message. Losing a dispatch race is an expected
// outcome, not a server fault.
func domainErrCode(err error) (int, string, string) {
	switch {
	case errors.Is(err, storage.ErrRideNotFound):
		return http.StatusNotFound, "ride_not_found", "ride not found"
	case errors.Is(err, ride.ErrActiveRideExists):
		return http.StatusConflict, "active_ride_exists", "you already have an active ride"
	case errors.Is(err, dispatch.ErrRideAlreadyTaken):
		return http.StatusConflict, "ride_already_taken", "ride was already taken"
	case errors.Is(err, ride.ErrDriverOffline):
		return http.StatusBadRequest, "driver_offline", "driver must be online"
	case errors.Is(err, dispatch.ErrNotRideParty):
		return http.StatusForbidden, "forbidden", "not authorized for this ride"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "invalid credentials"
	case ride.IsInvalidTransition(err):
		return http.StatusBadRequest, "invalid_transition", err.Error()
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

func writeDomainErr(w http.ResponseWriter, err error) {
	status, code, msg := domainErrCode(err)
	writeErr(w, status, code, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_body", "malformed request body")
		return false
	}
	return true
}
