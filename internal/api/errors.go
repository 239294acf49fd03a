package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/slotlock"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleError maps domain errors to HTTP responses. Order matters:
// ErrTokenAlreadyFinalized also matches ErrInvalidStateTransition.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, allocation.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "token_not_found", err.Error())
	case errors.Is(err, clinic.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, clinic.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, allocation.ErrNoSlotAvailable):
		writeError(w, http.StatusNotFound, "no_slot_available", err.Error())

	case errors.Is(err, allocation.ErrTokenAlreadyFinalized):
		writeError(w, http.StatusConflict, "token_already_finalized", err.Error())
	case errors.Is(err, allocation.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, slotlock.ErrNotAcquired):
		writeError(w, http.StatusConflict, "slot_busy", "slot is busy, please retry shortly")

	case errors.Is(err, allocation.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, "invalid_source", err.Error())
	case errors.Is(err, allocation.ErrPatientNameRequired):
		writeError(w, http.StatusBadRequest, "patient_name_required", err.Error())
	case errors.Is(err, clinic.ErrInvalidCapacity):
		writeError(w, http.StatusBadRequest, "invalid_capacity", err.Error())
	case errors.Is(err, clinic.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	case errors.Is(err, clinic.ErrDoctorNameRequired),
		errors.Is(err, clinic.ErrNoTemplates),
		errors.Is(err, clinic.ErrInvalidTemplate):
		writeError(w, http.StatusBadRequest, "invalid_doctor", err.Error())

	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
