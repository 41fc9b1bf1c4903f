package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/appointment"
	"github.com/clinicore/scheduling/internal/doctor"
	"github.com/clinicore/scheduling/internal/rules"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps every failure kind of the scheduling core onto
// a stable error code. The codes are part of the API contract; clients
// branch on them, so they never change with wording.
func writeDomainError(w http.ResponseWriter, err error) {
	var violation *rules.Violation
	if errors.As(err, &violation) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   string(violation.Kind),
			Details: violation.Message,
		})
		return
	}

	var conflict *appointment.ConflictError
	if errors.As(err, &conflict) {
		resp := ErrorResponse{Error: string(conflict.Kind), Details: conflict.Error()}
		if conflict.ConflictingID != uuid.Nil {
			resp.ConflictingID = conflict.ConflictingID.String()
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	var invalid *appointment.InvalidTransitionError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "invalid_transition",
			Details: invalid.Error(),
		})
		return
	}

	switch {
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, doctor.ErrNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrStorage):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "the booking could not be stored, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
