package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("appointment not found")

	// ErrStorage marks infrastructure faults (serialization aborts,
	// deadlocks, lost connections). It is the only error kind the
	// service retries.
	ErrStorage = errors.New("storage failure")
)

// ConflictKind identifies which uniqueness rule rejected a booking.
type ConflictKind string

const (
	DoctorDoubleBooking  ConflictKind = "doctor_double_booking"
	PatientDoubleBooking ConflictKind = "patient_double_booking"
	DailyCapExceeded     ConflictKind = "daily_cap_exceeded"
)

// ConflictError is a definitive booking rejection: the requested slot
// would violate doctor or patient uniqueness, or the daily cap. It is
// never retried by the service.
type ConflictError struct {
	Kind          ConflictKind
	ConflictingID uuid.UUID // id of the appointment already holding the slot, if known
}

func (e *ConflictError) Error() string {
	if e.ConflictingID != uuid.Nil {
		return fmt.Sprintf("%s: conflicts with appointment %s", e.Kind, e.ConflictingID)
	}
	return string(e.Kind)
}

// InvalidTransitionError reports a lifecycle transition attempted from
// a state that forbids it. This is a caller error, not a transient
// condition.
type InvalidTransitionError struct {
	From      Status
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment in status %q", e.Attempted, e.From)
}
