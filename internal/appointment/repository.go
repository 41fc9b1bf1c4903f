package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/rules"
)

// Repository contains all storage interactions needed by the scheduling
// core. Implementations must back the uniqueness checks with an
// enforceable constraint scoped to active statuses: the in-process
// checks in the conflict guard are a fast path, the constraint is the
// authority under concurrent writers.
//
// Error contract: Create and Move return *ConflictError when the
// storage constraint fires, ErrNotFound when a guarded update matches
// no row, and wrap infrastructure faults with ErrStorage.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Conflict checks. excludeID (uuid.Nil for none) skips the
	// appointment being rescheduled.
	FindActiveByDoctorSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, t rules.TimeOfDay, excludeID uuid.UUID) (*Appointment, error)
	FindActiveByPatientSlot(ctx context.Context, patientID uuid.UUID, date time.Time, t rules.TimeOfDay, excludeID uuid.UUID) (*Appointment, error)
	CountDailyActive(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) (int, error)

	// Reads for the slot generator and API listings.
	ListActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// UpdateStatus is a compare-and-set on status; it also replaces the
	// notes audit trail. A stale `from` matches no row and yields
	// ErrNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes string) (*Appointment, error)

	// Move commits a reschedule: new date/time, guarded on the current
	// status being `from`.
	Move(ctx context.Context, id uuid.UUID, from Status, newDate time.Time, newTime rules.TimeOfDay, notes string) (*Appointment, error)

	// Worker support: active appointments whose start time passed
	// before the cutoff.
	FindOverdueActive(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Event logging (audit trail).
	InsertEvent(ctx context.Context, ev EventRecord) error
}

// EventRecord is one row of the append-only event log.
type EventRecord struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
