package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/rules"
)

// Status is the lifecycle state of an appointment. Scheduled and
// Confirmed are the active states; the rest are terminal.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// ActiveStatuses are the states that occupy a slot and count toward
// conflicts and the daily cap.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed}

// Active reports whether the status occupies its slot.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Appointment is the booking record. Date and Time may only change
// through a reschedule, and Status only through lifecycle transitions.
type Appointment struct {
	ID        uuid.UUID       `json:"id"`
	DoctorID  uuid.UUID       `json:"doctor_id"`
	PatientID uuid.UUID       `json:"patient_id"`
	Date      time.Time       `json:"date"`
	Time      rules.TimeOfDay `json:"time"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StartAt returns the appointment's start as a point in time.
func (a *Appointment) StartAt() time.Time {
	return a.Time.At(a.Date)
}

// BookingRequest is the transient input for one booking attempt.
type BookingRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Time      rules.TimeOfDay
	Reason    string
}

// Slot is one candidate booking time on a doctor's day.
type Slot struct {
	Time      rules.TimeOfDay `json:"time"`
	Available bool            `json:"available"`
}
