package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/appointment"
	"github.com/clinicore/scheduling/internal/rules"
)

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Date      string `json:"date"` // 2006-01-02
	Time      string `json:"time"` // 15:04
	Reason    string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type CompleteRequest struct {
	Notes string `json:"notes,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type NoShowRequest struct {
	Note string `json:"note,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID       `json:"id"`
	DoctorID  uuid.UUID       `json:"doctor_id"`
	PatientID uuid.UUID       `json:"patient_id"`
	Date      string          `json:"date"`
	Time      rules.TimeOfDay `json:"time"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date.Format("2006-01-02"),
		Time:      a.Time,
		Status:    string(a.Status),
		Reason:    a.Reason,
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type SlotsResponse struct {
	DoctorID uuid.UUID          `json:"doctor_id"`
	Date     string             `json:"date"`
	Slots    []appointment.Slot `json:"slots"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	ConflictingID string `json:"conflicting_appointment_id,omitempty"`
}
