package appointment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/rules"
)

const (
	EventAppointmentCreated = "appointment.created"
	EventStatusChanged      = "appointment.status_changed"
	EventRescheduled        = "appointment.rescheduled"
)

// Event is the domain event emitted by each lifecycle transition. The
// core hands it to an EventSink and moves on; notification and audit
// consumers live outside the core.
type Event struct {
	Type          string           `json:"type"`
	AppointmentID uuid.UUID        `json:"appointment_id"`
	DoctorID      uuid.UUID        `json:"doctor_id"`
	PatientID     uuid.UUID        `json:"patient_id"`
	Date          string           `json:"date"`
	Time          rules.TimeOfDay  `json:"time"`
	OldStatus     Status           `json:"old_status,omitempty"`
	NewStatus     Status           `json:"new_status,omitempty"`
	OldDate       string           `json:"old_date,omitempty"`
	OldTime       *rules.TimeOfDay `json:"old_time,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// EventSink receives domain events. Publish failures must be handled by
// the sink (or logged by the caller); they never fail a booking.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

func createdEvent(a *Appointment, now time.Time) Event {
	return Event{
		Type:          EventAppointmentCreated,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Date:          a.Date.Format("2006-01-02"),
		Time:          a.Time,
		NewStatus:     a.Status,
		OccurredAt:    now,
	}
}

func statusChangedEvent(a *Appointment, old Status, now time.Time) Event {
	return Event{
		Type:          EventStatusChanged,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Date:          a.Date.Format("2006-01-02"),
		Time:          a.Time,
		OldStatus:     old,
		NewStatus:     a.Status,
		OccurredAt:    now,
	}
}

func rescheduledEvent(a *Appointment, oldDate time.Time, oldTime rules.TimeOfDay, now time.Time) Event {
	t := oldTime
	return Event{
		Type:          EventRescheduled,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Date:          a.Date.Format("2006-01-02"),
		Time:          a.Time,
		NewStatus:     a.Status,
		OldDate:       oldDate.Format("2006-01-02"),
		OldTime:       &t,
		OccurredAt:    now,
	}
}

// NopSink discards events. Used when no broker is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }

// FanoutSink delivers each event to every sink, collecting nothing:
// a failing sink must not starve the others.
type FanoutSink struct {
	Sinks  []EventSink
	Logger zerolog.Logger
}

func (f *FanoutSink) Publish(ctx context.Context, ev Event) error {
	for _, s := range f.Sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.Logger.Warn().Err(err).Str("event_type", ev.Type).
				Stringer("appointment_id", ev.AppointmentID).
				Msg("event sink publish failed")
		}
	}
	return nil
}

// LogSink appends events to the appointment event log table, the audit
// trail collaborators read back.
type LogSink struct {
	Repo Repository
}

func (l *LogSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	id := ev.AppointmentID
	return l.Repo.InsertEvent(ctx, EventRecord{
		EventType:     ev.Type,
		AppointmentID: &id,
		Payload:       payload,
		CreatedAt:     ev.OccurredAt,
	})
}
