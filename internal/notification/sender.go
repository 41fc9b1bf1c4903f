// Package notification turns appointment events into patient-facing
// messages. Actual delivery (email/SMS gateways) sits behind this
// package; the default sender only records what would be sent.
package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/appointment"
)

type Sender struct {
	logger zerolog.Logger
}

func NewSender(logger zerolog.Logger) *Sender {
	return &Sender{logger: logger}
}

// Handle formats and "sends" the notification for one event. Unknown
// event types are ignored so new producers never break the worker.
func (s *Sender) Handle(ctx context.Context, ev appointment.Event) error {
	var message string
	switch ev.Type {
	case appointment.EventAppointmentCreated:
		message = fmt.Sprintf("Your appointment on %s at %s has been booked.", ev.Date, ev.Time)
	case appointment.EventRescheduled:
		message = fmt.Sprintf("Your appointment has been moved to %s at %s.", ev.Date, ev.Time)
	case appointment.EventStatusChanged:
		switch ev.NewStatus {
		case appointment.StatusConfirmed:
			message = fmt.Sprintf("Your appointment on %s at %s is confirmed.", ev.Date, ev.Time)
		case appointment.StatusCancelled:
			message = fmt.Sprintf("Your appointment on %s at %s was cancelled.", ev.Date, ev.Time)
		default:
			return nil
		}
	default:
		return nil
	}

	s.logger.Info().
		Str("event_type", ev.Type).
		Stringer("patient_id", ev.PatientID).
		Stringer("appointment_id", ev.AppointmentID).
		Str("message", message).
		Msg("notification dispatched")
	return nil
}
