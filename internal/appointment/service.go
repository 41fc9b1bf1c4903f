package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/doctor"
	redisclient "github.com/clinicore/scheduling/internal/redis"
	"github.com/clinicore/scheduling/internal/rules"
)

const (
	// reserveAttempts bounds the automatic retry on storage faults.
	// Conflicts and validation failures are never retried.
	reserveAttempts = 3
	retryBackoff    = 100 * time.Millisecond
)

// Service is the booking orchestrator: it composes the calendar rules,
// the conflict guard, and the lifecycle transitions into the operations
// the API layer calls. All appointment mutation goes through here.
type Service struct {
	repo            Repository
	guard           *Guard
	availability    doctor.AvailabilityProvider
	sink            EventSink
	cfg             rules.Config
	defaultMaxDaily int
	logger          zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, availability doctor.AvailabilityProvider, sink EventSink, cfg rules.Config, defaultMaxDaily int, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = NopSink{}
	}
	return &Service{
		repo:            repo,
		guard:           NewGuard(repo, locker),
		availability:    availability,
		sink:            sink,
		cfg:             cfg,
		defaultMaxDaily: defaultMaxDaily,
		logger:          logger,
		now:             time.Now,
	}
}

// CreateAppointment validates the request against the calendar rules
// and the doctor's working hours, reserves the slot, and emits
// appointment.created.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	now := s.now()

	if v := s.cfg.Validate(req.Date, req.Time, now, s.cfg.CreateNotice); v != nil {
		return nil, v
	}

	av, err := s.availability.Get(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDoctorHours(av, req.Date, req.Time); err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.withStorageRetry(ctx, func() error {
		appt, err := s.guard.Reserve(ctx, req, s.maxDaily(av), s.now())
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, createdEvent(created, s.now()))
	return created, nil
}

// RescheduleAppointment moves a Scheduled appointment to a new slot,
// re-running every calendar rule and conflict check as if it were a
// fresh booking (excluding the appointment's own current slot). The
// status stays Scheduled; a confirmed appointment must be cancelled and
// re-created instead.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newTime rules.TimeOfDay) (*Appointment, error) {
	now := s.now()

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if terr := checkTransition(appt, TransitionReschedule); terr != nil {
		return nil, terr
	}

	if v := s.cfg.Validate(newDate, newTime, now, s.cfg.EditNotice); v != nil {
		return nil, v
	}

	av, err := s.availability.Get(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDoctorHours(av, newDate, newTime); err != nil {
		return nil, err
	}

	oldDate, oldTime := appt.Date, appt.Time
	notes := annotate(appt.Notes, "RESCHEDULED",
		fmt.Sprintf("from %s %s", oldDate.Format("2006-01-02"), oldTime), now)

	var moved *Appointment
	err = s.withStorageRetry(ctx, func() error {
		m, err := s.guard.Move(ctx, appt, newDate, newTime, s.maxDaily(av), notes)
		if err != nil {
			return err
		}
		moved = m
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The status moved under us between load and commit.
			return nil, s.staleTransition(ctx, id, TransitionReschedule)
		}
		return nil, err
	}

	s.publish(ctx, rescheduledEvent(moved, oldDate, oldTime, s.now()))
	return moved, nil
}

// Confirm moves Scheduled to Confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, TransitionConfirm, "CONFIRMED", "")
}

// Complete moves Confirmed to Completed, appending the visit notes.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	return s.transition(ctx, id, TransitionComplete, "COMPLETED", notes)
}

// Cancel moves an active appointment to Cancelled, recording the reason.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, TransitionCancel, "CANCELLED", reason)
}

// MarkNoShow moves an active appointment to NoShow.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, note string) (*Appointment, error) {
	return s.transition(ctx, id, TransitionNoShow, "NO-SHOW", note)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, name, prefix, text string) (*Appointment, error) {
	now := s.now()

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if terr := checkTransition(appt, name); terr != nil {
		return nil, terr
	}

	old := appt.Status
	notes := annotate(appt.Notes, prefix, text, now)

	updated, err := s.repo.UpdateStatus(ctx, id, old, targetStatus[name], notes)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.staleTransition(ctx, id, name)
		}
		return nil, err
	}

	s.publish(ctx, statusChangedEvent(updated, old, s.now()))
	return updated, nil
}

// staleTransition re-reads the appointment after a compare-and-set miss
// so the caller sees the transition rejected against the fresh status
// instead of a spurious not-found.
func (s *Service) staleTransition(ctx context.Context, id uuid.UUID, name string) error {
	fresh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{From: fresh.Status, Attempted: name}
}

// GenerateSlots returns the bookable slots for a doctor on a date.
func (s *Service) GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	av, err := s.availability.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListActiveByDoctorDay(ctx, doctorID, rules.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list existing appointments: %w", err)
	}

	return GenerateSlots(av, date, existing, s.cfg, s.now()), nil
}

// GetAppointment loads one appointment by id.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByPatient returns a patient's appointments, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// MarkOverdueNoShows flags active appointments whose start time passed
// more than grace ago as no-shows. Called periodically by the worker;
// individual failures are logged and skipped so one bad row cannot
// stall the sweep.
func (s *Service) MarkOverdueNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	overdue, err := s.repo.FindOverdueActive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		if _, err := s.MarkNoShow(ctx, appt.ID, "patient did not arrive"); err != nil {
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				continue
			}
			s.logger.Warn().Err(err).Stringer("appointment_id", appt.ID).
				Msg("failed to mark overdue appointment as no-show")
			continue
		}
		marked++
	}
	return marked, nil
}

// checkDoctorHours rejects times the doctor does not work, using the
// same violation kinds as the clinic-wide rules.
func (s *Service) checkDoctorHours(av *doctor.Availability, date time.Time, t rules.TimeOfDay) error {
	if !av.Available || !av.WorksOn(date) {
		return &rules.Violation{
			Kind:    rules.WeekendDate,
			Message: "doctor is not taking appointments on this date",
		}
	}
	if t < av.WorkStart || t >= av.WorkEnd {
		return &rules.Violation{
			Kind:    rules.OutsideBusinessHours,
			Message: fmt.Sprintf("doctor works %s-%s on this day", av.WorkStart, av.WorkEnd),
		}
	}
	return nil
}

func (s *Service) maxDaily(av *doctor.Availability) int {
	if av.MaxDailyAppointments > 0 {
		return av.MaxDailyAppointments
	}
	return s.defaultMaxDaily
}

func (s *Service) withStorageRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= reserveAttempts; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrStorage) {
			return err
		}
		lastErr = err
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("storage fault during reserve, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return lastErr
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event_type", ev.Type).
			Stringer("appointment_id", ev.AppointmentID).
			Msg("event publish failed")
	}
}
