package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/internal/doctor"
	"github.com/clinicore/scheduling/internal/rules"
)

var (
	svcNow = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)  // Monday
	svcDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) // next Monday
)

type serviceFixture struct {
	svc  *Service
	repo *memRepo
	sink *captureSink
	av   *fakeAvailability
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := newMemRepo()
	sink := &captureSink{}
	av := &fakeAvailability{
		av: weekdayAvailability(uuid.New(), rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0)),
	}

	svc := NewService(repo, passLocker{}, av, sink, rules.DefaultConfig(), 16, zerolog.Nop())
	svc.now = func() time.Time { return svcNow }

	return &serviceFixture{svc: svc, repo: repo, sink: sink, av: av}
}

func (f *serviceFixture) book(t *testing.T, slot rules.TimeOfDay) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  f.av.av.DoctorID,
		PatientID: uuid.New(),
		Date:      svcDay,
		Time:      slot,
		Reason:    "checkup",
	})
	require.NoError(t, err)
	return appt
}

func TestCreateAppointment(t *testing.T) {
	f := newServiceFixture(t)

	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, svcDay, appt.Date)
	assert.Equal(t, "checkup", appt.Reason)

	created := f.sink.byType(EventAppointmentCreated)
	require.Len(t, created, 1)
	assert.Equal(t, appt.ID, created[0].AppointmentID)
	assert.Equal(t, "2025-03-10", created[0].Date)
	assert.Equal(t, StatusScheduled, created[0].NewStatus)
}

func TestCreateAppointmentRuleViolationsFailFast(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  f.av.av.DoctorID,
		PatientID: uuid.New(),
		Date:      time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), // Saturday
		Time:      rules.NewTimeOfDay(10, 0),
	})
	var violation *rules.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, rules.WeekendDate, violation.Kind)

	// Validation failures never reach storage or the event sink.
	assert.Equal(t, 0, f.repo.createCalls)
	assert.Empty(t, f.sink.events)
}

func TestCreateAppointmentOutsideDoctorHours(t *testing.T) {
	f := newServiceFixture(t)
	f.av.av.WorkStart = rules.NewTimeOfDay(12, 0)
	f.av.av.WorkEnd = rules.NewTimeOfDay(16, 0)

	// Inside clinic hours but before this doctor starts.
	_, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  f.av.av.DoctorID,
		PatientID: uuid.New(),
		Date:      svcDay,
		Time:      rules.NewTimeOfDay(10, 0),
	})
	var violation *rules.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, rules.OutsideBusinessHours, violation.Kind)
}

func TestCreateAppointmentDoctorUnavailable(t *testing.T) {
	f := newServiceFixture(t)
	f.av.av.Available = false

	_, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  f.av.av.DoctorID,
		PatientID: uuid.New(),
		Date:      svcDay,
		Time:      rules.NewTimeOfDay(10, 0),
	})
	var violation *rules.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, rules.WeekendDate, violation.Kind)
}

func TestCreateAppointmentUnknownDoctor(t *testing.T) {
	f := newServiceFixture(t)
	f.av.err = doctor.ErrNotFound

	_, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  uuid.New(),
		PatientID: uuid.New(),
		Date:      svcDay,
		Time:      rules.NewTimeOfDay(10, 0),
	})
	assert.ErrorIs(t, err, doctor.ErrNotFound)
}

func TestCreateAppointmentRetriesStorageFaults(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.createErrs = []error{storageErr("deadlock"), storageErr("serialization")}

	appt := f.book(t, rules.NewTimeOfDay(10, 0))
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, 3, f.repo.createCalls)
}

func TestCreateAppointmentGivesUpAfterRetries(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.createErrs = []error{storageErr("1"), storageErr("2"), storageErr("3")}

	_, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  f.av.av.DoctorID,
		PatientID: uuid.New(),
		Date:      svcDay,
		Time:      rules.NewTimeOfDay(10, 0),
	})
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, 3, f.repo.createCalls)
}

func TestCreateAppointmentConflictIsNotRetried(t *testing.T) {
	f := newServiceFixture(t)
	first := f.book(t, rules.NewTimeOfDay(10, 0))
	callsAfterFirst := f.repo.createCalls

	_, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  f.av.av.DoctorID,
		PatientID: uuid.New(),
		Date:      svcDay,
		Time:      rules.NewTimeOfDay(10, 0),
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, DoctorDoubleBooking, conflict.Kind)
	assert.Equal(t, first.ID, conflict.ConflictingID)

	// A definitive conflict is rejected on the first attempt.
	assert.Equal(t, callsAfterFirst, f.repo.createCalls)
	assert.Len(t, f.sink.byType(EventAppointmentCreated), 1)
}

func TestConfirmAndComplete(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	confirmed, err := f.svc.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Contains(t, confirmed.Notes, "CONFIRMED")

	completed, err := f.svc.Complete(context.Background(), appt.ID, "follow up in six months")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Contains(t, completed.Notes, "COMPLETED: follow up in six months")
	// The confirmation entry is still there.
	assert.Contains(t, completed.Notes, "CONFIRMED")

	changed := f.sink.byType(EventStatusChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, StatusScheduled, changed[0].OldStatus)
	assert.Equal(t, StatusConfirmed, changed[0].NewStatus)
	assert.Equal(t, StatusConfirmed, changed[1].OldStatus)
	assert.Equal(t, StatusCompleted, changed[1].NewStatus)
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	_, err := f.svc.Complete(context.Background(), appt.ID, "")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusScheduled, invalid.From)
}

func TestCancelFreesTheSlot(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	cancelled, err := f.svc.Cancel(context.Background(), appt.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Contains(t, cancelled.Notes, "CANCELLED: patient request")

	// The slot is bookable again.
	rebooked := f.book(t, rules.NewTimeOfDay(10, 0))
	assert.NotEqual(t, appt.ID, rebooked.ID)

	// But a cancelled appointment stays cancelled.
	_, err = f.svc.Confirm(context.Background(), appt.ID)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusCancelled, invalid.From)
}

func TestTransitionAfterConcurrentChange(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	// Another caller cancels between our load and our compare-and-set.
	f.repo.beforeUpdateStatus = func(r *memRepo) {
		r.appts[appt.ID].Status = StatusCancelled
	}

	_, err := f.svc.Confirm(context.Background(), appt.ID)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusCancelled, invalid.From)
	assert.Equal(t, "confirm", invalid.Attempted)
}

func TestReschedule(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	newDay := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	moved, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, newDay, rules.NewTimeOfDay(14, 0))
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, moved.Status)
	assert.Equal(t, newDay, moved.Date)
	assert.Equal(t, rules.NewTimeOfDay(14, 0), moved.Time)
	assert.Contains(t, moved.Notes, "RESCHEDULED: from 2025-03-10 10:00")

	events := f.sink.byType(EventRescheduled)
	require.Len(t, events, 1)
	assert.Equal(t, "2025-03-11", events[0].Date)
	assert.Equal(t, rules.NewTimeOfDay(14, 0), events[0].Time)
	assert.Equal(t, "2025-03-10", events[0].OldDate)
	require.NotNil(t, events[0].OldTime)
	assert.Equal(t, rules.NewTimeOfDay(10, 0), *events[0].OldTime)

	// The old slot is free again.
	rebooked := f.book(t, rules.NewTimeOfDay(10, 0))
	assert.NotEqual(t, appt.ID, rebooked.ID)
}

func TestRescheduleRevalidatesCalendarRules(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	// Moving to later the same morning violates the 24h edit notice.
	_, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, rules.Day(svcNow), rules.NewTimeOfDay(11, 0))
	var violation *rules.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, rules.InsufficientNotice, violation.Kind)

	// Weekend target.
	_, err = f.svc.RescheduleAppointment(context.Background(), appt.ID,
		time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), rules.NewTimeOfDay(10, 0))
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, rules.WeekendDate, violation.Kind)

	// The appointment never moved.
	stored, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, svcDay, stored.Date)
	assert.Equal(t, rules.NewTimeOfDay(10, 0), stored.Time)
}

func TestRescheduleRequiresScheduled(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))
	_, err := f.svc.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)

	newDay := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.RescheduleAppointment(context.Background(), appt.ID, newDay, rules.NewTimeOfDay(14, 0))
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusConfirmed, invalid.From)
	assert.Equal(t, "reschedule", invalid.Attempted)
}

func TestRescheduleTargetConflict(t *testing.T) {
	f := newServiceFixture(t)
	blocker := f.book(t, rules.NewTimeOfDay(14, 0))
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	_, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, svcDay, rules.NewTimeOfDay(14, 0))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, DoctorDoubleBooking, conflict.Kind)
	assert.Equal(t, blocker.ID, conflict.ConflictingID)
}

func TestMarkNoShow(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	marked, err := f.svc.MarkNoShow(context.Background(), appt.ID, "no answer on phone")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, marked.Status)
	assert.Contains(t, marked.Notes, "NO-SHOW: no answer on phone")
}

func TestMarkOverdueNoShows(t *testing.T) {
	f := newServiceFixture(t)

	overdue := f.book(t, rules.NewTimeOfDay(9, 0))
	upcoming := f.book(t, rules.NewTimeOfDay(16, 30))

	// Advance the clock to the afternoon of the appointment day: the
	// 09:00 booking is hours old, the 16:30 one still ahead.
	f.svc.now = func() time.Time { return time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC) }

	marked, err := f.svc.MarkOverdueNoShows(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	a, err := f.svc.GetAppointment(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, a.Status)

	b, err := f.svc.GetAppointment(context.Background(), upcoming.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, b.Status)

	// A second sweep finds nothing new.
	marked, err = f.svc.MarkOverdueNoShows(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, marked)
}

func TestGenerateSlotsThroughService(t *testing.T) {
	f := newServiceFixture(t)
	f.book(t, rules.NewTimeOfDay(10, 0))

	slots, err := f.svc.GenerateSlots(context.Background(), f.av.av.DoctorID, svcDay)
	require.NoError(t, err)
	require.Len(t, slots, 16)

	for _, s := range slots {
		if s.Time == rules.NewTimeOfDay(10, 0) {
			assert.False(t, s.Available)
		} else {
			assert.True(t, s.Available)
		}
	}
}

func TestGetAppointmentNotFound(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.GetAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentBookingSameSlot(t *testing.T) {
	f := newServiceFixture(t)

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), BookingRequest{
				DoctorID:  f.av.av.DoctorID,
				PatientID: uuid.New(),
				Date:      svcDay,
				Time:      rules.NewTimeOfDay(10, 0),
				Reason:    "race",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, DoctorDoubleBooking, conflict.Kind)
			conflicted++
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicted)

	active, err := f.repo.FindActiveByDoctorSlot(context.Background(), f.av.av.DoctorID, svcDay, rules.NewTimeOfDay(10, 0), uuid.Nil)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Len(t, f.sink.byType(EventAppointmentCreated), 1)
}

func TestEventPublishFailureDoesNotFailBooking(t *testing.T) {
	repo := newMemRepo()
	av := &fakeAvailability{
		av: weekdayAvailability(uuid.New(), rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0)),
	}
	failing := failingSink{err: errors.New("broker down")}

	svc := NewService(repo, passLocker{}, av, failing, rules.DefaultConfig(), 16, zerolog.Nop())
	svc.now = func() time.Time { return svcNow }

	appt, err := svc.CreateAppointment(context.Background(), BookingRequest{
		DoctorID:  av.av.DoctorID,
		PatientID: uuid.New(),
		Date:      svcDay,
		Time:      rules.NewTimeOfDay(10, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
}

func TestListByPatientClampsLimit(t *testing.T) {
	f := newServiceFixture(t)
	patientID := uuid.New()

	_, err := f.svc.ListByPatient(context.Background(), patientID, -5, -3)
	require.NoError(t, err)

	_, err = f.svc.ListByPatient(context.Background(), patientID, 10_000, 0)
	require.NoError(t, err)
}

func TestNotesAreAppendOnly(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, rules.NewTimeOfDay(10, 0))

	newDay := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	_, err := f.svc.RescheduleAppointment(context.Background(), appt.ID, newDay, rules.NewTimeOfDay(14, 0))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)
	final, err := f.svc.Cancel(context.Background(), appt.ID, "clinic closure")
	require.NoError(t, err)

	lines := strings.Split(final.Notes, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RESCHEDULED")
	assert.Contains(t, lines[1], "CONFIRMED")
	assert.Contains(t, lines[2], "CANCELLED: clinic closure")
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Event) error { return f.err }
