package appointment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/doctor"
	redisclient "github.com/clinicore/scheduling/internal/redis"
	"github.com/clinicore/scheduling/internal/rules"
)

// memRepo is an in-memory Repository that mirrors the storage contract,
// including the active-slot uniqueness backstop the partial indexes
// provide in Postgres.
type memRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*Appointment
	events []EventRecord

	// createErrs is popped on each Create before any other logic,
	// simulating storage faults.
	createErrs []error

	// beforeUpdateStatus runs inside the lock just before the
	// compare-and-set, simulating a concurrent writer.
	beforeUpdateStatus func(r *memRepo)

	createCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (r *memRepo) Create(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.createCalls++
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}

	for _, existing := range r.appts {
		if !existing.Status.Active() || !rules.SameDay(existing.Date, a.Date) || existing.Time != a.Time {
			continue
		}
		if existing.DoctorID == a.DoctorID {
			return &ConflictError{Kind: DoctorDoubleBooking, ConflictingID: existing.ID}
		}
		if existing.PatientID == a.PatientID {
			return &ConflictError{Kind: PatientDoubleBooking, ConflictingID: existing.ID}
		}
	}

	cp := *a
	r.appts[a.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) FindActiveByDoctorSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, t rules.TimeOfDay, excludeID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.ID != excludeID && a.DoctorID == doctorID && a.Status.Active() && rules.SameDay(a.Date, date) && a.Time == t {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindActiveByPatientSlot(ctx context.Context, patientID uuid.UUID, date time.Time, t rules.TimeOfDay, excludeID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.ID != excludeID && a.PatientID == patientID && a.Status.Active() && rules.SameDay(a.Date, date) && a.Time == t {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) CountDailyActive(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.appts {
		if a.ID != excludeID && a.DoctorID == doctorID && a.Status.Active() && rules.SameDay(a.Date, date) {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) ListActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID == doctorID && a.Status.Active() && rules.SameDay(a.Date, date) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.beforeUpdateStatus != nil {
		hook := r.beforeUpdateStatus
		r.beforeUpdateStatus = nil
		hook(r)
	}

	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrNotFound
	}
	a.Status = to
	a.Notes = notes
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) Move(ctx context.Context, id uuid.UUID, from Status, newDate time.Time, newTime rules.TimeOfDay, notes string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrNotFound
	}

	for _, existing := range r.appts {
		if existing.ID == id || !existing.Status.Active() || !rules.SameDay(existing.Date, newDate) || existing.Time != newTime {
			continue
		}
		if existing.DoctorID == a.DoctorID {
			return nil, &ConflictError{Kind: DoctorDoubleBooking, ConflictingID: existing.ID}
		}
		if existing.PatientID == a.PatientID {
			return nil, &ConflictError{Kind: PatientDoubleBooking, ConflictingID: existing.ID}
		}
	}

	a.Date = newDate
	a.Time = newTime
	a.Notes = notes
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) FindOverdueActive(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Status.Active() && a.StartAt().Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(ctx context.Context, ev EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// passLocker runs the critical section without any real locking; the
// memRepo's own mutex provides the serialization in tests.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// heldLocker refuses every acquisition, as if another instance holds
// the slot lock.
type heldLocker struct{}

func (heldLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// fakeAvailability serves a single canned availability record.
type fakeAvailability struct {
	av  *doctor.Availability
	err error
}

func (f *fakeAvailability) Get(ctx context.Context, doctorID uuid.UUID) (*doctor.Availability, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.av, nil
}

// captureSink records published events in order.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Publish(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) byType(t string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func storageErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrStorage, msg)
}

func weekdayAvailability(doctorID uuid.UUID, start, end rules.TimeOfDay) *doctor.Availability {
	return &doctor.Availability{
		DoctorID: doctorID,
		WorkDays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		WorkStart:            start,
		WorkEnd:              end,
		Available:            true,
		MaxDailyAppointments: 16,
	}
}
