package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/clinicore/scheduling/internal/redis"
	"github.com/clinicore/scheduling/internal/rules"
)

// Guard performs the atomic check-then-reserve step for a booking. The
// per-slot lock keeps concurrent requests on one instance from racing;
// the storage layer's partial unique indexes are the authoritative
// backstop across instances, so a lost race still surfaces as a
// ConflictError rather than a duplicate row.
type Guard struct {
	repo   Repository
	locker redisclient.Locker
}

func NewGuard(repo Repository, locker redisclient.Locker) *Guard {
	return &Guard{repo: repo, locker: locker}
}

// Reserve checks doctor uniqueness, patient uniqueness, and the daily
// cap, then creates the appointment in status Scheduled. maxDaily is
// the doctor's cap for the requested day.
func (g *Guard) Reserve(ctx context.Context, req BookingRequest, maxDaily int, now time.Time) (*Appointment, error) {
	var created *Appointment

	err := g.withSlotLock(ctx, req.DoctorID, req.Date, req.Time, func(lockCtx context.Context) error {
		if err := g.check(lockCtx, req.DoctorID, req.PatientID, req.Date, req.Time, uuid.Nil, maxDaily); err != nil {
			return err
		}

		appt := &Appointment{
			ID:        uuid.New(),
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Date:      rules.Day(req.Date),
			Time:      req.Time,
			Status:    StatusScheduled,
			Reason:    req.Reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := g.repo.Create(lockCtx, appt); err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Move re-runs the uniqueness checks for the new slot, excluding the
// appointment's own current booking, then commits the date/time change
// guarded on the status still being Scheduled.
func (g *Guard) Move(ctx context.Context, a *Appointment, newDate time.Time, newTime rules.TimeOfDay, maxDaily int, notes string) (*Appointment, error) {
	var moved *Appointment

	err := g.withSlotLock(ctx, a.DoctorID, newDate, newTime, func(lockCtx context.Context) error {
		if err := g.check(lockCtx, a.DoctorID, a.PatientID, newDate, newTime, a.ID, maxDaily); err != nil {
			return err
		}

		updated, err := g.repo.Move(lockCtx, a.ID, StatusScheduled, rules.Day(newDate), newTime, notes)
		if err != nil {
			return err
		}
		moved = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (g *Guard) check(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, t rules.TimeOfDay, excludeID uuid.UUID, maxDaily int) error {
	existing, err := g.repo.FindActiveByDoctorSlot(ctx, doctorID, date, t, excludeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check doctor conflict: %w", err)
	}
	if existing != nil {
		return &ConflictError{Kind: DoctorDoubleBooking, ConflictingID: existing.ID}
	}

	existing, err = g.repo.FindActiveByPatientSlot(ctx, patientID, date, t, excludeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check patient conflict: %w", err)
	}
	if existing != nil {
		return &ConflictError{Kind: PatientDoubleBooking, ConflictingID: existing.ID}
	}

	if maxDaily > 0 {
		count, err := g.repo.CountDailyActive(ctx, doctorID, date, excludeID)
		if err != nil {
			return fmt.Errorf("count daily load: %w", err)
		}
		if count >= maxDaily {
			return &ConflictError{Kind: DailyCapExceeded}
		}
	}
	return nil
}

// withSlotLock serializes booking attempts for one (doctor, date, time)
// slot. Lock contention means another caller is reserving the same slot
// right now; that is reported as a doctor conflict, the same outcome
// the loser of the race would see a moment later.
func (g *Guard) withSlotLock(ctx context.Context, doctorID uuid.UUID, date time.Time, t rules.TimeOfDay, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:booking:%s:%s:%s", doctorID, rules.Day(date).Format("2006-01-02"), t)
	err := g.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return &ConflictError{Kind: DoctorDoubleBooking}
	}
	return err
}
