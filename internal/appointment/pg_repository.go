package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/scheduling/internal/rules"
)

// Constraint names for the partial unique indexes over active statuses.
// These are the storage-level backstop for the conflict guard; see
// migrations/0001_init.sql.
const (
	doctorSlotConstraint  = "uq_appointments_doctor_slot"
	patientSlotConstraint = "uq_appointments_patient_slot"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, doctor_id, patient_id, date, start_minute, status, reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a           Appointment
		startMinute int
	)
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&startMinute,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translatePgError(err)
	}
	a.Time = rules.TimeOfDay(startMinute)
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, date, start_minute, status, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, a.ID, a.DoctorID, a.PatientID, a.Date, int(a.Time), a.Status, a.Reason, a.Notes)
	if err != nil {
		return translatePgError(err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByDoctorSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, t rules.TimeOfDay, excludeID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND start_minute = $3
		  AND status IN ('scheduled', 'confirmed')
		  AND id <> $4
		LIMIT 1
	`, doctorID, rules.Day(date), int(t), excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByPatientSlot(ctx context.Context, patientID uuid.UUID, date time.Time, t rules.TimeOfDay, excludeID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND date = $2
		  AND start_minute = $3
		  AND status IN ('scheduled', 'confirmed')
		  AND id <> $4
		LIMIT 1
	`, patientID, rules.Day(date), int(t), excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) CountDailyActive(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('scheduled', 'confirmed')
		  AND id <> $3
	`, doctorID, rules.Day(date), excludeID).Scan(&count)
	if err != nil {
		return 0, translatePgError(err)
	}
	return count, nil
}

func (r *PgRepository) ListActiveByDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('scheduled', 'confirmed')
		ORDER BY start_minute
	`, doctorID, rules.Day(date))
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+appointmentColumns+`
	`, id, to, notes, from)
	return scanAppointment(row)
}

func (r *PgRepository) Move(ctx context.Context, id uuid.UUID, from Status, newDate time.Time, newTime rules.TimeOfDay, notes string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_minute = $3,
		    notes = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		RETURNING `+appointmentColumns+`
	`, id, rules.Day(newDate), int(newTime), notes, from)
	return scanAppointment(row)
}

func (r *PgRepository) FindOverdueActive(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND date::timestamp + make_interval(mins => start_minute) < $1
		ORDER BY date, start_minute
	`, cutoff)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event record: %w", translatePgError(err))
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgError(err)
	}
	return result, nil
}

// translatePgError maps storage-level failures onto the domain error
// taxonomy. A unique-index violation is the authoritative conflict
// signal when the guard's in-process check lost a race; serialization
// aborts and deadlocks become retryable ErrStorage.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == patientSlotConstraint {
				return &ConflictError{Kind: PatientDoubleBooking}
			}
			return &ConflictError{Kind: DoctorDoubleBooking}
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
