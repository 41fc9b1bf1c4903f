package doctor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/scheduling/internal/rules"
)

type PgProvider struct {
	pool *pgxpool.Pool
}

func NewPgProvider(pool *pgxpool.Pool) *PgProvider {
	return &PgProvider{pool: pool}
}

func (p *PgProvider) Get(ctx context.Context, doctorID uuid.UUID) (*Availability, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT doctor_id, work_days, work_start_minute, work_end_minute, is_available, max_daily_appointments
		FROM doctor_availability
		WHERE doctor_id = $1
	`, doctorID)

	var (
		av          Availability
		workDays    []int32
		startMinute int
		endMinute   int
	)
	err := row.Scan(&av.DoctorID, &workDays, &startMinute, &endMinute, &av.Available, &av.MaxDailyAppointments)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	av.WorkDays = make(map[time.Weekday]bool, len(workDays))
	for _, d := range workDays {
		av.WorkDays[time.Weekday(d)] = true
	}
	av.WorkStart = rules.TimeOfDay(startMinute)
	av.WorkEnd = rules.TimeOfDay(endMinute)

	return &av, nil
}

func (p *PgProvider) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)

	var d Doctor
	if err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}
