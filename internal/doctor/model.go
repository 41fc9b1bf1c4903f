package doctor

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/rules"
)

var ErrNotFound = errors.New("doctor not found")

// Doctor is the directory record for a clinician. The scheduling core
// only ever references doctors by id; the profile fields exist for the
// seed tool and API responses.
type Doctor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Availability is the read-only working-hours projection the scheduling
// core consumes. It is owned by doctor management and supplied per call.
type Availability struct {
	DoctorID             uuid.UUID              `json:"doctor_id"`
	WorkDays             map[time.Weekday]bool  `json:"work_days"`
	WorkStart            rules.TimeOfDay        `json:"work_start"`
	WorkEnd              rules.TimeOfDay        `json:"work_end"`
	Available            bool                   `json:"available"`
	MaxDailyAppointments int                    `json:"max_daily_appointments"`
}

// WorksOn reports whether the doctor works on the given date's weekday.
func (a *Availability) WorksOn(date time.Time) bool {
	return a.WorkDays[date.Weekday()]
}
