package appointment

import (
	"time"

	"github.com/clinicore/scheduling/internal/doctor"
	"github.com/clinicore/scheduling/internal/rules"
)

// GenerateSlots produces the chronological list of candidate slots for
// a doctor on a date, marking those occupied by an active appointment
// unavailable. An unavailable doctor, a non-working day, or a date that
// fails a calendar rule yields an empty list rather than an error:
// "no slots" is a normal outcome.
//
// The result is deterministic for a fixed snapshot of existing
// appointments.
func GenerateSlots(av *doctor.Availability, date time.Time, existing []Appointment, cfg rules.Config, now time.Time) []Slot {
	if av == nil || !av.Available || !av.WorksOn(date) {
		return nil
	}
	if v := cfg.ValidateDate(date, now); v != nil {
		return nil
	}
	step := cfg.SlotMinutes
	if step <= 0 {
		return nil
	}

	taken := make(map[rules.TimeOfDay]bool, len(existing))
	for _, a := range existing {
		if a.Status.Active() && rules.SameDay(a.Date, date) {
			taken[a.Time] = true
		}
	}

	var slots []Slot
	for t := av.WorkStart; t < av.WorkEnd; t = t.AddMinutes(step) {
		slots = append(slots, Slot{Time: t, Available: !taken[t]})
	}
	return slots
}
