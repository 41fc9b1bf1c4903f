package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/internal/rules"
)

var genNow = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // Monday

func TestGenerateSlotsFullDay(t *testing.T) {
	doctorID := uuid.New()
	av := weekdayAvailability(doctorID, rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0))
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) // Monday

	slots := GenerateSlots(av, day, nil, rules.DefaultConfig(), genNow)

	// 09:00 through 16:30 on the half hour.
	require.Len(t, slots, 16)
	assert.Equal(t, rules.NewTimeOfDay(9, 0), slots[0].Time)
	assert.Equal(t, rules.NewTimeOfDay(16, 30), slots[15].Time)
	for i, s := range slots {
		assert.True(t, s.Available, "slot %d should be free", i)
		if i > 0 {
			assert.Equal(t, 30, int(s.Time-slots[i-1].Time), "slots must be chronological and evenly spaced")
		}
	}
}

func TestGenerateSlotsMarksOccupied(t *testing.T) {
	doctorID := uuid.New()
	av := weekdayAvailability(doctorID, rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0))
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	existing := []Appointment{
		{DoctorID: doctorID, Date: day, Time: rules.NewTimeOfDay(10, 0), Status: StatusScheduled},
		{DoctorID: doctorID, Date: day, Time: rules.NewTimeOfDay(14, 30), Status: StatusConfirmed},
		// Terminal statuses release their slot.
		{DoctorID: doctorID, Date: day, Time: rules.NewTimeOfDay(11, 0), Status: StatusCancelled},
		{DoctorID: doctorID, Date: day, Time: rules.NewTimeOfDay(12, 0), Status: StatusNoShow},
		// Another day never blocks this one.
		{DoctorID: doctorID, Date: day.AddDate(0, 0, 1), Time: rules.NewTimeOfDay(9, 30), Status: StatusScheduled},
	}

	slots := GenerateSlots(av, day, existing, rules.DefaultConfig(), genNow)
	require.Len(t, slots, 16)

	byTime := make(map[rules.TimeOfDay]bool, len(slots))
	for _, s := range slots {
		byTime[s.Time] = s.Available
	}
	assert.False(t, byTime[rules.NewTimeOfDay(10, 0)])
	assert.False(t, byTime[rules.NewTimeOfDay(14, 30)])
	assert.True(t, byTime[rules.NewTimeOfDay(11, 0)])
	assert.True(t, byTime[rules.NewTimeOfDay(12, 0)])
	assert.True(t, byTime[rules.NewTimeOfDay(9, 30)])
}

func TestGenerateSlotsEmptyCases(t *testing.T) {
	doctorID := uuid.New()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	cfg := rules.DefaultConfig()

	t.Run("nil availability", func(t *testing.T) {
		assert.Empty(t, GenerateSlots(nil, day, nil, cfg, genNow))
	})

	t.Run("doctor not taking appointments", func(t *testing.T) {
		av := weekdayAvailability(doctorID, rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0))
		av.Available = false
		assert.Empty(t, GenerateSlots(av, day, nil, cfg, genNow))
	})

	t.Run("doctor off that weekday", func(t *testing.T) {
		av := weekdayAvailability(doctorID, rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0))
		av.WorkDays[time.Monday] = false
		assert.Empty(t, GenerateSlots(av, day, nil, cfg, genNow))
	})

	t.Run("weekend date", func(t *testing.T) {
		av := weekdayAvailability(doctorID, rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0))
		saturday := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
		assert.Empty(t, GenerateSlots(av, saturday, nil, cfg, genNow))
	})

	t.Run("past date", func(t *testing.T) {
		av := weekdayAvailability(doctorID, rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0))
		past := time.Date(2025, 2, 24, 0, 0, 0, 0, time.UTC)
		assert.Empty(t, GenerateSlots(av, past, nil, cfg, genNow))
	})

	t.Run("holiday", func(t *testing.T) {
		av := weekdayAvailability(doctorID, rules.NewTimeOfDay(9, 0), rules.NewTimeOfDay(17, 0))
		holidayCfg := rules.DefaultConfig()
		holidayCfg.Holidays["2025-03-10"] = true
		assert.Empty(t, GenerateSlots(av, day, nil, holidayCfg, genNow))
	})
}

func TestGenerateSlotsDeterministic(t *testing.T) {
	doctorID := uuid.New()
	av := weekdayAvailability(doctorID, rules.NewTimeOfDay(8, 0), rules.NewTimeOfDay(12, 0))
	day := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	existing := []Appointment{
		{DoctorID: doctorID, Date: day, Time: rules.NewTimeOfDay(8, 30), Status: StatusScheduled},
	}

	first := GenerateSlots(av, day, existing, rules.DefaultConfig(), genNow)
	second := GenerateSlots(av, day, existing, rules.DefaultConfig(), genNow)
	assert.Equal(t, first, second)
}
