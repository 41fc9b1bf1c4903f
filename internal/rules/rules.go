// Package rules holds the pure calendar constraints a proposed booking
// must satisfy. The checks take only primitive inputs plus a Config, do
// no I/O, and are shared by the slot generator and the booking service.
package rules

import (
	"fmt"
	"time"
)

// ViolationKind identifies which calendar rule rejected a booking.
type ViolationKind string

const (
	PastDate             ViolationKind = "past_date"
	WeekendDate          ViolationKind = "weekend_date"
	TooFarFuture         ViolationKind = "too_far_future"
	OutsideBusinessHours ViolationKind = "outside_business_hours"
	InvalidTimeSlot      ViolationKind = "invalid_time_slot"
	InsufficientNotice   ViolationKind = "insufficient_notice"
	HolidayDate          ViolationKind = "holiday_date"
)

// Violation is a single calendar-rule failure. It is always caused by
// caller input, never by infrastructure.
type Violation struct {
	Kind    ViolationKind
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

const dateFormat = "2006-01-02"

// Config carries the clinic-wide scheduling policy. All knobs are
// injected; the defaults mirror the standing clinic policy but are not
// authoritative business constants.
type Config struct {
	Weekdays       map[time.Weekday]bool
	DayStart       TimeOfDay // earliest bookable time, inclusive
	DayEnd         TimeOfDay // latest bookable time, inclusive
	SlotMinutes    int       // slot granularity, must divide 60
	MaxAdvanceDays int
	CreateNotice   time.Duration // minimum notice for new bookings
	EditNotice     time.Duration // minimum notice for reschedules
	Holidays       map[string]bool // keys formatted as 2006-01-02
}

// DefaultConfig returns the standing policy: Mon-Fri, 08:00-18:00,
// 30-minute slots, bookable up to 180 days out, 24h notice for edits.
func DefaultConfig() Config {
	return Config{
		Weekdays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		DayStart:       NewTimeOfDay(8, 0),
		DayEnd:         NewTimeOfDay(18, 0),
		SlotMinutes:    30,
		MaxAdvanceDays: 180,
		CreateNotice:   0,
		EditNotice:     24 * time.Hour,
		Holidays:       map[string]bool{},
	}
}

// Validate runs every rule against the proposed (date, t) pair in the
// fixed evaluation order and returns the first violation, or nil when
// the pair is bookable. minNotice is the notice requirement for this
// call site (CreateNotice for new bookings, EditNotice for moves).
func (c Config) Validate(date time.Time, t TimeOfDay, now time.Time, minNotice time.Duration) *Violation {
	if v := c.checkDay(date, now); v != nil {
		return v
	}
	if t < c.DayStart || t > c.DayEnd {
		return &Violation{
			Kind:    OutsideBusinessHours,
			Message: fmt.Sprintf("time %s is outside business hours %s-%s", t, c.DayStart, c.DayEnd),
		}
	}
	if c.SlotMinutes > 0 && t.Minute()%c.SlotMinutes != 0 {
		return &Violation{
			Kind:    InvalidTimeSlot,
			Message: fmt.Sprintf("time %s is not aligned to the %d-minute slot grid", t, c.SlotMinutes),
		}
	}
	if minNotice > 0 && t.At(date).Sub(now) < minNotice {
		return &Violation{
			Kind:    InsufficientNotice,
			Message: fmt.Sprintf("booking requires at least %s advance notice", minNotice),
		}
	}
	if c.Holidays[date.Format(dateFormat)] {
		return &Violation{
			Kind:    HolidayDate,
			Message: fmt.Sprintf("%s is a clinic holiday", date.Format(dateFormat)),
		}
	}
	return nil
}

// ValidateDate runs only the date-level rules (past, weekday, advance
// window, holiday). The slot generator uses it to decide whether a day
// has any slots at all.
func (c Config) ValidateDate(date time.Time, now time.Time) *Violation {
	if v := c.checkDay(date, now); v != nil {
		return v
	}
	if c.Holidays[Day(date).Format(dateFormat)] {
		return &Violation{
			Kind:    HolidayDate,
			Message: fmt.Sprintf("%s is a clinic holiday", Day(date).Format(dateFormat)),
		}
	}
	return nil
}

func (c Config) checkDay(date time.Time, now time.Time) *Violation {
	day := Day(date)
	today := Day(now)

	if day.Before(today) {
		return &Violation{
			Kind:    PastDate,
			Message: fmt.Sprintf("date %s is in the past", day.Format(dateFormat)),
		}
	}
	if !c.Weekdays[day.Weekday()] {
		return &Violation{
			Kind:    WeekendDate,
			Message: fmt.Sprintf("%s falls on a %s, which is not a working day", day.Format(dateFormat), day.Weekday()),
		}
	}
	if c.MaxAdvanceDays > 0 && day.After(today.AddDate(0, 0, c.MaxAdvanceDays)) {
		return &Violation{
			Kind:    TooFarFuture,
			Message: fmt.Sprintf("date %s is more than %d days ahead", day.Format(dateFormat), c.MaxAdvanceDays),
		}
	}
	return nil
}
