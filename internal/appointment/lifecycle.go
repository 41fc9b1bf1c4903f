package appointment

import (
	"fmt"
	"strings"
	"time"
)

// Transition names, used in error reporting and the allowed-transition
// table.
const (
	TransitionConfirm    = "confirm"
	TransitionComplete   = "complete"
	TransitionCancel     = "cancel"
	TransitionNoShow     = "mark no-show"
	TransitionReschedule = "reschedule"
)

// allowedFrom is the full state machine: which source states permit
// each transition. Anything absent is forbidden; terminal states appear
// nowhere.
var allowedFrom = map[string]map[Status]bool{
	TransitionConfirm:    {StatusScheduled: true},
	TransitionComplete:   {StatusConfirmed: true},
	TransitionCancel:     {StatusScheduled: true, StatusConfirmed: true},
	TransitionNoShow:     {StatusScheduled: true, StatusConfirmed: true},
	TransitionReschedule: {StatusScheduled: true},
}

// targetStatus maps each status-changing transition to its destination.
// Reschedule keeps the appointment in Scheduled.
var targetStatus = map[string]Status{
	TransitionConfirm:    StatusConfirmed,
	TransitionComplete:   StatusCompleted,
	TransitionCancel:     StatusCancelled,
	TransitionNoShow:     StatusNoShow,
	TransitionReschedule: StatusScheduled,
}

// checkTransition validates that the appointment's current status
// permits the named transition.
func checkTransition(a *Appointment, name string) *InvalidTransitionError {
	if !allowedFrom[name][a.Status] {
		return &InvalidTransitionError{From: a.Status, Attempted: name}
	}
	return nil
}

// annotate appends a prefixed, timestamped entry to the appointment's
// notes audit trail. Notes are append-only: earlier entries are never
// rewritten.
func annotate(notes, prefix, text string, now time.Time) string {
	entry := fmt.Sprintf("[%s] %s", now.Format("2006-01-02 15:04"), prefix)
	if text != "" {
		entry += ": " + text
	}
	if notes == "" {
		return entry
	}
	return strings.TrimRight(notes, "\n") + "\n" + entry
}
