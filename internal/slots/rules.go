// ABOUTME: Clinic business rules for appointment slots: normalization and validation
// ABOUTME: Produces the user-visible rejection messages returned to the assistant

package slots

import (
	"fmt"
	"strings"
	"time"
)

// SlotLength is the granularity of bookable slots.
const SlotLength = 30 * time.Minute

// Display layouts used in user-visible messages.
const (
	ClockLayout = "03:04 PM"
	DayLayout   = "January 02, 2006"
)

// RejectionKind identifies which business rule rejected a slot.
type RejectionKind string

const (
	RejectPast      RejectionKind = "past"
	RejectClosedDay RejectionKind = "closed_day"
	RejectHours     RejectionKind = "outside_hours"
)

// Rejection describes a failed business rule.
type Rejection struct {
	Kind    RejectionKind
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// Rules holds the clinic's opening schedule. Offsets are measured from
// local midnight in Location.
type Rules struct {
	Location   *time.Location
	OpensAt    time.Duration
	LastStart  time.Duration
	ClosesAt   time.Duration
	ClosedDays []time.Weekday
}

// DefaultRules returns the standard schedule: Monday to Saturday, first
// start 09:00, last start 16:30, closing 17:00, in the host's local zone.
func DefaultRules() Rules {
	return Rules{
		Location:   time.Local,
		OpensAt:    9 * time.Hour,
		LastStart:  16*time.Hour + 30*time.Minute,
		ClosesAt:   17 * time.Hour,
		ClosedDays: []time.Weekday{time.Sunday},
	}
}

// Normalize floors t to the most recent slot boundary (:00 or :30),
// dropping seconds and sub-seconds. Date, hour and location are kept.
func Normalize(t time.Time) time.Time {
	minute := t.Minute() - t.Minute()%int(SlotLength/time.Minute)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

// Validate checks a slot against the past, closed-day and opening-hour
// rules in that order. Every rule is evaluated; the first failure is
// returned. A nil result means the slot is acceptable.
func (r Rules) Validate(t, now time.Time) *Rejection {
	slot := Normalize(t)

	var failures []*Rejection
	if slot.Before(now) {
		failures = append(failures, &Rejection{
			Kind: RejectPast,
			Message: fmt.Sprintf("The time slot %s on %s is in the past. Please choose a future time.",
				slot.Format(ClockLayout), slot.Format(DayLayout)),
		})
	}
	if r.isClosed(slot.Weekday()) {
		failures = append(failures, &Rejection{
			Kind: RejectClosedDay,
			Message: fmt.Sprintf("The clinic is closed on %s. Please choose %s within %s–%s.",
				slot.Weekday(), r.openDaysLabel(), formatOffset(r.OpensAt), formatOffset(r.ClosesAt)),
		})
	}
	if tod := timeOfDay(slot); tod < r.OpensAt || tod > r.LastStart {
		failures = append(failures, &Rejection{
			Kind: RejectHours,
			Message: fmt.Sprintf("Please choose a time between %s and %s (last start %s), %s.",
				formatOffset(r.OpensAt), formatOffset(r.ClosesAt), formatOffset(r.LastStart), r.openDaysLabel()),
		})
	}

	if len(failures) == 0 {
		return nil
	}
	return failures[0]
}

// ToUTC converts a clinic wall-clock time into the UTC instant the store
// indexes by. Times already in UTC pass through unchanged.
func (r Rules) ToUTC(t time.Time) time.Time {
	if t.Location() == time.UTC {
		return t
	}
	return r.wallClock(t).UTC()
}

// wallClock reinterprets t's date and clock fields in the clinic location.
func (r Rules) wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), r.location())
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

func (r Rules) isClosed(day time.Weekday) bool {
	for _, d := range r.ClosedDays {
		if d == day {
			return true
		}
	}
	return false
}

// openDaysLabel renders the open days in Monday-first order, collapsing a
// contiguous run into "First–Last".
func (r Rules) openDaysLabel() string {
	var open []int
	for i := 0; i < 7; i++ {
		if !r.isClosed(mondayFirst(i)) {
			open = append(open, i)
		}
	}

	switch {
	case len(open) == 0:
		return "no days"
	case len(open) == 1:
		return mondayFirst(open[0]).String()
	case open[len(open)-1]-open[0]+1 == len(open):
		return fmt.Sprintf("%s–%s", mondayFirst(open[0]), mondayFirst(open[len(open)-1]))
	}

	names := make([]string, len(open))
	for i, idx := range open {
		names[i] = mondayFirst(idx).String()
	}
	return strings.Join(names, ", ")
}

// mondayFirst maps 0..6 onto Monday..Sunday.
func mondayFirst(i int) time.Weekday {
	return time.Weekday((i + 1) % 7)
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
