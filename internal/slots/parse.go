// ABOUTME: Parsing of the date and clock strings supplied in tool arguments
// ABOUTME: Distinguishes bad dates from bad times so callers can report the right format

package slots

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidDate is returned when the date is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date format")
	// ErrInvalidTime is returned when the time is not a recognizable clock value.
	ErrInvalidTime = errors.New("invalid time format")
)

// DateLayout is the accepted date format.
const DateLayout = "2006-01-02"

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"}

// ParseSlot combines a YYYY-MM-DD date and an HH:MM clock into a wall-clock
// time in loc. The result is not normalized.
func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	offset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	return time.Date(day.Year(), day.Month(), day.Day(),
		int(offset/time.Hour), int(offset%time.Hour/time.Minute), int(offset%time.Minute/time.Second), 0, loc), nil
}

// ParseClock parses a clock value into an offset from midnight.
func ParseClock(clock string) (time.Duration, error) {
	clock = strings.ToUpper(strings.TrimSpace(clock))
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, clock)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTime, clock)
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(name string) (time.Weekday, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
