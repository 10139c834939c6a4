// ABOUTME: Tests for slot normalization, business-rule validation and UTC conversion
// ABOUTME: Covers the documented message texts and rule ordering

package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clinicZone = time.FixedZone("clinic", 2*60*60)

func testRules() Rules {
	r := DefaultRules()
	r.Location = clinicZone
	return r
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, clinicZone)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"on the hour", at(2025, 8, 11, 9, 0), at(2025, 8, 11, 9, 0)},
		{"ten past floors to hour", at(2025, 8, 11, 9, 10), at(2025, 8, 11, 9, 0)},
		{"half past stays", at(2025, 8, 11, 9, 30), at(2025, 8, 11, 9, 30)},
		{"59 floors to half", at(2025, 8, 11, 9, 59), at(2025, 8, 11, 9, 30)},
		{"seconds dropped", time.Date(2025, 8, 11, 14, 31, 45, 999, clinicZone), at(2025, 8, 11, 14, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.Equal(t, clinicZone, got.Location())
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	base := at(2025, 8, 11, 0, 0)
	for m := 0; m < 24*60; m += 7 {
		in := base.Add(time.Duration(m)*time.Minute + time.Duration(m%60)*time.Second)
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
		assert.Zero(t, once.Minute()%30)
		assert.Zero(t, once.Second())
		assert.Zero(t, once.Nanosecond())
		assert.False(t, once.After(in))
	}
}

func TestValidateAcceptsOpeningHours(t *testing.T) {
	rules := testRules()
	now := at(2025, 8, 1, 8, 0)

	// Monday 2025-08-11 through Saturday 2025-08-16
	for day := 11; day <= 16; day++ {
		for _, clock := range [][2]int{{9, 0}, {9, 10}, {12, 30}, {16, 30}, {16, 59}} {
			slot := at(2025, 8, day, clock[0], clock[1])
			assert.Nil(t, rules.Validate(slot, now), "expected %s to be accepted", slot)
		}
	}
}

func TestValidateRejectsSundayAtAnyTime(t *testing.T) {
	rules := testRules()
	now := at(2025, 8, 1, 8, 0)

	for hour := 0; hour < 24; hour++ {
		rejection := rules.Validate(at(2025, 8, 10, hour, 0), now)
		require.NotNil(t, rejection)
		assert.Equal(t, RejectClosedDay, rejection.Kind)
	}
}

func TestValidateMessages(t *testing.T) {
	rules := testRules()
	now := at(2025, 8, 11, 12, 0)

	tests := []struct {
		name string
		slot time.Time
		kind RejectionKind
		msg  string
	}{
		{
			name: "past",
			slot: at(2025, 8, 11, 9, 10),
			kind: RejectPast,
			msg:  "The time slot 09:00 AM on August 11, 2025 is in the past. Please choose a future time.",
		},
		{
			name: "sunday",
			slot: at(2025, 8, 17, 10, 0),
			kind: RejectClosedDay,
			msg:  "The clinic is closed on Sunday. Please choose Monday–Saturday within 09:00–17:00.",
		},
		{
			name: "after last start",
			slot: at(2025, 8, 12, 17, 5),
			kind: RejectHours,
			msg:  "Please choose a time between 09:00 and 17:00 (last start 16:30), Monday–Saturday.",
		},
		{
			name: "before opening",
			slot: at(2025, 8, 12, 8, 59),
			kind: RejectHours,
			msg:  "Please choose a time between 09:00 and 17:00 (last start 16:30), Monday–Saturday.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejection := rules.Validate(tt.slot, now)
			require.NotNil(t, rejection)
			assert.Equal(t, tt.kind, rejection.Kind)
			assert.Equal(t, tt.msg, rejection.Message)
			assert.Equal(t, tt.msg, rejection.Error())
		})
	}
}

func TestValidateReportsFirstFailingRule(t *testing.T) {
	rules := testRules()
	now := at(2025, 8, 20, 12, 0)

	// Past, Sunday and before opening all at once.
	rejection := rules.Validate(at(2025, 8, 17, 7, 0), now)
	require.NotNil(t, rejection)
	assert.Equal(t, RejectPast, rejection.Kind)

	// Sunday and out of hours, in the future.
	rejection = rules.Validate(at(2025, 8, 24, 20, 0), now)
	require.NotNil(t, rejection)
	assert.Equal(t, RejectClosedDay, rejection.Kind)
}

func TestValidateUsesNormalizedTimeForPastCheck(t *testing.T) {
	rules := testRules()
	now := at(2025, 8, 11, 9, 5)

	// 09:20 floors to 09:00 which is before now.
	rejection := rules.Validate(at(2025, 8, 11, 9, 20), now)
	require.NotNil(t, rejection)
	assert.Equal(t, RejectPast, rejection.Kind)
}

func TestOpenDaysLabel(t *testing.T) {
	rules := testRules()
	assert.Equal(t, "Monday–Saturday", rules.openDaysLabel())

	rules.ClosedDays = []time.Weekday{time.Saturday, time.Sunday}
	assert.Equal(t, "Monday–Friday", rules.openDaysLabel())

	rules.ClosedDays = []time.Weekday{time.Wednesday}
	assert.Equal(t, "Monday, Tuesday, Thursday, Friday, Saturday, Sunday", rules.openDaysLabel())

	rules.ClosedDays = nil
	assert.Equal(t, "Monday–Sunday", rules.openDaysLabel())
}

func TestToUTC(t *testing.T) {
	rules := testRules()

	got := rules.ToUTC(at(2025, 8, 11, 9, 0))
	assert.Equal(t, time.Date(2025, 8, 11, 7, 0, 0, 0, time.UTC), got)

	utc := time.Date(2025, 8, 11, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, utc, rules.ToUTC(utc))
}

func TestToUTCTreatsForeignZoneAsClinicWallClock(t *testing.T) {
	rules := testRules()
	other := time.Date(2025, 8, 11, 9, 0, 0, 0, time.FixedZone("other", -5*60*60))

	assert.Equal(t, time.Date(2025, 8, 11, 7, 0, 0, 0, time.UTC), rules.ToUTC(other))
}
