// ABOUTME: Availability check composing normalization, business rules and store lookup
// ABOUTME: Business-rule failures are results; only lookup failures are errors

package slots

import (
	"context"
	"fmt"
	"time"
)

// SlotLookup reports whether a non-cancelled booking holds the given UTC instant.
type SlotLookup interface {
	IsSlotTaken(ctx context.Context, at time.Time) (bool, error)
}

// Availability is the outcome of an availability check. The JSON shape is
// what the assistant receives as the tool output.
type Availability struct {
	Available  bool      `json:"isAvailable"`
	Message    string    `json:"message"`
	Requested  time.Time `json:"requestedDateTime"`
	Normalized time.Time `json:"normalizedDateTime"`
}

// Checker answers availability questions against a booking lookup.
type Checker struct {
	rules  Rules
	lookup SlotLookup
}

// NewChecker creates a Checker for the given rules.
func NewChecker(rules Rules, lookup SlotLookup) *Checker {
	return &Checker{rules: rules, lookup: lookup}
}

// Rules returns the schedule the checker enforces.
func (c *Checker) Rules() Rules {
	return c.rules
}

// CheckAvailability normalizes t, validates it and, if the rules pass,
// asks the lookup whether the slot is already taken. The pre-check is
// advisory: the store's uniqueness constraint decides at write time.
func (c *Checker) CheckAvailability(ctx context.Context, t, now time.Time) (*Availability, error) {
	slot := Normalize(t)
	result := &Availability{Requested: t, Normalized: slot}

	if rejection := c.rules.Validate(slot, now); rejection != nil {
		result.Message = rejection.Message
		return result, nil
	}

	taken, err := c.lookup.IsSlotTaken(ctx, c.rules.ToUTC(slot))
	if err != nil {
		return nil, fmt.Errorf("checking slot: %w", err)
	}

	label := Describe(slot)
	if taken {
		result.Message = fmt.Sprintf("Sorry, the time slot %s is already booked.", label)
		return result, nil
	}

	result.Available = true
	result.Message = fmt.Sprintf("Great! The time slot %s is available for booking.", label)
	return result, nil
}

// Describe renders a slot as "09:00 AM on August 11, 2025".
func Describe(t time.Time) string {
	return t.Format(ClockLayout) + " on " + t.Format(DayLayout)
}
