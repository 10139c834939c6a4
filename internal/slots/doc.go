// Package slots implements the appointment slot rules: 30-minute
// normalization, clinic business-hour validation, UTC conversion for store
// lookups, and the availability check composed from them.
//
// All functions are pure except Checker.CheckAvailability, which consults a
// SlotLookup (normally the booking store). The caller always supplies "now"
// so rules can be exercised deterministically.
package slots
