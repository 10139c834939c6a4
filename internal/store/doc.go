// Package store provides persistent storage for the clinic gateway using SQLite.
//
// # Architecture
//
// Two narrow interfaces are implemented by a single SQLiteStore:
//
//   - BookingStore: appointment bookings and slot lookups
//   - ConversationStore: the user id to remote conversation handle mapping
//
// MockStore implements the same interfaces in memory for tests.
//
// # Slot uniqueness
//
// A partial unique index on bookings(slot_at) covering every status except
// Cancelled makes double-booking impossible at write time. CreateBooking
// maps the violation to ErrSlotTaken. Availability checks made before the
// insert are advisory only.
//
// # SQLite Configuration
//
// The default driver is modernc.org/sqlite (pure Go, driver name "sqlite").
// The cgo driver github.com/mattn/go-sqlite3 is available as "sqlite3".
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Times are stored as RFC3339 text in UTC.
package store
