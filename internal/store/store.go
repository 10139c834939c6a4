// ABOUTME: Store interfaces and data types for clinic-gateway persistence
// ABOUTME: Defines Booking, BookingStatus and the sentinel errors callers match on

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrSlotTaken is returned when a non-cancelled booking already holds the slot
var ErrSlotTaken = errors.New("this time slot is already booked")

// ErrInvalidBooking is returned when a booking fails field validation
var ErrInvalidBooking = errors.New("invalid booking")

// Field limits for bookings.
const (
	MaxPatientNameLen = 100
	MaxPhoneLen       = 20
	MaxReasonLen      = 500
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "Pending"
	StatusConfirmed BookingStatus = "Confirmed"
	StatusCancelled BookingStatus = "Cancelled"
	StatusCompleted BookingStatus = "Completed"
	StatusNoShow    BookingStatus = "NoShow"
)

var allStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow}

// ParseBookingStatus matches a status name case-insensitively.
func ParseBookingStatus(s string) (BookingStatus, error) {
	for _, status := range allStatuses {
		if strings.EqualFold(string(status), strings.TrimSpace(s)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidBooking, s)
}

// Booking is an appointment held by a patient. SlotAt is always UTC.
type Booking struct {
	ID          int64
	PatientName string
	Phone       string
	SlotAt      time.Time
	Status      BookingStatus
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks required fields and length limits.
func (b *Booking) Validate() error {
	switch {
	case strings.TrimSpace(b.PatientName) == "":
		return fmt.Errorf("%w: patient name is required", ErrInvalidBooking)
	case len(b.PatientName) > MaxPatientNameLen:
		return fmt.Errorf("%w: patient name exceeds %d characters", ErrInvalidBooking, MaxPatientNameLen)
	case strings.TrimSpace(b.Phone) == "":
		return fmt.Errorf("%w: phone number is required", ErrInvalidBooking)
	case len(b.Phone) > MaxPhoneLen:
		return fmt.Errorf("%w: phone number exceeds %d characters", ErrInvalidBooking, MaxPhoneLen)
	case len(b.Reason) > MaxReasonLen:
		return fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidBooking, MaxReasonLen)
	case b.SlotAt.IsZero():
		return fmt.Errorf("%w: slot time is required", ErrInvalidBooking)
	}
	return nil
}

// BookingStore persists appointment bookings.
type BookingStore interface {
	// ListBookings returns every booking ordered by slot time.
	ListBookings(ctx context.Context) ([]*Booking, error)
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	// CreateBooking inserts a booking and returns it with ID and timestamps
	// filled in. Returns ErrSlotTaken if a non-cancelled booking holds the slot.
	CreateBooking(ctx context.Context, b *Booking) (*Booking, error)
	// CancelBooking marks a booking cancelled. Returns ErrNotFound for unknown ids.
	CancelBooking(ctx context.Context, id int64) error
	UpdateBookingStatus(ctx context.Context, id int64, status BookingStatus) (*Booking, error)
	// IsSlotTaken reports whether a non-cancelled booking holds the UTC instant.
	IsSlotTaken(ctx context.Context, at time.Time) (bool, error)
}

// ConversationStore maps external user ids to remote conversation handles.
type ConversationStore interface {
	LookupConversation(ctx context.Context, userID string) (string, bool, error)
	// SaveConversation records the handle unless one already exists and
	// returns whichever handle is stored afterwards.
	SaveConversation(ctx context.Context, userID, conversationID string) (string, error)
}

// Store combines every persistence concern of the gateway.
type Store interface {
	BookingStore
	ConversationStore
	Ping(ctx context.Context) error
	Close() error
}
