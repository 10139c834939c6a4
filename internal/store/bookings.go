// ABOUTME: Booking persistence on SQLite: create, list, cancel, status updates and slot lookups
// ABOUTME: Slot uniqueness is enforced by a partial unique index and surfaced as ErrSlotTaken

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const bookingColumns = `id, patient_name, phone_number, slot_at, status, reason_for_visit, created_at, updated_at`

// CreateBooking inserts a new booking. The slot is stored as a UTC instant
// truncated to the second; an empty status defaults to Pending.
func (s *SQLiteStore) CreateBooking(ctx context.Context, b *Booking) (*Booking, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	created := *b
	created.SlotAt = b.SlotAt.UTC().Truncate(time.Second)
	if created.Status == "" {
		created.Status = StatusPending
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (patient_name, phone_number, slot_at, status, reason_for_visit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		created.PatientName,
		created.Phone,
		formatTime(created.SlotAt),
		string(created.Status),
		created.Reason,
		formatTime(created.CreatedAt),
		formatTime(created.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("inserting booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading booking id: %w", err)
	}
	created.ID = id

	s.logger.Debug("created booking", "id", id, "slot", created.SlotAt)
	return &created, nil
}

// GetBooking retrieves a booking by ID.
// Returns ErrNotFound if the booking doesn't exist.
func (s *SQLiteStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return b, nil
}

// ListBookings returns all bookings ordered by slot, then id.
func (s *SQLiteStore) ListBookings(ctx context.Context) ([]*Booking, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY slot_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bookings: %w", err)
	}
	return bookings, nil
}

// CancelBooking marks a booking cancelled, freeing its slot.
// Cancelling an already cancelled booking succeeds.
func (s *SQLiteStore) CancelBooking(ctx context.Context, id int64) error {
	_, err := s.UpdateBookingStatus(ctx, id, StatusCancelled)
	return err
}

// UpdateBookingStatus changes a booking's status. Moving a cancelled booking
// back to an active status fails with ErrSlotTaken if the slot was re-booked.
func (s *SQLiteStore) UpdateBookingStatus(ctx context.Context, id int64, status BookingStatus) (*Booking, error) {
	if _, err := ParseBookingStatus(string(status)); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(s.now()), id,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("updating booking status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("updated booking status", "id", id, "status", status)
	return s.GetBooking(ctx, id)
}

// IsSlotTaken reports whether a non-cancelled booking holds the instant.
func (s *SQLiteStore) IsSlotTaken(ctx context.Context, at time.Time) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bookings WHERE slot_at = ? AND status != ?)`,
		formatTime(at.Truncate(time.Second)), string(StatusCancelled),
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("checking slot: %w", err)
	}
	return taken, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var (
		b                        Booking
		status                   string
		slotAt, created, updated string
	)
	if err := row.Scan(&b.ID, &b.PatientName, &b.Phone, &slotAt, &status, &b.Reason, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if b.SlotAt, err = parseTime(slotAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	b.Status = BookingStatus(status)
	return &b, nil
}
