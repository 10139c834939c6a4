// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping slot uniqueness semantics

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	bookings      map[int64]*Booking // keyed by booking ID
	conversations map[string]string  // keyed by user ID
	nextID        int64
	closed        bool

	// Err, when set, is returned by every method.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		bookings:      make(map[int64]*Booking),
		conversations: make(map[string]string),
	}
}

// CreateBooking stores a booking, rejecting a slot held by an active booking.
func (m *MockStore) CreateBooking(ctx context.Context, b *Booking) (*Booking, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	slot := b.SlotAt.UTC().Truncate(time.Second)
	if m.slotTakenLocked(slot, 0) {
		return nil, ErrSlotTaken
	}

	m.nextID++
	now := time.Now().UTC().Truncate(time.Second)

	// Make a copy to avoid external modification
	created := *b
	created.ID = m.nextID
	created.SlotAt = slot
	if created.Status == "" {
		created.Status = StatusPending
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	m.bookings[created.ID] = &created

	out := created
	return &out, nil
}

// GetBooking retrieves a booking by ID.
func (m *MockStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *b
	return &out, nil
}

// ListBookings returns all bookings ordered by slot, then id.
func (m *MockStore) ListBookings(ctx context.Context) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([]*Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SlotAt.Equal(out[j].SlotAt) {
			return out[i].SlotAt.Before(out[j].SlotAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CancelBooking marks a booking cancelled.
func (m *MockStore) CancelBooking(ctx context.Context, id int64) error {
	_, err := m.UpdateBookingStatus(ctx, id, StatusCancelled)
	return err
}

// UpdateBookingStatus changes a booking's status.
func (m *MockStore) UpdateBookingStatus(ctx context.Context, id int64, status BookingStatus) (*Booking, error) {
	if _, err := ParseBookingStatus(string(status)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if status != StatusCancelled && b.Status == StatusCancelled && m.slotTakenLocked(b.SlotAt, id) {
		return nil, ErrSlotTaken
	}

	b.Status = status
	b.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	out := *b
	return &out, nil
}

// IsSlotTaken reports whether an active booking holds the instant.
func (m *MockStore) IsSlotTaken(ctx context.Context, at time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.slotTakenLocked(at.UTC().Truncate(time.Second), 0), nil
}

func (m *MockStore) slotTakenLocked(at time.Time, except int64) bool {
	for id, b := range m.bookings {
		if id != except && b.Status != StatusCancelled && b.SlotAt.Equal(at) {
			return true
		}
	}
	return false
}

// LookupConversation returns the stored handle for userID.
func (m *MockStore) LookupConversation(ctx context.Context, userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return "", false, m.Err
	}
	id, ok := m.conversations[userID]
	return id, ok, nil
}

// SaveConversation stores the handle unless one exists and returns the stored handle.
func (m *MockStore) SaveConversation(ctx context.Context, userID, conversationID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if existing, ok := m.conversations[userID]; ok {
		return existing, nil
	}
	m.conversations[userID] = conversationID
	return conversationID, nil
}

// Ping always succeeds unless Err is set.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Err
}

// Close marks the store closed; data stays readable.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
