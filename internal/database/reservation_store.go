package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/models"
)

var (
	// ErrNotFound is returned when a slot or booking does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write would break slot exclusivity or a unique key
	ErrConflict = errors.New("conflicting reservation exists")

	// ErrStaleState is returned when a compare-and-swap transition finds a different status
	ErrStaleState = errors.New("booking status changed concurrently")

	// ErrUnavailable is returned for transient store failures (serialization, deadlock)
	ErrUnavailable = errors.New("reservation store unavailable")
)

// DueField names the timestamp a reconciliation query compares against
type DueField string

const (
	DueByStart            DueField = "start_time"
	DueByEnd              DueField = "end_time"
	DueByAllocationExpiry DueField = "allocation_expires_at"
)

// Valid reports whether f is a known column
func (f DueField) Valid() bool {
	switch f {
	case DueByStart, DueByEnd, DueByAllocationExpiry:
		return true
	}
	return false
}

// SlotTx is a unit of work scoped to one slot. All reads see the
// transaction's own writes, and nothing is visible to others until commit.
type SlotTx interface {
	// SlotID returns the locked slot
	SlotID() uuid.UUID

	// GetSlot returns the locked slot
	GetSlot(ctx context.Context) (*models.Slot, error)

	// GetBooking returns a booking on the locked slot
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)

	// CreateIfNoConflict inserts b unless a booking in one of the blocking
	// statuses overlaps its window, in which case ErrConflict is returned
	CreateIfNoConflict(ctx context.Context, b *models.Booking, blocking []models.BookingStatus) error

	// Insert inserts b without an overlap check
	Insert(ctx context.Context, b *models.Booking) error

	// TransitionStatus moves a booking from expected to next and applies upd.
	// ErrStaleState is returned when the current status is not expected.
	TransitionStatus(ctx context.Context, id uuid.UUID, expected, next models.BookingStatus, upd models.BookingUpdate) (*models.Booking, error)

	// FindOverlapping lists bookings in the given statuses overlapping window
	FindOverlapping(ctx context.Context, window models.Interval, statuses []models.BookingStatus) ([]models.Booking, error)

	// FindOldestWaiting returns the earliest-created waiting booking that fits
	// inside window, starts after startsAfter and overlaps no blocking booking.
	// Returns nil, nil when there is no candidate.
	FindOldestWaiting(ctx context.Context, window models.Interval, startsAfter time.Time) (*models.Booking, error)

	// RefreshSlotStatus recomputes the cached slot status from active bookings.
	// A manual reserved hold is kept while the slot is not occupied.
	RefreshSlotStatus(ctx context.Context, now time.Time) (*models.Slot, bool, error)

	// SetSlotStatus writes the cached slot status directly
	SetSlotStatus(ctx context.Context, status models.SlotStatus, now time.Time) (*models.Slot, error)
}

// ReservationStore is the persistence boundary of the booking engine
type ReservationStore interface {
	// WithSlotLock runs fn as one transaction holding the slot's lock.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(tx SlotTx) error) error

	GetSlot(ctx context.Context, id uuid.UUID) (*models.Slot, error)
	ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.Slot, error)
	CreateSlot(ctx context.Context, slot *models.Slot) error
	UpdateSlotRate(ctx context.Context, id uuid.UUID, rate float64, now time.Time) (*models.Slot, error)

	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)

	// ListBookings returns bookings newest first
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)

	// FindConfirmedOverlapping lists upcoming/active bookings overlapping window,
	// optionally restricted to one slot
	FindConfirmedOverlapping(ctx context.Context, window models.Interval, slotID *uuid.UUID) ([]models.Booking, error)

	// FindDue lists bookings in status whose field is at or before cutoff, oldest first
	FindDue(ctx context.Context, status models.BookingStatus, field DueField, cutoff time.Time, limit int) ([]models.Booking, error)

	// FindStartingBetween lists bookings in status with start in (from, to]
	FindStartingBetween(ctx context.Context, status models.BookingStatus, from, to time.Time) ([]models.Booking, error)

	Ping(ctx context.Context) error
}

func statusStrings(statuses []models.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func containsStatus(statuses []models.BookingStatus, s models.BookingStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
