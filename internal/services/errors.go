package services

import (
	"errors"
	"fmt"

	"github.com/parkmy/slot-reservation-backend/internal/database"
)

// Error kinds returned by the booking engine. Match with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidTime      = errors.New("invalid booking time")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("slot is already booked for the selected time range")
	ErrNoConflictExists = errors.New("slot is free for the selected time range")
	ErrInvalidState     = errors.New("booking status does not permit this operation")
	ErrExpired          = errors.New("allocation offer has expired")
	ErrStoreUnavailable = errors.New("reservation store unavailable")
)

// BookingError carries an error kind, a caller-facing message and the
// underlying cause, if any
type BookingError struct {
	Kind    error
	Message string
	Err     error
}

func (e *BookingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *BookingError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newBookingError(kind error, format string, args ...interface{}) *BookingError {
	return &BookingError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// translateStoreError maps store sentinels to error kinds. Errors that are
// already BookingErrors pass through unchanged.
func translateStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	var bookingErr *BookingError
	if errors.As(err, &bookingErr) {
		return bookingErr
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		return &BookingError{Kind: ErrNotFound, Message: "booking or slot not found"}
	case errors.Is(err, database.ErrConflict):
		return &BookingError{Kind: ErrConflict, Message: ErrConflict.Error()}
	case errors.Is(err, database.ErrStaleState):
		return &BookingError{Kind: ErrInvalidState, Message: "booking was modified concurrently, reload and retry", Err: err}
	default:
		return &BookingError{Kind: ErrStoreUnavailable, Message: fmt.Sprintf("failed to %s", op), Err: err}
	}
}
