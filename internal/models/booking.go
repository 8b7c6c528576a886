package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"
)

// ============================================================================
// BOOKING STATUSES (matches DB ENUMs)
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusWaiting   BookingStatus = "waiting"   // Queued behind a conflicting booking
	BookingStatusAllocated BookingStatus = "allocated" // Offered a freed window, awaiting confirmation
	BookingStatusUpcoming  BookingStatus = "upcoming"  // Confirmed, not started
	BookingStatusActive    BookingStatus = "active"    // Confirmed, in progress
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Valid reports whether s is a known booking status
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusWaiting, BookingStatusAllocated, BookingStatusUpcoming,
		BookingStatusActive, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// IsConfirmed reports whether the status holds the slot exclusively
func (s BookingStatus) IsConfirmed() bool {
	return s == BookingStatusUpcoming || s == BookingStatusActive
}

// ConfirmedStatuses hold a slot exclusively
var ConfirmedStatuses = []BookingStatus{BookingStatusUpcoming, BookingStatusActive}

// CreateConflictStatuses are checked when a booking is created or queued.
// Every booking that is not cancelled counts, so a newcomer cannot take a
// window a waitlisted request is queued for.
var CreateConflictStatuses = []BookingStatus{
	BookingStatusWaiting, BookingStatusAllocated, BookingStatusUpcoming,
	BookingStatusActive, BookingStatusCompleted,
}

// BlockingStatuses prevent an extension from taking an overlapping window.
// An allocation offer blocks the freed window until it is confirmed or expires.
var BlockingStatuses = []BookingStatus{BookingStatusUpcoming, BookingStatusActive, BookingStatusAllocated}

// PaymentStatus represents the payment state of a booking
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusPartialRefund PaymentStatus = "partial_refund"
)

// Cancellation reasons recorded by the system
const (
	ReasonUserCancelled     = "Cancelled by user"
	ReasonWaitlistWithdrawn = "Withdrawn from waitlist"
	ReasonAllocationExpired = "Allocation offer expired (No response)"
	ReasonWaitlistUnserved  = "Slot not available by start time"
)

// ============================================================================
// BOOKING
// ============================================================================

// Booking is a reservation of a slot for a time window by a user/vehicle pair
type Booking struct {
	ID                  uuid.UUID     `db:"id" json:"id"`
	UserID              uuid.UUID     `db:"user_id" json:"user_id"`
	SlotID              uuid.UUID     `db:"slot_id" json:"slot_id"`
	VehicleID           string        `db:"vehicle_id" json:"vehicle_id"`
	StartTime           time.Time     `db:"start_time" json:"start_time"`
	EndTime             time.Time     `db:"end_time" json:"end_time"`
	TotalAmount         float64       `db:"total_amount" json:"total_amount"`
	Status              BookingStatus `db:"status" json:"status"`
	PaymentStatus       PaymentStatus `db:"payment_status" json:"payment_status"`
	AllocationExpiresAt null.Time     `db:"allocation_expires_at" json:"allocation_expires_at"`
	OfferWindowStart    null.Time     `db:"offer_window_start" json:"-"`
	OfferWindowEnd      null.Time     `db:"offer_window_end" json:"-"`
	RefundAmount        null.Float    `db:"refund_amount" json:"refund_amount"`
	CancellationReason  null.String   `db:"cancellation_reason" json:"cancellation_reason"`
	Seq                 int64         `db:"seq" json:"-"` // Insertion order, FIFO tie-breaker
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// Interval returns the booking's [start, end) window
func (b *Booking) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// OfferWindow returns the freed window an allocation offer was made from
func (b *Booking) OfferWindow() (Interval, bool) {
	if !b.OfferWindowStart.Valid || !b.OfferWindowEnd.Valid {
		return Interval{}, false
	}
	return Interval{Start: b.OfferWindowStart.Time, End: b.OfferWindowEnd.Time}, true
}

// OccupiesAt reports whether the booking holds the slot at t. An active
// booking occupies the slot from creation until its end passes.
func (b *Booking) OccupiesAt(t time.Time) bool {
	return b.Status == BookingStatusActive && t.Before(b.EndTime)
}

// Clone returns a copy safe to mutate
func (b *Booking) Clone() *Booking {
	c := *b
	return &c
}

// BookingUpdate carries the fields changed alongside a status transition
type BookingUpdate struct {
	EndTime             *time.Time
	TotalAmount         *float64
	PaymentStatus       *PaymentStatus
	AllocationExpiresAt *null.Time
	OfferWindowStart    *null.Time
	OfferWindowEnd      *null.Time
	RefundAmount        *null.Float
	CancellationReason  *null.String
	UpdatedAt           time.Time
}

// Apply writes the update onto b
func (u BookingUpdate) Apply(b *Booking) {
	if u.EndTime != nil {
		b.EndTime = *u.EndTime
	}
	if u.TotalAmount != nil {
		b.TotalAmount = *u.TotalAmount
	}
	if u.PaymentStatus != nil {
		b.PaymentStatus = *u.PaymentStatus
	}
	if u.AllocationExpiresAt != nil {
		b.AllocationExpiresAt = *u.AllocationExpiresAt
	}
	if u.OfferWindowStart != nil {
		b.OfferWindowStart = *u.OfferWindowStart
	}
	if u.OfferWindowEnd != nil {
		b.OfferWindowEnd = *u.OfferWindowEnd
	}
	if u.RefundAmount != nil {
		b.RefundAmount = *u.RefundAmount
	}
	if u.CancellationReason != nil {
		b.CancellationReason = *u.CancellationReason
	}
	if !u.UpdatedAt.IsZero() {
		b.UpdatedAt = u.UpdatedAt
	}
}

// BookingFilter narrows admin booking listings
type BookingFilter struct {
	UserID *uuid.UUID
	SlotID *uuid.UUID
	Status BookingStatus
	Limit  int
	Offset int
}

// HoursToDuration converts fractional hours to a duration, rounded to the second
func HoursToDuration(hours float64) time.Duration {
	return time.Duration(math.Round(hours*3600)) * time.Second
}

// RoundMoney rounds an amount to cents
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// CreateBookingRequest is the body for creating a booking or joining a waitlist
type CreateBookingRequest struct {
	SlotID        uuid.UUID `json:"slot_id" binding:"required"`
	VehicleID     string    `json:"vehicle_id" binding:"required"`
	StartTime     time.Time `json:"start_time" binding:"required"`
	DurationHours float64   `json:"duration_hours" binding:"required"`
	TotalAmount   float64   `json:"total_amount"`
}

// Validate checks request fields that do not depend on the current time
func (r *CreateBookingRequest) Validate() error {
	if r.SlotID == uuid.Nil {
		return fmt.Errorf("slot_id is required")
	}
	if r.VehicleID == "" {
		return fmt.Errorf("vehicle_id is required")
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	if r.DurationHours <= 0 {
		return fmt.Errorf("duration_hours must be greater than zero")
	}
	if HoursToDuration(r.DurationHours) < time.Second {
		return fmt.Errorf("duration_hours is too small")
	}
	if r.TotalAmount < 0 {
		return fmt.Errorf("total_amount cannot be negative")
	}
	return nil
}

// ExtendBookingRequest is the body for extending an active booking
type ExtendBookingRequest struct {
	AdditionalHours  float64 `json:"additional_hours" binding:"required"`
	AdditionalAmount float64 `json:"additional_amount"`
}

// Validate checks the extension request
func (r *ExtendBookingRequest) Validate() error {
	if r.AdditionalHours <= 0 {
		return fmt.Errorf("additional_hours must be greater than zero")
	}
	if HoursToDuration(r.AdditionalHours) < time.Second {
		return fmt.Errorf("additional_hours is too small")
	}
	if r.AdditionalAmount < 0 {
		return fmt.Errorf("additional_amount cannot be negative")
	}
	return nil
}
