package services

import (
	"time"

	"github.com/parkmy/slot-reservation-backend/internal/models"
)

// RefundPolicy decides how much of a booking's amount is returned on cancellation
type RefundPolicy struct {
	// WaitlistFraction applies to withdrawn or expired waiting bookings and expired offers
	WaitlistFraction float64

	// EarlyCancelFraction applies to confirmed bookings cancelled at least EarlyCancelNotice before start
	EarlyCancelFraction float64
	EarlyCancelNotice   time.Duration
}

// DefaultRefundPolicy is the policy used by the booking engine
var DefaultRefundPolicy = RefundPolicy{
	WaitlistFraction:    0.8,
	EarlyCancelFraction: 0.5,
	EarlyCancelNotice:   2 * time.Hour,
}

// Compute returns the refund fraction for cancelling b at now and the resulting payment status
func (p RefundPolicy) Compute(b *models.Booking, now time.Time) (float64, models.PaymentStatus) {
	var fraction float64

	switch b.Status {
	case models.BookingStatusWaiting, models.BookingStatusAllocated:
		fraction = p.WaitlistFraction
	case models.BookingStatusUpcoming, models.BookingStatusActive:
		if now.Before(b.StartTime) && b.StartTime.Sub(now) >= p.EarlyCancelNotice {
			fraction = p.EarlyCancelFraction
		}
	}

	return fraction, paymentStatusFor(b.PaymentStatus, fraction)
}

// ComputeRefund applies DefaultRefundPolicy
func ComputeRefund(b *models.Booking, now time.Time) (float64, models.PaymentStatus) {
	return DefaultRefundPolicy.Compute(b, now)
}

// RefundAmount returns the refunded amount rounded to cents
func RefundAmount(total, fraction float64) float64 {
	return models.RoundMoney(total * fraction)
}

func paymentStatusFor(current models.PaymentStatus, fraction float64) models.PaymentStatus {
	switch {
	case fraction >= 1:
		return models.PaymentStatusRefunded
	case fraction > 0:
		return models.PaymentStatusPartialRefund
	default:
		return current
	}
}
