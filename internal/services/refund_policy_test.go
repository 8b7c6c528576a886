package services

import (
	"testing"
	"time"

	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestComputeRefund(t *testing.T) {
	now := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

	booking := func(status models.BookingStatus, startIn time.Duration) *models.Booking {
		return &models.Booking{
			Status:        status,
			PaymentStatus: models.PaymentStatusPaid,
			StartTime:     now.Add(startIn),
			EndTime:       now.Add(startIn + 2*time.Hour),
			TotalAmount:   10,
		}
	}

	tests := []struct {
		name           string
		booking        *models.Booking
		expectFraction float64
		expectAmount   float64
		expectPayment  models.PaymentStatus
	}{
		{"waiting withdrawal", booking(models.BookingStatusWaiting, 3*time.Hour), 0.8, 8, models.PaymentStatusPartialRefund},
		{"expired offer", booking(models.BookingStatusAllocated, time.Hour), 0.8, 8, models.PaymentStatusPartialRefund},
		{"upcoming three hours ahead", booking(models.BookingStatusUpcoming, 3*time.Hour), 0.5, 5, models.PaymentStatusPartialRefund},
		{"upcoming exactly two hours ahead", booking(models.BookingStatusUpcoming, 2*time.Hour), 0.5, 5, models.PaymentStatusPartialRefund},
		{"upcoming one hour ahead", booking(models.BookingStatusUpcoming, time.Hour), 0, 0, models.PaymentStatusPaid},
		{"active after start", booking(models.BookingStatusActive, -30*time.Minute), 0, 0, models.PaymentStatusPaid},
		{"active at start", booking(models.BookingStatusActive, 0), 0, 0, models.PaymentStatusPaid},
		{"completed", booking(models.BookingStatusCompleted, -3*time.Hour), 0, 0, models.PaymentStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fraction, payment := ComputeRefund(tt.booking, now)
			assert.Equal(t, tt.expectFraction, fraction)
			assert.Equal(t, tt.expectPayment, payment)
			assert.Equal(t, tt.expectAmount, RefundAmount(tt.booking.TotalAmount, fraction))
		})
	}
}

func TestPaymentStatusForFullRefund(t *testing.T) {
	policy := RefundPolicy{WaitlistFraction: 1}
	fraction, payment := policy.Compute(&models.Booking{
		Status:        models.BookingStatusWaiting,
		PaymentStatus: models.PaymentStatusPaid,
	}, time.Now())

	assert.Equal(t, 1.0, fraction)
	assert.Equal(t, models.PaymentStatusRefunded, payment)
}

func TestRefundAmountRoundsToCents(t *testing.T) {
	assert.Equal(t, 2.66, RefundAmount(3.33, 0.8))
	assert.Equal(t, 6.17, RefundAmount(12.34, 0.5))
}
