package services

import (
	"context"
	"fmt"
	"time"

	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v4"
)

// DefaultOfferTTL is how long an allocation offer stays open
const DefaultOfferTTL = 5 * time.Minute

// AllocationEngine offers freed slot windows to the waitlist, oldest request first
type AllocationEngine struct {
	offerTTL time.Duration
	logger   *logrus.Logger
}

// NewAllocationEngine creates an AllocationEngine
func NewAllocationEngine(offerTTL time.Duration, logger *logrus.Logger) *AllocationEngine {
	if offerTTL <= 0 {
		offerTTL = DefaultOfferTTL
	}
	return &AllocationEngine{offerTTL: offerTTL, logger: logger}
}

// OfferTTL returns the confirmation window of an offer
func (e *AllocationEngine) OfferTTL() time.Duration {
	return e.offerTTL
}

// AttemptAllocate offers freed to the earliest-created waiting booking on the
// transaction's slot whose window fits entirely inside freed. It runs inside
// the caller's slot transaction and returns nil when there is no candidate.
// The caller notifies the owner once the transaction commits.
func (e *AllocationEngine) AttemptAllocate(ctx context.Context, tx database.SlotTx, freed models.Interval, now time.Time) (*models.Booking, error) {
	if !freed.Valid() {
		return nil, nil
	}

	candidate, err := tx.FindOldestWaiting(ctx, freed, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find waiting booking: %w", err)
	}
	if candidate == nil {
		return nil, nil
	}

	expires := null.TimeFrom(now.Add(e.offerTTL))
	windowStart := null.TimeFrom(freed.Start)
	windowEnd := null.TimeFrom(freed.End)

	allocated, err := tx.TransitionStatus(ctx, candidate.ID, models.BookingStatusWaiting, models.BookingStatusAllocated,
		models.BookingUpdate{
			AllocationExpiresAt: &expires,
			OfferWindowStart:    &windowStart,
			OfferWindowEnd:      &windowEnd,
			UpdatedAt:           now,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate booking %s: %w", candidate.ID, err)
	}

	e.logger.WithFields(logrus.Fields{
		"booking_id": allocated.ID,
		"slot_id":    allocated.SlotID,
		"expires_at": expires.Time,
	}).Info("Allocated freed window to waiting booking")

	return allocated, nil
}
