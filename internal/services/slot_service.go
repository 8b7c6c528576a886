package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/parkmy/slot-reservation-backend/pkg/clock"
	"github.com/sirupsen/logrus"
)

// SlotSection describes a block of slots provisioned together
type SlotSection struct {
	Prefix     string
	Count      int
	Category   models.SlotCategory
	HourlyRate float64
	Location   string
}

// DefaultSlotLayout is the layout provisioned on a fresh installation
var DefaultSlotLayout = []SlotSection{
	{Prefix: "A", Count: 20, Category: models.SlotCategoryStandard, HourlyRate: 5.00, Location: "Level 1"},
	{Prefix: "B", Count: 10, Category: models.SlotCategoryEV, HourlyRate: 8.00, Location: "Level 1"},
	{Prefix: "C", Count: 10, Category: models.SlotCategoryDisabled, HourlyRate: 4.00, Location: "Level 1"},
}

// SlotService handles slot administration
type SlotService struct {
	store         database.ReservationStore
	notifications *NotificationService
	clock         clock.Clock
	logger        *logrus.Logger
}

// NewSlotService creates a new SlotService
func NewSlotService(store database.ReservationStore, notifications *NotificationService, clk clock.Clock, logger *logrus.Logger) *SlotService {
	return &SlotService{
		store:         store,
		notifications: notifications,
		clock:         clk,
		logger:        logger,
	}
}

// CreateSlot provisions a new available slot
func (s *SlotService) CreateSlot(ctx context.Context, req *models.CreateSlotRequest) (*models.Slot, error) {
	if err := req.Validate(); err != nil {
		return nil, &BookingError{Kind: ErrValidation, Message: err.Error()}
	}

	now := s.clock.Now()
	slot := &models.Slot{
		ID:         uuid.New(),
		Number:     req.Number,
		Category:   req.Category,
		HourlyRate: models.RoundMoney(req.HourlyRate),
		Location:   req.Location,
		Status:     models.SlotStatusAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateSlot(ctx, slot); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, newBookingError(ErrConflict, "slot %s already exists", req.Number)
		}
		return nil, translateStoreError("create slot", err)
	}

	s.logger.WithFields(logrus.Fields{
		"slot_id": slot.ID,
		"number":  slot.Number,
	}).Info("Slot created")

	return slot, nil
}

// UpdateSlotStatus applies a manual status override. Occupancy is derived
// from bookings, so the result is recomputed right after the override: an
// occupied slot stays occupied.
func (s *SlotService) UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, status models.SlotStatus) (*models.Slot, error) {
	switch status {
	case models.SlotStatusAvailable, models.SlotStatusReserved:
	case models.SlotStatusOccupied:
		return nil, newBookingError(ErrValidation, "occupied is derived from active bookings and cannot be set manually")
	default:
		return nil, newBookingError(ErrValidation, "status must be one of available, reserved")
	}

	now := s.clock.Now()
	var updated *models.Slot
	var changed bool
	err := s.store.WithSlotLock(ctx, slotID, func(tx database.SlotTx) error {
		before, err := tx.GetSlot(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.SetSlotStatus(ctx, status, now); err != nil {
			return err
		}
		updated, _, err = tx.RefreshSlotStatus(ctx, now)
		if err != nil {
			return err
		}
		changed = updated.Status != before.Status
		return nil
	})
	if err != nil {
		return nil, translateStoreError("update slot status", err)
	}

	if changed && s.notifications != nil {
		s.notifications.PublishSlotStatus(*updated)
	}

	s.logger.WithFields(logrus.Fields{
		"slot_id":   slotID,
		"requested": status,
		"status":    updated.Status,
	}).Info("Slot status overridden")

	return updated, nil
}

// UpdateSlotRate changes a slot's hourly rate
func (s *SlotService) UpdateSlotRate(ctx context.Context, slotID uuid.UUID, rate float64) (*models.Slot, error) {
	if rate < 0 {
		return nil, newBookingError(ErrValidation, "hourly_rate cannot be negative")
	}

	slot, err := s.store.UpdateSlotRate(ctx, slotID, models.RoundMoney(rate), s.clock.Now())
	if err != nil {
		return nil, translateStoreError("update slot rate", err)
	}
	return slot, nil
}

// ProvisionDefaultSlots creates the slots of DefaultSlotLayout that do not
// exist yet and returns how many were created
func (s *SlotService) ProvisionDefaultSlots(ctx context.Context) (int, error) {
	existing, err := s.store.ListSlots(ctx, models.SlotFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list slots: %w", err)
	}
	numbers := make(map[string]bool, len(existing))
	for _, slot := range existing {
		numbers[slot.Number] = true
	}

	created := 0
	for _, section := range DefaultSlotLayout {
		for i := 1; i <= section.Count; i++ {
			number := fmt.Sprintf("%s%d", section.Prefix, i)
			if numbers[number] {
				continue
			}
			_, err := s.CreateSlot(ctx, &models.CreateSlotRequest{
				Number:     number,
				Category:   section.Category,
				HourlyRate: section.HourlyRate,
				Location:   section.Location,
			})
			if err != nil {
				return created, fmt.Errorf("failed to provision slot %s: %w", number, err)
			}
			created++
		}
	}

	if created > 0 {
		s.logger.WithField("created", created).Info("Default slots provisioned")
	}
	return created, nil
}
