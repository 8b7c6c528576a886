package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// SLOT TYPES & STATUSES (matches DB ENUMs)
// ============================================================================

// SlotCategory represents the kind of parking space
type SlotCategory string

const (
	SlotCategoryStandard SlotCategory = "standard"
	SlotCategoryEV       SlotCategory = "ev"       // Charger-equipped
	SlotCategoryDisabled SlotCategory = "disabled" // Accessible parking
)

// Valid reports whether c is a known category
func (c SlotCategory) Valid() bool {
	switch c {
	case SlotCategoryStandard, SlotCategoryEV, SlotCategoryDisabled:
		return true
	}
	return false
}

// SlotStatus is a cache of present-moment occupancy; bookings are authoritative
type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusOccupied  SlotStatus = "occupied"
	SlotStatusReserved  SlotStatus = "reserved" // Manual admin hold
)

// Valid reports whether s is a known slot status
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotStatusAvailable, SlotStatusOccupied, SlotStatusReserved:
		return true
	}
	return false
}

// Slot represents a physical parking space
type Slot struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	Number     string       `db:"number" json:"number"`
	Category   SlotCategory `db:"category" json:"category"`
	HourlyRate float64      `db:"hourly_rate" json:"hourly_rate"`
	Location   string       `db:"location" json:"location"`
	Status     SlotStatus   `db:"status" json:"status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// SlotAvailability is a slot as seen for a requested window
type SlotAvailability struct {
	Slot
	OccupiedUntil *time.Time `json:"occupied_until,omitempty"`
}

// SlotFilter narrows slot listings
type SlotFilter struct {
	SlotID   *uuid.UUID
	Status   SlotStatus
	Category SlotCategory
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// CreateSlotRequest provisions a new slot
type CreateSlotRequest struct {
	Number     string       `json:"number" binding:"required"`
	Category   SlotCategory `json:"category" binding:"required"`
	HourlyRate float64      `json:"hourly_rate"`
	Location   string       `json:"location"`
}

// Validate checks the provisioning request
func (r *CreateSlotRequest) Validate() error {
	if r.Number == "" {
		return fmt.Errorf("number is required")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("category must be one of standard, ev, disabled")
	}
	if r.HourlyRate < 0 {
		return fmt.Errorf("hourly_rate cannot be negative")
	}
	return nil
}

// UpdateSlotStatusRequest overrides the cached slot status
type UpdateSlotStatusRequest struct {
	Status SlotStatus `json:"status" binding:"required"`
}

// UpdateSlotRateRequest changes a slot's hourly rate
type UpdateSlotRateRequest struct {
	HourlyRate float64 `json:"hourly_rate"`
}
