package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/parkmy/slot-reservation-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// SlotHandler handles slot availability HTTP requests
type SlotHandler struct {
	bookings *services.BookingService
	logger   *logrus.Logger
}

// NewSlotHandler creates a new slot handler
func NewSlotHandler(bookings *services.BookingService, logger *logrus.Logger) *SlotHandler {
	return &SlotHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// ListSlots handles GET /api/v1/slots
// Query params: slot_id, start_time (RFC3339), duration (hours), status, category
func (h *SlotHandler) ListSlots(c *gin.Context) {
	query := services.AvailabilityQuery{
		Status:   models.SlotStatus(c.Query("status")),
		Category: models.SlotCategory(c.Query("category")),
	}

	if v := c.Query("slot_id"); v != "" {
		slotID, err := uuid.Parse(v)
		if err != nil {
			badRequest(c, "Invalid slot_id format")
			return
		}
		query.SlotID = &slotID
	}

	if v := c.Query("start_time"); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "start_time must be an RFC3339 timestamp")
			return
		}
		query.Start = &start
	}

	if v := c.Query("duration"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			badRequest(c, "duration must be a positive number of hours")
			return
		}
		query.DurationHours = hours
	}

	slots, err := h.bookings.ListAvailability(c.Request.Context(), query)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"slots": slots,
		"total": len(slots),
	})
}
