package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/parkmy/slot-reservation-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// AdminHandler handles operator HTTP requests
type AdminHandler struct {
	bookings *services.BookingService
	slots    *services.SlotService
	cron     *services.CronService
	logger   *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	bookings *services.BookingService,
	slots *services.SlotService,
	cron *services.CronService,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		bookings: bookings,
		slots:    slots,
		cron:     cron,
		logger:   logger,
	}
}

// ============================================================================
// BOOKINGS
// ============================================================================

// ListBookings handles GET /api/v1/admin/bookings
// Query params: status, slot_id, user_id, limit, offset
func (h *AdminHandler) ListBookings(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	filter := models.BookingFilter{
		Status: models.BookingStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if v := c.Query("slot_id"); v != "" {
		slotID, err := uuid.Parse(v)
		if err != nil {
			badRequest(c, "Invalid slot_id format")
			return
		}
		filter.SlotID = &slotID
	}
	if v := c.Query("user_id"); v != "" {
		userID, err := uuid.Parse(v)
		if err != nil {
			badRequest(c, "Invalid user_id format")
			return
		}
		filter.UserID = &userID
	}

	bookings, err := h.bookings.ListAllBookings(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"total":    len(bookings),
		"limit":    limit,
		"offset":   offset,
	})
}

// ============================================================================
// SLOTS
// ============================================================================

// CreateSlot handles POST /api/v1/admin/slots
func (h *AdminHandler) CreateSlot(c *gin.Context) {
	var req models.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	slot, err := h.slots.CreateSlot(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Slot created",
		"slot":    slot,
	})
}

// UpdateSlotStatus handles PUT /api/v1/admin/slots/:id/status
func (h *AdminHandler) UpdateSlotStatus(c *gin.Context) {
	slotID, ok := pathID(c)
	if !ok {
		return
	}

	var req models.UpdateSlotStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	slot, err := h.slots.UpdateSlotStatus(c.Request.Context(), slotID, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Slot status updated",
		"slot":    slot,
	})
}

// UpdateSlotRate handles PUT /api/v1/admin/slots/:id/rate
func (h *AdminHandler) UpdateSlotRate(c *gin.Context) {
	slotID, ok := pathID(c)
	if !ok {
		return
	}

	var req models.UpdateSlotRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	slot, err := h.slots.UpdateSlotRate(c.Request.Context(), slotID, req.HourlyRate)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Slot rate updated",
		"slot":    slot,
	})
}

// ============================================================================
// SCHEDULER
// ============================================================================

// RunReconcile handles POST /api/v1/admin/reconcile/run
func (h *AdminHandler) RunReconcile(c *gin.Context) {
	report, err := h.cron.RunReconcileNow(c.Request.Context())
	if err != nil {
		// Partial progress is still reported
		h.logger.WithError(err).Warn("Manual reconciliation finished with errors")
		c.JSON(http.StatusOK, gin.H{
			"message": "Reconciliation finished with errors",
			"report":  report,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Reconciliation finished",
		"report":  report,
	})
}

// GetCronStatus handles GET /api/v1/admin/cron/status
func (h *AdminHandler) GetCronStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cron.GetJobStatus())
}
