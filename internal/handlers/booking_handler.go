package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/parkmy/slot-reservation-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// BookingHandler handles booking and waitlist HTTP requests
type BookingHandler struct {
	bookings *services.BookingService
	logger   *logrus.Logger
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings *services.BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// CancelBookingRequest is the optional body of a cancellation
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// ============================================================================
// BOOKINGS
// ============================================================================

// CreateBooking handles POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Booking confirmed",
		"booking": booking,
	})
}

// ListBookings handles GET /api/v1/bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	bookings, err := h.bookings.ListUserBookings(c.Request.Context(), userID, models.BookingStatus(c.Query("status")), limit, offset)
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

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	// Body is optional
	var req CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	booking, err := h.bookings.CancelBooking(c.Request.Context(), userID, bookingID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Booking cancelled",
		"booking":       booking,
		"refund_amount": booking.RefundAmount,
	})
}

// ExtendBooking handles POST /api/v1/bookings/:id/extend
func (h *BookingHandler) ExtendBooking(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	var req models.ExtendBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	booking, err := h.bookings.ExtendBooking(c.Request.Context(), userID, bookingID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Booking extended",
		"booking": booking,
	})
}

// ============================================================================
// WAITLIST
// ============================================================================

// JoinWaitlist handles POST /api/v1/waitlist
func (h *BookingHandler) JoinWaitlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	booking, err := h.bookings.JoinWaitlist(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Added to waitlist",
		"booking": booking,
	})
}

// WithdrawWaitlist handles POST /api/v1/waitlist/:id/withdraw
func (h *BookingHandler) WithdrawWaitlist(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.WithdrawWaitlist(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Withdrawn from waitlist",
		"booking":       booking,
		"refund_amount": booking.RefundAmount,
	})
}

// ConfirmAllocation handles POST /api/v1/waitlist/:id/confirm
func (h *BookingHandler) ConfirmAllocation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.ConfirmAllocation(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Allocation confirmed",
		"booking": booking,
	})
}
