package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/middleware"
	"github.com/parkmy/slot-reservation-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorMapping struct {
	kind   error
	status int
	name   string
	code   string
}

var errorMappings = []errorMapping{
	{services.ErrValidation, http.StatusBadRequest, "validation_error", "VALIDATION_ERROR"},
	{services.ErrInvalidTime, http.StatusBadRequest, "invalid_time", "INVALID_TIME"},
	{services.ErrNotFound, http.StatusNotFound, "not_found", "NOT_FOUND"},
	{services.ErrConflict, http.StatusConflict, "conflict", "CONFLICT"},
	{services.ErrNoConflictExists, http.StatusConflict, "no_conflict", "NO_CONFLICT_EXISTS"},
	{services.ErrInvalidState, http.StatusConflict, "invalid_state", "INVALID_STATE"},
	{services.ErrExpired, http.StatusGone, "allocation_expired", "ALLOCATION_EXPIRED"},
	{services.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable", "STORE_UNAVAILABLE"},
}

// respondError writes the response for a service error. Store faults are
// logged and surfaced without their cause.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var bookingErr *services.BookingError
	message := err.Error()
	if errors.As(err, &bookingErr) {
		message = bookingErr.Message
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.kind) {
			continue
		}
		if m.status >= http.StatusInternalServerError {
			logger.WithError(err).WithField("path", c.FullPath()).Error("Reservation store failure")
		}
		c.JSON(m.status, ErrorResponse{Error: m.name, Message: message, Code: m.code})
		return
	}

	logger.WithError(err).WithField("path", c.FullPath()).Error("Unhandled service error")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An unexpected error occurred",
		Code:    "INTERNAL_ERROR",
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Message: message,
		Code:    "VALIDATION_ERROR",
	})
}

// pathID parses the :id route parameter
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid ID format",
			Code:    "INVALID_ID",
		})
		return uuid.Nil, false
	}
	return id, true
}

// currentUser returns the authenticated user id
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "User context not found",
		})
		return uuid.Nil, false
	}
	return userCtx.UserID, true
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pagination reads limit and offset query parameters
func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit = defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
