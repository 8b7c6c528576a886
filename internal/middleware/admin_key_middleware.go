package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parkmy/slot-reservation-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// AdminKeyHeader carries the operator API key
const AdminKeyHeader = "X-Admin-Key"

// AdminKeyMiddleware checks the X-Admin-Key header against the configured
// bcrypt hash. An empty hash rejects every request.
func AdminKeyMiddleware(keyHash string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(AdminKeyHeader)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-Admin-Key header is required",
				"code":    "MISSING_ADMIN_KEY",
			})
			c.Abort()
			return
		}

		if !utils.CheckAdminKey(keyHash, key) {
			logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   utils.GetRealIP(c),
			}).Warn("ADMIN AUTH FAILED: Invalid admin key")
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin key",
				"code":    "INVALID_ADMIN_KEY",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
