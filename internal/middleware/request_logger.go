package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parkmy/slot-reservation-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one structured line per request
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		device := utils.ParseUserAgent(utils.GetUserAgent(c))
		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       utils.GetRealIP(c),
			"device":   device.DeviceType,
			"platform": device.Platform,
		}
		if userCtx, ok := GetUserContext(c); ok {
			fields["user_id"] = userCtx.UserID
		}

		entry := logger.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		case device.IsBot:
			entry.Debug("bot request")
		default:
			entry.Info("request")
		}
	}
}
