package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/parkmy/slot-reservation-backend/internal/config"
	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/middleware"
	"github.com/parkmy/slot-reservation-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
)

// RouterDeps holds everything the HTTP surface needs
type RouterDeps struct {
	Config   *config.Config
	Version  string
	Store    database.ReservationStore
	JWT      *jwt.Service
	Bookings *BookingHandler
	Slots    *SlotHandler
	Admin    *AdminHandler
	SlotFeed *SlotFeedHub
	Logger   *logrus.Logger
}

// NewRouter builds the gin engine with all routes registered
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !allowsAnyOrigin(cfg.CORS.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", HealthCheckHandler(deps.Store, deps.Version))

	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(deps.JWT, deps.Logger))

		bookings := protected.Group("/bookings")
		{
			bookings.POST("", deps.Bookings.CreateBooking)
			bookings.GET("", deps.Bookings.ListBookings)
			bookings.GET("/:id", deps.Bookings.GetBooking)
			bookings.POST("/:id/cancel", deps.Bookings.CancelBooking)
			bookings.POST("/:id/extend", deps.Bookings.ExtendBooking)
		}

		waitlist := protected.Group("/waitlist")
		{
			waitlist.POST("", deps.Bookings.JoinWaitlist)
			waitlist.POST("/:id/withdraw", deps.Bookings.WithdrawWaitlist)
			waitlist.POST("/:id/confirm", deps.Bookings.ConfirmAllocation)
		}

		slots := protected.Group("/slots")
		{
			slots.GET("", deps.Slots.ListSlots)
			if deps.SlotFeed != nil {
				slots.GET("/feed", deps.SlotFeed.ServeWS)
			}
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminKeyMiddleware(cfg.Admin.APIKeyHash, deps.Logger))
		{
			admin.GET("/bookings", deps.Admin.ListBookings)
			admin.POST("/slots", deps.Admin.CreateSlot)
			admin.PUT("/slots/:id/status", deps.Admin.UpdateSlotStatus)
			admin.PUT("/slots/:id/rate", deps.Admin.UpdateSlotRate)
			admin.POST("/reconcile/run", deps.Admin.RunReconcile)
			admin.GET("/cron/status", deps.Admin.GetCronStatus)
		}
	}

	return router
}

// Browsers refuse credentialed responses carrying a wildcard origin
func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
