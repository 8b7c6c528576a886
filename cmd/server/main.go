package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parkmy/slot-reservation-backend/internal/config"
	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/handlers"
	"github.com/parkmy/slot-reservation-backend/internal/services"
	"github.com/parkmy/slot-reservation-backend/pkg/clock"
	"github.com/parkmy/slot-reservation-backend/pkg/jwt"
	"github.com/parkmy/slot-reservation-backend/pkg/mq"
	"github.com/parkmy/slot-reservation-backend/pkg/obs"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting ParkMy Slot Reservation Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	if cfg.Tracing.Enabled {
		shutdownTracer, err := obs.InitTracer(rootCtx, obs.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version,
			Environment: cfg.Server.Environment,
			Endpoint:    cfg.Tracing.Endpoint,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(ctx); err != nil {
				logger.WithError(err).Warn("Tracer shutdown failed")
			}
		}()
		logger.WithField("endpoint", cfg.Tracing.Endpoint).Info("✓ OpenTelemetry tracing enabled")
	}

	// Reservation store
	store, closeStore := openStore(rootCtx, cfg, logger)
	defer closeStore()

	// Notifications: always logged, published to RabbitMQ when configured
	notifier := services.MultiNotifier{services.NewLogNotifier(logger)}
	if cfg.Broker.URL != "" {
		publisher, err := mq.NewPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			logger.Fatalf("Failed to connect to message broker: %v", err)
		}
		defer publisher.Close()
		notifier = append(notifier, services.NewBrokerNotifier(publisher, clock.Real{}.Now))
		logger.WithField("exchange", cfg.Broker.Exchange).Info("✓ Publishing booking events to RabbitMQ")
	}

	slotFeed := handlers.NewSlotFeedHub(logger)
	go slotFeed.Run(rootCtx)

	// Initialize services
	logger.Info("Initializing services...")
	clk := clock.Real{}
	notifications := services.NewNotificationService(notifier, logger, slotFeed)
	engine := services.NewAllocationEngine(cfg.Booking.OfferTTL, logger)
	policy := services.BookingPolicyFromConfig(cfg.Booking)
	bookingService := services.NewBookingService(store, engine, notifications, clk, policy, logger)
	slotService := services.NewSlotService(store, notifications, clk, logger)
	reconciliation := services.NewReconciliationService(
		store,
		engine,
		notifications,
		policy.Refunds,
		cfg.Scheduler.BatchSize,
		cfg.Booking.ReminderLead,
		logger,
	)
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	if cfg.Booking.SeedDefaultSlots {
		created, err := slotService.ProvisionDefaultSlots(rootCtx)
		if err != nil {
			logger.Fatalf("Failed to provision default slots: %v", err)
		}
		logger.WithField("created", created).Info("✓ Default slot layout provisioned")
	}

	// Initialize and start cron service
	cronService := services.NewCronService(reconciliation, clk, cfg.Scheduler, logger)
	if cfg.Scheduler.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Warn("Scheduler disabled, reconciliation only runs on demand")
	}

	if cfg.Admin.APIKeyHash == "" {
		logger.Warn("ADMIN_API_KEY_HASH is not set, admin routes will reject every request")
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Config:   cfg,
		Version:  version,
		Store:    store,
		JWT:      jwtService,
		Bookings: handlers.NewBookingHandler(bookingService, logger),
		Slots:    handlers.NewSlotHandler(bookingService, logger),
		Admin:    handlers.NewAdminHandler(bookingService, slotService, cronService, logger),
		SlotFeed: slotFeed,
		Logger:   logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if cfg.Scheduler.Enabled {
		cronService.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Close feed clients and drain pending notifications
	stop()
	notifications.Wait()

	logger.Info("Server exited successfully")
}

// openStore opens the configured reservation store and returns its closer
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (database.ReservationStore, func()) {
	if cfg.Database.Driver == config.StoreDriverMemory {
		logger.Warn("Using in-memory reservation store, data is lost on restart")
		return database.NewMemoryReservationStore(), func() {}
	}

	logger.Info("Connecting to database...")
	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			logger.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("✓ Database schema up to date")
	}

	return database.NewPostgresReservationStore(db), func() { db.Close() }
}
