package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/parkmy/slot-reservation-backend/internal/config"
	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/services"
	"github.com/parkmy/slot-reservation-backend/pkg/clock"
	"github.com/sirupsen/logrus"
)

func main() {
	var dbURLFlag string
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.Parse()

	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatalf("Failed to apply schema: %v", err)
	}

	store := database.NewPostgresReservationStore(db)
	notifications := services.NewNotificationService(services.NewLogNotifier(logger), logger)
	slots := services.NewSlotService(store, notifications, clock.Real{}, logger)

	created, err := slots.ProvisionDefaultSlots(ctx)
	if err != nil {
		logger.Fatalf("Failed to provision slots: %v", err)
	}
	logger.WithField("created", created).Info("Default slot layout provisioned")
}
