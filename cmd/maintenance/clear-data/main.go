package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/parkmy/slot-reservation-backend/internal/config"
	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/sirupsen/logrus"
)

func main() {
	databaseURL := flag.String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	keepSlots := flag.Bool("keep-slots", false, "only clear bookings, keep the slot inventory")
	flag.Parse()

	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *databaseURL == "" {
		*databaseURL = os.Getenv("DATABASE_URL")
	}
	if *databaseURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, config.DatabaseConfig{
		URL:                *databaseURL,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// bookings reference slots, so slots never go alone
	tables := []string{"bookings"}
	if !*keepSlots {
		tables = append(tables, "slots")
	}

	if _, err := db.ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" RESTART IDENTITY CASCADE"); err != nil {
		logger.Fatalf("Failed to truncate %v: %v", tables, err)
	}

	fields := logrus.Fields{}
	for _, table := range tables {
		var remaining int
		if err := db.GetContext(ctx, &remaining, "SELECT COUNT(*) FROM "+table); err != nil {
			logger.WithError(err).WithField("table", table).Warn("Could not count rows")
			continue
		}
		fields[table] = remaining
	}
	logger.WithFields(fields).Info("Reservation data cleared")
}
