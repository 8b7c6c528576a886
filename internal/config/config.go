package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Reconciliation and reminder schedule
	Scheduler SchedulerConfig

	// Booking time bounds and offer window
	Booking BookingConfig

	// RabbitMQ notification publishing
	Broker BrokerConfig

	// Admin API configuration
	Admin AdminConfig

	// OpenTelemetry tracing
	Tracing TracingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"` // development, staging, production
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`          // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver             string        `envconfig:"STORE_DRIVER" default:"postgres"` // postgres or memory
	URL                string        `envconfig:"DATABASE_URL"`
	MaxConnections     int           `envconfig:"DATABASE_MAX_CONNECTIONS" default:"10"`
	MaxIdleConnections int           `envconfig:"DATABASE_MAX_IDLE_CONNECTIONS" default:"5"`
	ConnMaxLifetime    time.Duration `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"5m"`
	AutoMigrate        bool          `envconfig:"DATABASE_AUTO_MIGRATE" default:"true"`
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string        `envconfig:"JWT_SECRET"`
	AccessTokenExpiry time.Duration `envconfig:"JWT_ACCESS_TOKEN_EXPIRY" default:"1h"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	AllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Content-Type,Authorization,X-Admin-Key"`
}

// SchedulerConfig holds cron specs (with seconds field) for background jobs
type SchedulerConfig struct {
	Enabled       bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	ReconcileSpec string `envconfig:"RECONCILE_SCHEDULE" default:"0 * * * * *"` // every minute
	ReminderSpec  string `envconfig:"REMINDER_SCHEDULE" default:"30 * * * * *"` // every minute, offset 30s
	BatchSize     int    `envconfig:"RECONCILE_BATCH_SIZE" default:"200"`
}

// BookingConfig holds booking time bounds
type BookingConfig struct {
	PastGrace        time.Duration `envconfig:"BOOKING_PAST_GRACE" default:"5m"`
	MaxAdvance       time.Duration `envconfig:"BOOKING_MAX_ADVANCE" default:"720h"` // 30 days
	ActivationLead   time.Duration `envconfig:"BOOKING_ACTIVATION_LEAD" default:"1m"`
	OfferTTL         time.Duration `envconfig:"ALLOCATION_OFFER_TTL" default:"5m"`
	ReminderLead     time.Duration `envconfig:"BOOKING_REMINDER_LEAD" default:"30m"`
	SeedDefaultSlots bool          `envconfig:"SEED_DEFAULT_SLOTS" default:"false"`
}

// BrokerConfig holds RabbitMQ settings; an empty URL disables publishing
type BrokerConfig struct {
	URL      string `envconfig:"AMQP_URL"`
	Exchange string `envconfig:"AMQP_EXCHANGE" default:"parkmy.notifications"`
}

// AdminConfig holds the bcrypt hash of the admin API key
type AdminConfig struct {
	APIKeyHash string `envconfig:"ADMIN_API_KEY_HASH"`
}

// TracingConfig holds OTLP exporter settings
type TracingConfig struct {
	Enabled     bool   `envconfig:"OTEL_ENABLED" default:"false"`
	Endpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"parkmy-reservations"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{}
	sections := []interface{}{
		&config.Server,
		&config.Database,
		&config.JWT,
		&config.CORS,
		&config.Scheduler,
		&config.Booking,
		&config.Broker,
		&config.Admin,
		&config.Tracing,
	}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %s (must be 'postgres' or 'memory')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.OfferTTL <= 0 {
		return fmt.Errorf("ALLOCATION_OFFER_TTL must be positive")
	}

	if c.Booking.MaxAdvance <= c.Booking.PastGrace {
		return fmt.Errorf("BOOKING_MAX_ADVANCE must exceed BOOKING_PAST_GRACE")
	}

	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("RECONCILE_BATCH_SIZE must be positive")
	}

	return nil
}
