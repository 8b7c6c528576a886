package database

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/parkmy/slot-reservation-backend/internal/config"
	"github.com/sirupsen/logrus"
)

// poolerPort is where transaction-mode poolers (PgBouncer, Supavisor) listen
const poolerPort = 6543

// PostgresDB is the sqlx handle shared by the Postgres store, migrations and
// the maintenance commands
type PostgresDB struct {
	*sqlx.DB
}

// redactURL hides the password of a connection URL for logging
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "<redacted>"
	}
	return u.Redacted()
}

// Connect opens a pgx-backed sqlx pool sized from cfg and pings it
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	pgxConfig, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	fields := logrus.Fields{"url": redactURL(cfg.URL)}
	if pgxConfig.Port == poolerPort {
		// Prepared statements are lost between pooled transactions
		pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		fields["exec_mode"] = "simple_protocol"
	}
	logger.WithFields(fields).Info("Opening database pool")

	db := sqlx.NewDb(stdlib.OpenDB(*pgxConfig), "pgx")
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}
