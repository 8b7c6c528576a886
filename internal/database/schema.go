package database

import (
	"context"
	"database/sql"
	"fmt"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// schemaStatements create the reservation tables. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,

	`CREATE TABLE IF NOT EXISTS slots (
		id          UUID PRIMARY KEY,
		number      TEXT NOT NULL UNIQUE,
		category    TEXT NOT NULL CHECK (category IN ('standard', 'ev', 'disabled')),
		hourly_rate NUMERIC(10, 2) NOT NULL DEFAULT 0 CHECK (hourly_rate >= 0),
		location    TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'occupied', 'reserved')),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id                    UUID PRIMARY KEY,
		seq                   BIGSERIAL NOT NULL UNIQUE,
		user_id               UUID NOT NULL,
		slot_id               UUID NOT NULL REFERENCES slots(id),
		vehicle_id            TEXT NOT NULL,
		start_time            TIMESTAMPTZ NOT NULL,
		end_time              TIMESTAMPTZ NOT NULL,
		total_amount          NUMERIC(10, 2) NOT NULL CHECK (total_amount >= 0),
		status                TEXT NOT NULL CHECK (status IN ('waiting', 'allocated', 'upcoming', 'active', 'completed', 'cancelled')),
		payment_status        TEXT NOT NULL CHECK (payment_status IN ('pending', 'paid', 'refunded', 'partial_refund')),
		allocation_expires_at TIMESTAMPTZ,
		offer_window_start    TIMESTAMPTZ,
		offer_window_end      TIMESTAMPTZ,
		refund_amount         NUMERIC(10, 2),
		cancellation_reason   TEXT,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT bookings_time_order CHECK (end_time > start_time),
		CONSTRAINT bookings_no_confirmed_overlap EXCLUDE USING gist (
			slot_id WITH =,
			tstzrange(start_time, end_time, '[)') WITH &&
		) WHERE (status IN ('upcoming', 'active'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_bookings_slot_status_window ON bookings (slot_id, status, start_time, end_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_waiting_fifo ON bookings (slot_id, created_at, seq) WHERE status = 'waiting'`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status_start ON bookings (status, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status_end ON bookings (status, end_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_offer_expiry ON bookings (allocation_expires_at) WHERE status = 'allocated'`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user_created ON bookings (user_id, created_at DESC)`,
}

// Migrate creates the reservation schema if it does not exist
func Migrate(ctx context.Context, db execer) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
