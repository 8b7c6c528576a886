package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/parkmy/slot-reservation-backend/internal/models"
)

const (
	slotColumns = `id, number, category, hourly_rate, location, status, created_at, updated_at`

	bookingColumns = `id, seq, user_id, slot_id, vehicle_id, start_time, end_time, total_amount,
		status, payment_status, allocation_expires_at, offer_window_start, offer_window_end,
		refund_amount, cancellation_reason, created_at, updated_at`

	defaultDueLimit = 500
)

// PostgresReservationStore persists reservations in PostgreSQL. Slot
// transactions take a transaction-scoped advisory lock keyed by slot id;
// the bookings_no_confirmed_overlap exclusion constraint backs it up.
type PostgresReservationStore struct {
	db *sqlx.DB
}

// NewPostgresReservationStore creates a new PostgresReservationStore
func NewPostgresReservationStore(db *PostgresDB) *PostgresReservationStore {
	return &PostgresReservationStore{db: db.DB}
}

// mapPgError translates driver errors into store sentinels
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01", "23505": // exclusion_violation, unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %s", ErrUnavailable, pgErr.Message)
		}
	}
	return err
}

// WithSlotLock runs fn in a transaction holding the slot's advisory lock
func (s *PostgresReservationStore) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(tx SlotTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPgError(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, slotID.String()); err != nil {
		return fmt.Errorf("failed to lock slot: %w", mapPgError(err))
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM slots WHERE id = $1)`, slotID); err != nil {
		return fmt.Errorf("failed to check slot: %w", mapPgError(err))
	}
	if !exists {
		return ErrNotFound
	}

	if err := fn(&postgresSlotTx{tx: tx, slotID: slotID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPgError(err))
	}
	return nil
}

// ============================================================================
// SLOT TRANSACTION
// ============================================================================

type postgresSlotTx struct {
	tx     *sqlx.Tx
	slotID uuid.UUID
}

func (t *postgresSlotTx) SlotID() uuid.UUID {
	return t.slotID
}

func (t *postgresSlotTx) GetSlot(ctx context.Context) (*models.Slot, error) {
	var slot models.Slot
	err := t.tx.GetContext(ctx, &slot, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, t.slotID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &slot, nil
}

func (t *postgresSlotTx) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := t.tx.GetContext(ctx, &b,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND slot_id = $2`, id, t.slotID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &b, nil
}

func (t *postgresSlotTx) CreateIfNoConflict(ctx context.Context, b *models.Booking, blocking []models.BookingStatus) error {
	var conflict bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE slot_id = $1
			  AND status = ANY($2)
			  AND start_time < $4
			  AND end_time > $3
		)`
	err := t.tx.GetContext(ctx, &conflict, query, t.slotID, pq.Array(statusStrings(blocking)), b.StartTime, b.EndTime)
	if err != nil {
		return fmt.Errorf("failed to check overlap: %w", mapPgError(err))
	}
	if conflict {
		return ErrConflict
	}
	return t.Insert(ctx, b)
}

func (t *postgresSlotTx) Insert(ctx context.Context, b *models.Booking) error {
	if b.SlotID != t.slotID {
		return fmt.Errorf("booking slot %s does not match locked slot %s", b.SlotID, t.slotID)
	}

	query := `
		INSERT INTO bookings (
			id, user_id, slot_id, vehicle_id, start_time, end_time, total_amount,
			status, payment_status, allocation_expires_at, offer_window_start, offer_window_end,
			refund_amount, cancellation_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING seq`

	err := t.tx.QueryRowxContext(ctx, query,
		b.ID, b.UserID, b.SlotID, b.VehicleID, b.StartTime, b.EndTime, b.TotalAmount,
		b.Status, b.PaymentStatus, b.AllocationExpiresAt, b.OfferWindowStart, b.OfferWindowEnd,
		b.RefundAmount, b.CancellationReason, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", mapPgError(err))
	}
	return nil
}

func (t *postgresSlotTx) TransitionStatus(ctx context.Context, id uuid.UUID, expected, next models.BookingStatus, upd models.BookingUpdate) (*models.Booking, error) {
	current, err := t.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != expected {
		return nil, ErrStaleState
	}

	updated := current.Clone()
	updated.Status = next
	upd.Apply(updated)

	query := `
		UPDATE bookings
		SET status = $3,
		    end_time = $4,
		    total_amount = $5,
		    payment_status = $6,
		    allocation_expires_at = $7,
		    offer_window_start = $8,
		    offer_window_end = $9,
		    refund_amount = $10,
		    cancellation_reason = $11,
		    updated_at = $12
		WHERE id = $1 AND status = $2`

	result, err := t.tx.ExecContext(ctx, query,
		id, expected, updated.Status,
		updated.EndTime, updated.TotalAmount, updated.PaymentStatus,
		updated.AllocationExpiresAt, updated.OfferWindowStart, updated.OfferWindowEnd,
		updated.RefundAmount, updated.CancellationReason, updated.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to transition booking: %w", mapPgError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrStaleState
	}
	return updated, nil
}

func (t *postgresSlotTx) FindOverlapping(ctx context.Context, window models.Interval, statuses []models.BookingStatus) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE slot_id = $1
		  AND status = ANY($2)
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time`

	var bookings []models.Booking
	err := t.tx.SelectContext(ctx, &bookings, query, t.slotID, pq.Array(statusStrings(statuses)), window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", mapPgError(err))
	}
	return bookings, nil
}

func (t *postgresSlotTx) FindOldestWaiting(ctx context.Context, window models.Interval, startsAfter time.Time) (*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings w
		WHERE w.slot_id = $1
		  AND w.status = 'waiting'
		  AND w.start_time > $2
		  AND w.start_time >= $3
		  AND w.end_time <= $4
		  AND NOT EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.slot_id = w.slot_id
			  AND b.id <> w.id
			  AND b.status = ANY($5)
			  AND b.start_time < w.end_time
			  AND b.end_time > w.start_time
		  )
		ORDER BY w.created_at, w.seq
		LIMIT 1`

	var b models.Booking
	err := t.tx.GetContext(ctx, &b, query,
		t.slotID, startsAfter, window.Start, window.End, pq.Array(statusStrings(models.BlockingStatuses)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find waiting booking: %w", mapPgError(err))
	}
	return &b, nil
}

func (t *postgresSlotTx) RefreshSlotStatus(ctx context.Context, now time.Time) (*models.Slot, bool, error) {
	var occupied bool
	err := t.tx.GetContext(ctx, &occupied, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE slot_id = $1 AND status = 'active' AND end_time > $2
		)`, t.slotID, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check occupancy: %w", mapPgError(err))
	}

	slot, err := t.GetSlot(ctx)
	if err != nil {
		return nil, false, err
	}

	next := models.SlotStatusAvailable
	switch {
	case occupied:
		next = models.SlotStatusOccupied
	case slot.Status == models.SlotStatusReserved:
		next = models.SlotStatusReserved
	}
	if next == slot.Status {
		return slot, false, nil
	}

	updated, err := t.SetSlotStatus(ctx, next, now)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func (t *postgresSlotTx) SetSlotStatus(ctx context.Context, status models.SlotStatus, now time.Time) (*models.Slot, error) {
	var slot models.Slot
	err := t.tx.GetContext(ctx, &slot,
		`UPDATE slots SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+slotColumns,
		t.slotID, status, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update slot status: %w", mapPgError(err))
	}
	return &slot, nil
}

// ============================================================================
// READS & SLOT ADMINISTRATION
// ============================================================================

// GetSlot returns a slot by id
func (s *PostgresReservationStore) GetSlot(ctx context.Context, id uuid.UUID) (*models.Slot, error) {
	var slot models.Slot
	if err := s.db.GetContext(ctx, &slot, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id); err != nil {
		return nil, mapPgError(err)
	}
	return &slot, nil
}

// ListSlots returns slots ordered by number
func (s *PostgresReservationStore) ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.Slot, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.SlotID != nil {
		args = append(args, *filter.SlotID)
		conditions = append(conditions, fmt.Sprintf("id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}

	query := `SELECT ` + slotColumns + ` FROM slots`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY number`

	slots := []models.Slot{}
	if err := s.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", mapPgError(err))
	}
	return slots, nil
}

// CreateSlot inserts a slot; a duplicate number is a conflict
func (s *PostgresReservationStore) CreateSlot(ctx context.Context, slot *models.Slot) error {
	query := `
		INSERT INTO slots (id, number, category, hourly_rate, location, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		slot.ID, slot.Number, slot.Category, slot.HourlyRate, slot.Location, slot.Status,
		slot.CreatedAt, slot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", mapPgError(err))
	}
	return nil
}

// UpdateSlotRate changes a slot's hourly rate
func (s *PostgresReservationStore) UpdateSlotRate(ctx context.Context, id uuid.UUID, rate float64, now time.Time) (*models.Slot, error) {
	var slot models.Slot
	err := s.db.GetContext(ctx, &slot,
		`UPDATE slots SET hourly_rate = $2, updated_at = $3 WHERE id = $1 RETURNING `+slotColumns,
		id, rate, now)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &slot, nil
}

// GetBooking returns a booking by id
func (s *PostgresReservationStore) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id); err != nil {
		return nil, mapPgError(err)
	}
	return &b, nil
}

// ListBookings returns bookings newest first
func (s *PostgresReservationStore) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.SlotID != nil {
		args = append(args, *filter.SlotID)
		conditions = append(conditions, fmt.Sprintf("slot_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, seq DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	bookings := []models.Booking{}
	if err := s.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", mapPgError(err))
	}
	return bookings, nil
}

// FindConfirmedOverlapping lists upcoming/active bookings overlapping window
func (s *PostgresReservationStore) FindConfirmedOverlapping(ctx context.Context, window models.Interval, slotID *uuid.UUID) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = ANY($1)
		  AND start_time < $3
		  AND end_time > $2`
	args := []interface{}{pq.Array(statusStrings(models.ConfirmedStatuses)), window.Start, window.End}
	if slotID != nil {
		args = append(args, *slotID)
		query += ` AND slot_id = $4`
	}

	var bookings []models.Booking
	if err := s.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find confirmed bookings: %w", mapPgError(err))
	}
	return bookings, nil
}

// FindDue lists bookings in status whose field is at or before cutoff, oldest first
func (s *PostgresReservationStore) FindDue(ctx context.Context, status models.BookingStatus, field DueField, cutoff time.Time, limit int) ([]models.Booking, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unknown due field: %s", field)
	}
	if limit <= 0 {
		limit = defaultDueLimit
	}

	// field is whitelisted above
	query := fmt.Sprintf(`
		SELECT %s
		FROM bookings
		WHERE status = $1 AND %s <= $2
		ORDER BY %s, seq
		LIMIT $3`, bookingColumns, field, field)

	var bookings []models.Booking
	if err := s.db.SelectContext(ctx, &bookings, query, status, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to find due bookings: %w", mapPgError(err))
	}
	return bookings, nil
}

// FindStartingBetween lists bookings in status with start in (from, to]
func (s *PostgresReservationStore) FindStartingBetween(ctx context.Context, status models.BookingStatus, from, to time.Time) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND start_time > $2 AND start_time <= $3
		ORDER BY start_time`

	var bookings []models.Booking
	if err := s.db.SelectContext(ctx, &bookings, query, status, from, to); err != nil {
		return nil, fmt.Errorf("failed to find starting bookings: %w", mapPgError(err))
	}
	return bookings, nil
}

// Ping checks database connectivity
func (s *PostgresReservationStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
