package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/config"
	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/parkmy/slot-reservation-backend/pkg/clock"
	"github.com/parkmy/slot-reservation-backend/pkg/validator"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/guregu/null.v4"
)

const tracerName = "github.com/parkmy/slot-reservation-backend/internal/services"

// BookingPolicy holds the time bounds applied to new bookings
type BookingPolicy struct {
	PastGrace      time.Duration // How far in the past a start may be (default 5 min)
	MaxAdvance     time.Duration // How far ahead a start may be (default 30 days)
	ActivationLead time.Duration // Starts within this lead are active immediately (default 1 min)
	Refunds        RefundPolicy
}

// DefaultBookingPolicy returns the default booking policy
func DefaultBookingPolicy() BookingPolicy {
	return BookingPolicy{
		PastGrace:      5 * time.Minute,
		MaxAdvance:     30 * 24 * time.Hour,
		ActivationLead: time.Minute,
		Refunds:        DefaultRefundPolicy,
	}
}

// BookingPolicyFromConfig builds a policy from configuration
func BookingPolicyFromConfig(cfg config.BookingConfig) BookingPolicy {
	policy := DefaultBookingPolicy()
	if cfg.PastGrace > 0 {
		policy.PastGrace = cfg.PastGrace
	}
	if cfg.MaxAdvance > 0 {
		policy.MaxAdvance = cfg.MaxAdvance
	}
	if cfg.ActivationLead >= 0 {
		policy.ActivationLead = cfg.ActivationLead
	}
	return policy
}

// AvailabilityQuery narrows ListAvailability. Start and DurationHours come as
// a pair; when set, slots are evaluated against [Start, Start+DurationHours)
// instead of the cached status.
type AvailabilityQuery struct {
	SlotID        *uuid.UUID
	Start         *time.Time
	DurationHours float64
	Status        models.SlotStatus
	Category      models.SlotCategory
}

// BookingService is the single entry point for user booking operations.
// Every operation runs as one transaction on the booking's slot.
type BookingService struct {
	store         database.ReservationStore
	engine        *AllocationEngine
	notifications *NotificationService
	clock         clock.Clock
	policy        BookingPolicy
	vehicles      *validator.VehicleValidator
	logger        *logrus.Logger
	tracer        trace.Tracer
}

// NewBookingService creates a new BookingService
func NewBookingService(
	store database.ReservationStore,
	engine *AllocationEngine,
	notifications *NotificationService,
	clk clock.Clock,
	policy BookingPolicy,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		store:         store,
		engine:        engine,
		notifications: notifications,
		clock:         clk,
		policy:        policy,
		vehicles:      validator.NewVehicleValidator(),
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
}

func (s *BookingService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "BookingService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// checkTimeBounds rejects starts too far in the past or the future
func (s *BookingService) checkTimeBounds(start, now time.Time) error {
	if start.Before(now.Add(-s.policy.PastGrace)) {
		return newBookingError(ErrInvalidTime, "start_time cannot be more than %s in the past", s.policy.PastGrace)
	}
	if start.After(now.Add(s.policy.MaxAdvance)) {
		return newBookingError(ErrInvalidTime, "start_time cannot be more than %s in the future", s.policy.MaxAdvance)
	}
	return nil
}

// newBooking validates req against now and builds the booking to insert
func (s *BookingService) newBooking(userID uuid.UUID, req *models.CreateBookingRequest, now time.Time) (*models.Booking, error) {
	if userID == uuid.Nil {
		return nil, newBookingError(ErrValidation, "user_id is required")
	}
	if err := req.Validate(); err != nil {
		return nil, &BookingError{Kind: ErrValidation, Message: err.Error()}
	}
	vehicleID, err := s.vehicles.Validate(req.VehicleID)
	if err != nil {
		return nil, &BookingError{Kind: ErrValidation, Message: err.Error()}
	}

	start := req.StartTime.UTC()
	if err := s.checkTimeBounds(start, now); err != nil {
		return nil, err
	}

	return &models.Booking{
		ID:            uuid.New(),
		UserID:        userID,
		SlotID:        req.SlotID,
		VehicleID:     vehicleID,
		StartTime:     start,
		EndTime:       start.Add(models.HoursToDuration(req.DurationHours)),
		TotalAmount:   models.RoundMoney(req.TotalAmount),
		PaymentStatus: models.PaymentStatusPaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ownedBooking loads a booking and hides bookings of other users
func (s *BookingService) ownedBooking(ctx context.Context, userID, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translateStoreError("load booking", err)
	}
	if booking.UserID != userID {
		return nil, newBookingError(ErrNotFound, "booking not found")
	}
	return booking, nil
}

// lockedBooking re-reads a booking inside the slot transaction
func lockedBooking(ctx context.Context, tx database.SlotTx, userID, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := tx.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, newBookingError(ErrNotFound, "booking not found")
	}
	return booking, nil
}

// cancelUpdate builds the refund fields for cancelling b at now
func cancelUpdate(policy RefundPolicy, b *models.Booking, reason string, now time.Time) models.BookingUpdate {
	fraction, payment := policy.Compute(b, now)
	refund := null.FloatFrom(RefundAmount(b.TotalAmount, fraction))
	cancelReason := null.StringFrom(reason)
	return models.BookingUpdate{
		PaymentStatus:      &payment,
		RefundAmount:       &refund,
		CancellationReason: &cancelReason,
		UpdatedAt:          now,
	}
}

// ============================================================================
// CONFIRMED BOOKINGS
// ============================================================================

// CreateBooking reserves a slot for a window. The booking is active when it
// starts within the activation lead, upcoming otherwise.
func (s *BookingService) CreateBooking(ctx context.Context, userID uuid.UUID, req *models.CreateBookingRequest) (_ *models.Booking, err error) {
	ctx, span := s.startSpan(ctx, "CreateBooking", attribute.String("slot_id", req.SlotID.String()))
	defer func() { endSpan(span, err) }()

	now := s.clock.Now()
	booking, err := s.newBooking(userID, req, now)
	if err != nil {
		return nil, err
	}

	booking.Status = models.BookingStatusUpcoming
	if !booking.StartTime.After(now.Add(s.policy.ActivationLead)) {
		booking.Status = models.BookingStatusActive
	}

	var ob outbox
	err = s.store.WithSlotLock(ctx, booking.SlotID, func(tx database.SlotTx) error {
		if err := tx.CreateIfNoConflict(ctx, booking, models.CreateConflictStatuses); err != nil {
			return err
		}
		if booking.Status == models.BookingStatusActive {
			slot, changed, err := tx.RefreshSlotStatus(ctx, now)
			if err != nil {
				return err
			}
			ob.slotChanged(slot, changed)
		}
		ob.notify(NotifyConfirmed, booking)
		return nil
	})
	if err != nil {
		return nil, translateStoreError("create booking", err)
	}
	ob.flush(s.notifications)

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"slot_id":    booking.SlotID,
		"user_id":    userID,
		"status":     booking.Status,
	}).Info("Booking created")

	return booking, nil
}

// CancelBooking cancels an upcoming or active booking, refunds according to
// the refund policy and offers the vacated window to the waitlist
func (s *BookingService) CancelBooking(ctx context.Context, userID, bookingID uuid.UUID, reason string) (_ *models.Booking, err error) {
	ctx, span := s.startSpan(ctx, "CancelBooking", attribute.String("booking_id", bookingID.String()))
	defer func() { endSpan(span, err) }()

	if reason == "" {
		reason = models.ReasonUserCancelled
	}

	existing, err := s.ownedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var cancelled *models.Booking
	var ob outbox
	err = s.store.WithSlotLock(ctx, existing.SlotID, func(tx database.SlotTx) error {
		current, err := lockedBooking(ctx, tx, userID, bookingID)
		if err != nil {
			return err
		}
		if !current.Status.IsConfirmed() {
			return newBookingError(ErrInvalidState, "only upcoming or active bookings can be cancelled (status: %s)", current.Status)
		}

		cancelled, err = tx.TransitionStatus(ctx, bookingID, current.Status, models.BookingStatusCancelled,
			cancelUpdate(s.policy.Refunds, current, reason, now))
		if err != nil {
			return err
		}
		ob.notify(NotifyCancelled, cancelled)

		slot, changed, err := tx.RefreshSlotStatus(ctx, now)
		if err != nil {
			return err
		}
		ob.slotChanged(slot, changed)

		freed := models.Interval{Start: current.StartTime, End: current.EndTime}
		if freed.Start.Before(now) {
			freed.Start = now
		}
		allocated, err := s.engine.AttemptAllocate(ctx, tx, freed, now)
		if err != nil {
			return err
		}
		if allocated != nil {
			ob.notify(NotifyAllocated, allocated)
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreError("cancel booking", err)
	}
	ob.flush(s.notifications)

	s.logger.WithFields(logrus.Fields{
		"booking_id":    cancelled.ID,
		"refund_amount": cancelled.RefundAmount.Float64,
		"reason":        reason,
	}).Info("Booking cancelled")

	return cancelled, nil
}

// ExtendBooking moves the end of an active booking. The added window must
// not overlap another blocking booking.
func (s *BookingService) ExtendBooking(ctx context.Context, userID, bookingID uuid.UUID, req *models.ExtendBookingRequest) (_ *models.Booking, err error) {
	ctx, span := s.startSpan(ctx, "ExtendBooking", attribute.String("booking_id", bookingID.String()))
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, &BookingError{Kind: ErrValidation, Message: err.Error()}
	}

	existing, err := s.ownedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var extended *models.Booking
	err = s.store.WithSlotLock(ctx, existing.SlotID, func(tx database.SlotTx) error {
		current, err := lockedBooking(ctx, tx, userID, bookingID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusActive {
			return newBookingError(ErrInvalidState, "only active bookings can be extended (status: %s)", current.Status)
		}
		if !now.Before(current.EndTime) {
			return newBookingError(ErrInvalidState, "booking has already ended")
		}

		newEnd := current.EndTime.Add(models.HoursToDuration(req.AdditionalHours))
		conflicts, err := tx.FindOverlapping(ctx, models.Interval{Start: current.EndTime, End: newEnd}, models.BlockingStatuses)
		if err != nil {
			return err
		}
		for _, c := range conflicts {
			if c.ID != current.ID {
				return newBookingError(ErrConflict, "slot is already booked after the current end time")
			}
		}

		total := models.RoundMoney(current.TotalAmount + req.AdditionalAmount)
		extended, err = tx.TransitionStatus(ctx, bookingID, models.BookingStatusActive, models.BookingStatusActive,
			models.BookingUpdate{EndTime: &newEnd, TotalAmount: &total, UpdatedAt: now})
		return err
	})
	if err != nil {
		return nil, translateStoreError("extend booking", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": extended.ID,
		"end_time":   extended.EndTime,
	}).Info("Booking extended")

	return extended, nil
}

// ============================================================================
// WAITLIST
// ============================================================================

// JoinWaitlist queues a request for a window that is currently taken
func (s *BookingService) JoinWaitlist(ctx context.Context, userID uuid.UUID, req *models.CreateBookingRequest) (_ *models.Booking, err error) {
	ctx, span := s.startSpan(ctx, "JoinWaitlist", attribute.String("slot_id", req.SlotID.String()))
	defer func() { endSpan(span, err) }()

	now := s.clock.Now()
	booking, err := s.newBooking(userID, req, now)
	if err != nil {
		return nil, err
	}
	booking.Status = models.BookingStatusWaiting

	err = s.store.WithSlotLock(ctx, booking.SlotID, func(tx database.SlotTx) error {
		conflicts, err := tx.FindOverlapping(ctx, booking.Interval(), models.CreateConflictStatuses)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			return newBookingError(ErrNoConflictExists, "slot is free for the selected time range, book it directly")
		}
		return tx.Insert(ctx, booking)
	})
	if err != nil {
		return nil, translateStoreError("join waitlist", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"slot_id":    booking.SlotID,
		"user_id":    userID,
	}).Info("Joined waitlist")

	return booking, nil
}

// WithdrawWaitlist cancels a waiting booking with the waitlist refund
func (s *BookingService) WithdrawWaitlist(ctx context.Context, userID, bookingID uuid.UUID) (_ *models.Booking, err error) {
	ctx, span := s.startSpan(ctx, "WithdrawWaitlist", attribute.String("booking_id", bookingID.String()))
	defer func() { endSpan(span, err) }()

	existing, err := s.ownedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var withdrawn *models.Booking
	var ob outbox
	err = s.store.WithSlotLock(ctx, existing.SlotID, func(tx database.SlotTx) error {
		current, err := lockedBooking(ctx, tx, userID, bookingID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusWaiting {
			return newBookingError(ErrInvalidState, "only waiting bookings can be withdrawn (status: %s)", current.Status)
		}

		withdrawn, err = tx.TransitionStatus(ctx, bookingID, models.BookingStatusWaiting, models.BookingStatusCancelled,
			cancelUpdate(s.policy.Refunds, current, models.ReasonWaitlistWithdrawn, now))
		if err != nil {
			return err
		}
		ob.notify(NotifyCancelled, withdrawn)
		return nil
	})
	if err != nil {
		return nil, translateStoreError("withdraw from waitlist", err)
	}
	ob.flush(s.notifications)

	return withdrawn, nil
}

// ConfirmAllocation accepts an open allocation offer
func (s *BookingService) ConfirmAllocation(ctx context.Context, userID, bookingID uuid.UUID) (_ *models.Booking, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmAllocation", attribute.String("booking_id", bookingID.String()))
	defer func() { endSpan(span, err) }()

	existing, err := s.ownedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var confirmed *models.Booking
	var ob outbox
	err = s.store.WithSlotLock(ctx, existing.SlotID, func(tx database.SlotTx) error {
		current, err := lockedBooking(ctx, tx, userID, bookingID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusAllocated {
			return newBookingError(ErrInvalidState, "booking has no open allocation offer (status: %s)", current.Status)
		}
		if current.AllocationExpiresAt.Valid && now.After(current.AllocationExpiresAt.Time) {
			return newBookingError(ErrExpired, "allocation offer expired at %s", current.AllocationExpiresAt.Time.Format(time.RFC3339))
		}

		cleared := null.Time{}
		confirmed, err = tx.TransitionStatus(ctx, bookingID, models.BookingStatusAllocated, models.BookingStatusUpcoming,
			models.BookingUpdate{
				AllocationExpiresAt: &cleared,
				OfferWindowStart:    &cleared,
				OfferWindowEnd:      &cleared,
				UpdatedAt:           now,
			})
		if err != nil {
			return err
		}
		ob.notify(NotifyConfirmed, confirmed)
		return nil
	})
	if err != nil {
		return nil, translateStoreError("confirm allocation", err)
	}
	ob.flush(s.notifications)

	s.logger.WithField("booking_id", confirmed.ID).Info("Allocation confirmed")
	return confirmed, nil
}

// ============================================================================
// READS
// ============================================================================

// ListAvailability lists slots. With a window in q, a slot is occupied when a
// confirmed booking overlaps the window and OccupiedUntil carries the latest
// conflicting end.
func (s *BookingService) ListAvailability(ctx context.Context, q AvailabilityQuery) (_ []models.SlotAvailability, err error) {
	ctx, span := s.startSpan(ctx, "ListAvailability")
	defer func() { endSpan(span, err) }()

	if q.Status != "" && !q.Status.Valid() {
		return nil, newBookingError(ErrValidation, "status must be one of available, occupied, reserved")
	}
	if q.Category != "" && !q.Category.Valid() {
		return nil, newBookingError(ErrValidation, "category must be one of standard, ev, disabled")
	}
	if q.DurationHours < 0 {
		return nil, newBookingError(ErrValidation, "duration must be greater than zero")
	}
	if (q.Start == nil) != (q.DurationHours == 0) {
		return nil, newBookingError(ErrValidation, "start_time and duration must be given together")
	}

	filter := models.SlotFilter{SlotID: q.SlotID, Category: q.Category}
	if q.Start == nil {
		filter.Status = q.Status
	}
	slots, err := s.store.ListSlots(ctx, filter)
	if err != nil {
		return nil, translateStoreError("list slots", err)
	}

	result := make([]models.SlotAvailability, 0, len(slots))
	if q.Start == nil {
		for _, slot := range slots {
			result = append(result, models.SlotAvailability{Slot: slot})
		}
		return result, nil
	}

	window := models.Interval{Start: q.Start.UTC(), End: q.Start.UTC().Add(models.HoursToDuration(q.DurationHours))}

	confirmed, err := s.store.FindConfirmedOverlapping(ctx, window, q.SlotID)
	if err != nil {
		return nil, translateStoreError("check availability", err)
	}
	occupiedUntil := make(map[uuid.UUID]time.Time)
	for _, b := range confirmed {
		if end, ok := occupiedUntil[b.SlotID]; !ok || b.EndTime.After(end) {
			occupiedUntil[b.SlotID] = b.EndTime
		}
	}

	for _, slot := range slots {
		entry := models.SlotAvailability{Slot: slot}
		if until, ok := occupiedUntil[slot.ID]; ok {
			entry.Status = models.SlotStatusOccupied
			entry.OccupiedUntil = &until
		} else if slot.Status != models.SlotStatusReserved {
			entry.Status = models.SlotStatusAvailable
		}
		if q.Status != "" && entry.Status != q.Status {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

// GetBooking returns one of the caller's bookings
func (s *BookingService) GetBooking(ctx context.Context, userID, bookingID uuid.UUID) (*models.Booking, error) {
	return s.ownedBooking(ctx, userID, bookingID)
}

// ListUserBookings returns the caller's bookings, newest first
func (s *BookingService) ListUserBookings(ctx context.Context, userID uuid.UUID, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	if status != "" && !status.Valid() {
		return nil, newBookingError(ErrValidation, "unknown booking status: %s", status)
	}
	bookings, err := s.store.ListBookings(ctx, models.BookingFilter{
		UserID: &userID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, translateStoreError("list bookings", err)
	}
	return bookings, nil
}

// ListAllBookings returns bookings of all users for administration
func (s *BookingService) ListAllBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newBookingError(ErrValidation, "unknown booking status: %s", filter.Status)
	}
	bookings, err := s.store.ListBookings(ctx, filter)
	if err != nil {
		return nil, translateStoreError("list bookings", err)
	}
	return bookings, nil
}
