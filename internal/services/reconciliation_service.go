package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TickReport counts what one reconciliation tick changed
type TickReport struct {
	Activated      int `json:"activated"`
	Completed      int `json:"completed"`
	ExpiredOffers  int `json:"expired_offers"`
	ExpiredWaiting int `json:"expired_waiting"`
	Allocated      int `json:"allocated"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
}

// ReconciliationService advances bookings as time passes. Tick never reads
// the wall clock; the caller supplies now.
type ReconciliationService struct {
	store         database.ReservationStore
	engine        *AllocationEngine
	notifications *NotificationService
	refunds       RefundPolicy
	batchSize     int
	reminderLead  time.Duration
	logger        *logrus.Logger
	tracer        trace.Tracer
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	store database.ReservationStore,
	engine *AllocationEngine,
	notifications *NotificationService,
	refunds RefundPolicy,
	batchSize int,
	reminderLead time.Duration,
	logger *logrus.Logger,
) *ReconciliationService {
	if batchSize <= 0 {
		batchSize = 200
	}
	if reminderLead <= 0 {
		reminderLead = 30 * time.Minute
	}
	return &ReconciliationService{
		store:         store,
		engine:        engine,
		notifications: notifications,
		refunds:       refunds,
		batchSize:     batchSize,
		reminderLead:  reminderLead,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
}

// reconcileStep moves one due booking inside its slot transaction
type reconcileStep func(ctx context.Context, tx database.SlotTx, b *models.Booking, ob *outbox) error

// Tick runs the four reconciliation steps in order: activate, complete,
// expire offers, expire waiting. Every record is handled in its own slot
// transaction. A record whose status changed concurrently is skipped; other
// failures are logged, the tick moves on and the first one is returned.
func (s *ReconciliationService) Tick(ctx context.Context, now time.Time) (report TickReport, err error) {
	ctx, span := s.tracer.Start(ctx, "ReconciliationService.Tick", trace.WithAttributes(
		attribute.String("now", now.Format(time.RFC3339)),
	))
	defer func() { endSpan(span, err) }()

	steps := []struct {
		name    string
		status  models.BookingStatus
		field   database.DueField
		counter *int
		apply   reconcileStep
	}{
		{"activate", models.BookingStatusUpcoming, database.DueByStart, &report.Activated, s.activate(now)},
		{"complete", models.BookingStatusActive, database.DueByEnd, &report.Completed, s.complete(now)},
		{"expire_offer", models.BookingStatusAllocated, database.DueByAllocationExpiry, &report.ExpiredOffers, s.expireOffer(now)},
		{"expire_waiting", models.BookingStatusWaiting, database.DueByStart, &report.ExpiredWaiting, s.expireWaiting(now)},
	}

	var firstErr error
	for _, step := range steps {
		due, findErr := s.store.FindDue(ctx, step.status, step.field, now, s.batchSize)
		if findErr != nil {
			s.logger.WithError(findErr).WithField("step", step.name).Error("Failed to load due bookings")
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", step.name, findErr)
			}
			continue
		}

		for i := range due {
			b := due[i]
			var ob outbox
			txErr := s.store.WithSlotLock(ctx, b.SlotID, func(tx database.SlotTx) error {
				return step.apply(ctx, tx, &b, &ob)
			})
			switch {
			case txErr == nil:
				*step.counter++
				report.Allocated += ob.count(NotifyAllocated)
				ob.flush(s.notifications)
			case errors.Is(txErr, database.ErrStaleState):
				report.Skipped++
			default:
				report.Failed++
				s.logger.WithError(txErr).WithFields(logrus.Fields{
					"step":       step.name,
					"booking_id": b.ID,
				}).Error("Failed to reconcile booking")
				if firstErr == nil {
					firstErr = fmt.Errorf("%s booking %s: %w", step.name, b.ID, txErr)
				}
			}
		}
	}

	if report != (TickReport{}) {
		s.logger.WithFields(logrus.Fields{
			"activated":       report.Activated,
			"completed":       report.Completed,
			"expired_offers":  report.ExpiredOffers,
			"expired_waiting": report.ExpiredWaiting,
			"allocated":       report.Allocated,
			"skipped":         report.Skipped,
			"failed":          report.Failed,
		}).Info("Reconciliation tick")
	}

	return report, firstErr
}

func (s *ReconciliationService) activate(now time.Time) reconcileStep {
	return func(ctx context.Context, tx database.SlotTx, b *models.Booking, ob *outbox) error {
		if _, err := tx.TransitionStatus(ctx, b.ID, models.BookingStatusUpcoming, models.BookingStatusActive,
			models.BookingUpdate{UpdatedAt: now}); err != nil {
			return err
		}
		slot, changed, err := tx.RefreshSlotStatus(ctx, now)
		if err != nil {
			return err
		}
		ob.slotChanged(slot, changed)
		return nil
	}
}

func (s *ReconciliationService) complete(now time.Time) reconcileStep {
	return func(ctx context.Context, tx database.SlotTx, b *models.Booking, ob *outbox) error {
		if _, err := tx.TransitionStatus(ctx, b.ID, models.BookingStatusActive, models.BookingStatusCompleted,
			models.BookingUpdate{UpdatedAt: now}); err != nil {
			return err
		}
		slot, changed, err := tx.RefreshSlotStatus(ctx, now)
		if err != nil {
			return err
		}
		ob.slotChanged(slot, changed)
		return s.allocate(ctx, tx, b.Interval(), now, ob)
	}
}

func (s *ReconciliationService) expireOffer(now time.Time) reconcileStep {
	return func(ctx context.Context, tx database.SlotTx, b *models.Booking, ob *outbox) error {
		current, err := tx.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusAllocated {
			return database.ErrStaleState
		}

		cancelled, err := tx.TransitionStatus(ctx, b.ID, models.BookingStatusAllocated, models.BookingStatusCancelled,
			cancelUpdate(s.refunds, current, models.ReasonAllocationExpired, now))
		if err != nil {
			return err
		}
		ob.notify(NotifyCancelled, cancelled)

		window, ok := current.OfferWindow()
		if !ok {
			window = current.Interval()
		}
		return s.allocate(ctx, tx, window, now, ob)
	}
}

func (s *ReconciliationService) expireWaiting(now time.Time) reconcileStep {
	return func(ctx context.Context, tx database.SlotTx, b *models.Booking, ob *outbox) error {
		current, err := tx.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if current.Status != models.BookingStatusWaiting {
			return database.ErrStaleState
		}

		cancelled, err := tx.TransitionStatus(ctx, b.ID, models.BookingStatusWaiting, models.BookingStatusCancelled,
			cancelUpdate(s.refunds, current, models.ReasonWaitlistUnserved, now))
		if err != nil {
			return err
		}
		ob.notify(NotifyCancelled, cancelled)
		return nil
	}
}

func (s *ReconciliationService) allocate(ctx context.Context, tx database.SlotTx, freed models.Interval, now time.Time, ob *outbox) error {
	allocated, err := s.engine.AttemptAllocate(ctx, tx, freed, now)
	if err != nil {
		return err
	}
	if allocated != nil {
		ob.notify(NotifyAllocated, allocated)
	}
	return nil
}

// SendReminders notifies owners of upcoming bookings starting within the
// next minute of the reminder lead
func (s *ReconciliationService) SendReminders(ctx context.Context, now time.Time) (int, error) {
	to := now.Add(s.reminderLead)
	from := to.Add(-time.Minute)

	due, err := s.store.FindStartingBetween(ctx, models.BookingStatusUpcoming, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to load bookings for reminders: %w", err)
	}

	for i := range due {
		if s.notifications != nil {
			s.notifications.Dispatch(NotifyReminder, &due[i])
		}
	}

	if len(due) > 0 {
		s.logger.WithField("count", len(due)).Info("Booking reminders dispatched")
	}
	return len(due), nil
}
