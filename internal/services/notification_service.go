package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// NotificationKind identifies a user-facing booking notification. The value
// doubles as the broker routing key.
type NotificationKind string

const (
	NotifyConfirmed NotificationKind = "booking.confirmed"
	NotifyCancelled NotificationKind = "booking.cancelled"
	NotifyAllocated NotificationKind = "booking.allocated"
	NotifyReminder  NotificationKind = "booking.reminder"
)

// Notifier delivers booking notifications to the owning user. Delivery is
// best-effort and never part of a booking transaction.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, b *models.Booking) error
	NotifyBookingCancelled(ctx context.Context, b *models.Booking) error
	NotifyBookingAllocated(ctx context.Context, b *models.Booking) error
	NotifyBookingReminder(ctx context.Context, b *models.Booking) error
}

// SlotStatusListener receives slot status cache changes after commit
type SlotStatusListener interface {
	SlotStatusChanged(slot models.Slot)
}

// JSONPublisher publishes a JSON document under a routing key
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// BookingEvent is the payload published for every booking notification
type BookingEvent struct {
	Type                NotificationKind     `json:"type"`
	BookingID           uuid.UUID            `json:"booking_id"`
	UserID              uuid.UUID            `json:"user_id"`
	SlotID              uuid.UUID            `json:"slot_id"`
	VehicleID           string               `json:"vehicle_id"`
	Status              models.BookingStatus `json:"status"`
	StartTime           time.Time            `json:"start_time"`
	EndTime             time.Time            `json:"end_time"`
	TotalAmount         float64              `json:"total_amount"`
	RefundAmount        *float64             `json:"refund_amount,omitempty"`
	CancellationReason  string               `json:"cancellation_reason,omitempty"`
	AllocationExpiresAt *time.Time           `json:"allocation_expires_at,omitempty"`
	OccurredAt          time.Time            `json:"occurred_at"`
}

// NewBookingEvent builds the event payload for b
func NewBookingEvent(kind NotificationKind, b *models.Booking, at time.Time) BookingEvent {
	event := BookingEvent{
		Type:               kind,
		BookingID:          b.ID,
		UserID:             b.UserID,
		SlotID:             b.SlotID,
		VehicleID:          b.VehicleID,
		Status:             b.Status,
		StartTime:          b.StartTime,
		EndTime:            b.EndTime,
		TotalAmount:        b.TotalAmount,
		CancellationReason: b.CancellationReason.ValueOrZero(),
		OccurredAt:         at,
	}
	if b.RefundAmount.Valid {
		refund := b.RefundAmount.Float64
		event.RefundAmount = &refund
	}
	if b.AllocationExpiresAt.Valid {
		expires := b.AllocationExpiresAt.Time
		event.AllocationExpiresAt = &expires
	}
	return event
}

// ============================================================================
// NOTIFIER IMPLEMENTATIONS
// ============================================================================

// LogNotifier writes notifications to the application log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) log(kind NotificationKind, b *models.Booking) {
	entry := n.logger.WithFields(logrus.Fields{
		"notification": kind,
		"booking_id":   b.ID,
		"user_id":      b.UserID,
		"slot_id":      b.SlotID,
		"start_time":   b.StartTime,
		"end_time":     b.EndTime,
	})
	if b.RefundAmount.Valid {
		entry = entry.WithField("refund_amount", b.RefundAmount.Float64)
	}
	if b.AllocationExpiresAt.Valid {
		entry = entry.WithField("expires_at", b.AllocationExpiresAt.Time)
	}
	entry.Info("Booking notification")
}

func (n *LogNotifier) NotifyBookingConfirmed(ctx context.Context, b *models.Booking) error {
	n.log(NotifyConfirmed, b)
	return nil
}

func (n *LogNotifier) NotifyBookingCancelled(ctx context.Context, b *models.Booking) error {
	n.log(NotifyCancelled, b)
	return nil
}

func (n *LogNotifier) NotifyBookingAllocated(ctx context.Context, b *models.Booking) error {
	n.log(NotifyAllocated, b)
	return nil
}

func (n *LogNotifier) NotifyBookingReminder(ctx context.Context, b *models.Booking) error {
	n.log(NotifyReminder, b)
	return nil
}

// BrokerNotifier publishes notifications to a message broker for the
// delivery service (push/email) to consume
type BrokerNotifier struct {
	publisher JSONPublisher
	now       func() time.Time
}

// NewBrokerNotifier creates a BrokerNotifier
func NewBrokerNotifier(publisher JSONPublisher, now func() time.Time) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher, now: now}
}

func (n *BrokerNotifier) publish(ctx context.Context, kind NotificationKind, b *models.Booking) error {
	if err := n.publisher.PublishJSON(ctx, string(kind), NewBookingEvent(kind, b, n.now())); err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	return nil
}

func (n *BrokerNotifier) NotifyBookingConfirmed(ctx context.Context, b *models.Booking) error {
	return n.publish(ctx, NotifyConfirmed, b)
}

func (n *BrokerNotifier) NotifyBookingCancelled(ctx context.Context, b *models.Booking) error {
	return n.publish(ctx, NotifyCancelled, b)
}

func (n *BrokerNotifier) NotifyBookingAllocated(ctx context.Context, b *models.Booking) error {
	return n.publish(ctx, NotifyAllocated, b)
}

func (n *BrokerNotifier) NotifyBookingReminder(ctx context.Context, b *models.Booking) error {
	return n.publish(ctx, NotifyReminder, b)
}

// MultiNotifier fans a notification out to several notifiers
type MultiNotifier []Notifier

func (m MultiNotifier) each(fn func(Notifier) error) error {
	var errs []error
	for _, n := range m {
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) NotifyBookingConfirmed(ctx context.Context, b *models.Booking) error {
	return m.each(func(n Notifier) error { return n.NotifyBookingConfirmed(ctx, b) })
}

func (m MultiNotifier) NotifyBookingCancelled(ctx context.Context, b *models.Booking) error {
	return m.each(func(n Notifier) error { return n.NotifyBookingCancelled(ctx, b) })
}

func (m MultiNotifier) NotifyBookingAllocated(ctx context.Context, b *models.Booking) error {
	return m.each(func(n Notifier) error { return n.NotifyBookingAllocated(ctx, b) })
}

func (m MultiNotifier) NotifyBookingReminder(ctx context.Context, b *models.Booking) error {
	return m.each(func(n Notifier) error { return n.NotifyBookingReminder(ctx, b) })
}

// ============================================================================
// DISPATCH
// ============================================================================

// NotificationService dispatches notifications and slot status changes
// asynchronously once a transaction has committed. Failures are logged and
// never reach the caller.
type NotificationService struct {
	notifier  Notifier
	listeners []SlotStatusListener
	timeout   time.Duration
	logger    *logrus.Logger
	wg        sync.WaitGroup
}

// NewNotificationService creates a NotificationService
func NewNotificationService(notifier Notifier, logger *logrus.Logger, listeners ...SlotStatusListener) *NotificationService {
	return &NotificationService{
		notifier:  notifier,
		listeners: listeners,
		timeout:   10 * time.Second,
		logger:    logger,
	}
}

// AddListener registers a slot status listener
func (s *NotificationService) AddListener(l SlotStatusListener) {
	s.listeners = append(s.listeners, l)
}

// Dispatch sends a booking notification in the background
func (s *NotificationService) Dispatch(kind NotificationKind, b *models.Booking) {
	booking := b.Clone()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		var err error
		switch kind {
		case NotifyConfirmed:
			err = s.notifier.NotifyBookingConfirmed(ctx, booking)
		case NotifyCancelled:
			err = s.notifier.NotifyBookingCancelled(ctx, booking)
		case NotifyAllocated:
			err = s.notifier.NotifyBookingAllocated(ctx, booking)
		case NotifyReminder:
			err = s.notifier.NotifyBookingReminder(ctx, booking)
		default:
			err = fmt.Errorf("unknown notification kind: %s", kind)
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"notification": kind,
				"booking_id":   booking.ID,
			}).Warn("Failed to deliver booking notification")
		}
	}()
}

// PublishSlotStatus forwards a slot status change to listeners
func (s *NotificationService) PublishSlotStatus(slot models.Slot) {
	for _, l := range s.listeners {
		l.SlotStatusChanged(slot)
	}
}

// Wait blocks until in-flight notifications finish
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// outbox collects side effects inside a slot transaction; they are
// released only after the transaction commits
type outbox struct {
	notifications []pendingNotification
	slots         []models.Slot
}

type pendingNotification struct {
	kind    NotificationKind
	booking *models.Booking
}

func (o *outbox) notify(kind NotificationKind, b *models.Booking) {
	o.notifications = append(o.notifications, pendingNotification{kind: kind, booking: b})
}

func (o *outbox) slotChanged(slot *models.Slot, changed bool) {
	if changed && slot != nil {
		o.slots = append(o.slots, *slot)
	}
}

func (o *outbox) count(kind NotificationKind) int {
	n := 0
	for _, p := range o.notifications {
		if p.kind == kind {
			n++
		}
	}
	return n
}

// flush releases collected side effects through s
func (o *outbox) flush(s *NotificationService) {
	if s == nil {
		return
	}
	for _, slot := range o.slots {
		s.PublishSlotStatus(slot)
	}
	for _, n := range o.notifications {
		s.Dispatch(n.kind, n.booking)
	}
}
