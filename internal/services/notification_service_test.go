package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

type publishedMessage struct {
	key   string
	event BookingEvent
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (p *fakePublisher) PublishJSON(ctx context.Context, key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{key: key, event: v.(BookingEvent)})
	return nil
}

func testBookingForEvents() *models.Booking {
	return &models.Booking{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		SlotID:             uuid.New(),
		VehicleID:          "WP CAB-1234",
		StartTime:          at(9, 0),
		EndTime:            at(11, 0),
		TotalAmount:        10,
		Status:             models.BookingStatusCancelled,
		PaymentStatus:      models.PaymentStatusPartialRefund,
		RefundAmount:       null.FloatFrom(5),
		CancellationReason: null.StringFrom(models.ReasonUserCancelled),
	}
}

func TestBrokerNotifierPublishesEvents(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := NewBrokerNotifier(publisher, func() time.Time { return testNow })
	booking := testBookingForEvents()

	require.NoError(t, notifier.NotifyBookingCancelled(context.Background(), booking))

	require.Len(t, publisher.published, 1)
	msg := publisher.published[0]
	assert.Equal(t, "booking.cancelled", msg.key)
	assert.Equal(t, NotifyCancelled, msg.event.Type)
	assert.Equal(t, booking.ID, msg.event.BookingID)
	require.NotNil(t, msg.event.RefundAmount)
	assert.Equal(t, 5.0, *msg.event.RefundAmount)
	assert.Equal(t, models.ReasonUserCancelled, msg.event.CancellationReason)
	assert.Nil(t, msg.event.AllocationExpiresAt)
	assert.Equal(t, testNow, msg.event.OccurredAt)
}

func TestBrokerNotifierWrapsPublishError(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("channel closed")}
	notifier := NewBrokerNotifier(publisher, time.Now)

	err := notifier.NotifyBookingAllocated(context.Background(), testBookingForEvents())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "booking.allocated")
}

func TestMultiNotifierCallsEveryNotifier(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	working := &recordingNotifier{}
	booking := testBookingForEvents()

	err := MultiNotifier{failing, working}.NotifyBookingReminder(context.Background(), booking)
	assert.Error(t, err)
	assert.Equal(t, []NotificationKind{NotifyReminder}, failing.kinds(booking.ID))
	assert.Equal(t, []NotificationKind{NotifyReminder}, working.kinds(booking.ID))
}

func TestOutboxFlushesAfterCommit(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	notifier := &recordingNotifier{}
	listener := &recordingListener{}
	service := NewNotificationService(notifier, logger, listener)

	booking := testBookingForEvents()
	slot := &models.Slot{ID: booking.SlotID, Status: models.SlotStatusAvailable}

	var ob outbox
	ob.notify(NotifyCancelled, booking)
	ob.notify(NotifyAllocated, booking)
	ob.slotChanged(slot, true)
	ob.slotChanged(slot, false)
	assert.Equal(t, 1, ob.count(NotifyAllocated))

	ob.flush(service)
	service.Wait()

	assert.ElementsMatch(t, []NotificationKind{NotifyCancelled, NotifyAllocated}, notifier.kinds(booking.ID))
	assert.Len(t, listener.slots, 1)
}
