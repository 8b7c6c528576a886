package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

var testBase = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func newTestSlot(t *testing.T, store *MemoryReservationStore, number string) *models.Slot {
	t.Helper()
	slot := &models.Slot{
		ID:         uuid.New(),
		Number:     number,
		Category:   models.SlotCategoryStandard,
		HourlyRate: 5,
		Location:   "Level 1",
		Status:     models.SlotStatusAvailable,
		CreatedAt:  testBase,
		UpdatedAt:  testBase,
	}
	require.NoError(t, store.CreateSlot(context.Background(), slot))
	return slot
}

func newTestBooking(slotID uuid.UUID, status models.BookingStatus, startHour, endHour int, createdAt time.Time) *models.Booking {
	return &models.Booking{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		SlotID:        slotID,
		VehicleID:     "CAB-1234",
		StartTime:     testBase.Add(time.Duration(startHour) * time.Hour),
		EndTime:       testBase.Add(time.Duration(endHour) * time.Hour),
		TotalAmount:   10,
		Status:        status,
		PaymentStatus: models.PaymentStatusPaid,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func insert(t *testing.T, store *MemoryReservationStore, b *models.Booking) {
	t.Helper()
	err := store.WithSlotLock(context.Background(), b.SlotID, func(tx SlotTx) error {
		return tx.Insert(context.Background(), b)
	})
	require.NoError(t, err)
}

func TestMemoryStore_CreateIfNoConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")

	first := newTestBooking(slot.ID, models.BookingStatusUpcoming, 3, 5, testBase)
	err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
		return tx.CreateIfNoConflict(ctx, first, models.CreateConflictStatuses)
	})
	require.NoError(t, err)
	assert.NotZero(t, first.Seq)

	t.Run("Overlap is a conflict", func(t *testing.T) {
		overlapping := newTestBooking(slot.ID, models.BookingStatusUpcoming, 4, 6, testBase)
		err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
			return tx.CreateIfNoConflict(ctx, overlapping, models.CreateConflictStatuses)
		})
		assert.ErrorIs(t, err, ErrConflict)

		_, err = store.GetBooking(ctx, overlapping.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Back to back is allowed", func(t *testing.T) {
		next := newTestBooking(slot.ID, models.BookingStatusUpcoming, 5, 6, testBase)
		err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
			return tx.CreateIfNoConflict(ctx, next, models.CreateConflictStatuses)
		})
		assert.NoError(t, err)
	})

	t.Run("Waiting bookings block creation", func(t *testing.T) {
		other := newTestSlot(t, store, "A2")
		insert(t, store, newTestBooking(other.ID, models.BookingStatusWaiting, 3, 5, testBase))

		b := newTestBooking(other.ID, models.BookingStatusUpcoming, 4, 5, testBase)
		err := store.WithSlotLock(ctx, other.ID, func(tx SlotTx) error {
			return tx.CreateIfNoConflict(ctx, b, models.CreateConflictStatuses)
		})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("Cancelled bookings do not block", func(t *testing.T) {
		other := newTestSlot(t, store, "A3")
		insert(t, store, newTestBooking(other.ID, models.BookingStatusCancelled, 3, 5, testBase))

		b := newTestBooking(other.ID, models.BookingStatusUpcoming, 3, 5, testBase)
		err := store.WithSlotLock(ctx, other.ID, func(tx SlotTx) error {
			return tx.CreateIfNoConflict(ctx, b, models.CreateConflictStatuses)
		})
		assert.NoError(t, err)
	})

	t.Run("Unknown slot", func(t *testing.T) {
		err := store.WithSlotLock(ctx, uuid.New(), func(tx SlotTx) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")
	existing := newTestBooking(slot.ID, models.BookingStatusUpcoming, 3, 5, testBase)
	insert(t, store, existing)

	boom := errors.New("boom")
	added := newTestBooking(slot.ID, models.BookingStatusUpcoming, 6, 7, testBase)
	err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
		if err := tx.Insert(ctx, added); err != nil {
			return err
		}
		if _, err := tx.TransitionStatus(ctx, existing.ID, models.BookingStatusUpcoming, models.BookingStatusCancelled, models.BookingUpdate{}); err != nil {
			return err
		}
		if _, err := tx.SetSlotStatus(ctx, models.SlotStatusOccupied, testBase); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetBooking(ctx, added.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetBooking(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusUpcoming, got.Status)

	gotSlot, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusAvailable, gotSlot.Status)
}

func TestMemoryStore_TransitionStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")
	b := newTestBooking(slot.ID, models.BookingStatusWaiting, 3, 5, testBase)
	insert(t, store, b)

	t.Run("Stale expected status", func(t *testing.T) {
		err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
			_, err := tx.TransitionStatus(ctx, b.ID, models.BookingStatusAllocated, models.BookingStatusUpcoming, models.BookingUpdate{})
			return err
		})
		assert.ErrorIs(t, err, ErrStaleState)
	})

	t.Run("Applies update", func(t *testing.T) {
		expires := null.TimeFrom(testBase.Add(5 * time.Minute))
		var updated *models.Booking
		err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
			var err error
			updated, err = tx.TransitionStatus(ctx, b.ID, models.BookingStatusWaiting, models.BookingStatusAllocated,
				models.BookingUpdate{AllocationExpiresAt: &expires, UpdatedAt: testBase})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusAllocated, updated.Status)

		got, err := store.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusAllocated, got.Status)
		assert.True(t, got.AllocationExpiresAt.Valid)
		assert.Equal(t, expires.Time, got.AllocationExpiresAt.Time)
	})

	t.Run("Booking on another slot is not visible", func(t *testing.T) {
		other := newTestSlot(t, store, "A2")
		err := store.WithSlotLock(ctx, other.ID, func(tx SlotTx) error {
			_, err := tx.GetBooking(ctx, b.ID)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore_FindOldestWaiting(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")

	older := newTestBooking(slot.ID, models.BookingStatusWaiting, 4, 5, testBase)
	newer := newTestBooking(slot.ID, models.BookingStatusWaiting, 3, 5, testBase.Add(time.Minute))
	partial := newTestBooking(slot.ID, models.BookingStatusWaiting, 4, 6, testBase.Add(-time.Minute))
	sameTime := newTestBooking(slot.ID, models.BookingStatusWaiting, 3, 4, testBase)
	insert(t, store, older)
	insert(t, store, sameTime)
	insert(t, store, newer)
	insert(t, store, partial)

	freed := models.Interval{Start: testBase.Add(3 * time.Hour), End: testBase.Add(5 * time.Hour)}

	err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
		got, err := tx.FindOldestWaiting(ctx, freed, testBase)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, older.ID, got.ID, "earliest created wins, insertion order breaks ties")

		_, err = tx.TransitionStatus(ctx, older.ID, models.BookingStatusWaiting, models.BookingStatusAllocated, models.BookingUpdate{})
		require.NoError(t, err)

		// sameTime [3,4) does not overlap the offer [4,5)
		got, err = tx.FindOldestWaiting(ctx, freed, testBase)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sameTime.ID, got.ID)

		// newer [3,5) overlaps the outstanding offer
		_, err = tx.TransitionStatus(ctx, sameTime.ID, models.BookingStatusWaiting, models.BookingStatusCancelled, models.BookingUpdate{})
		require.NoError(t, err)
		got, err = tx.FindOldestWaiting(ctx, freed, testBase)
		require.NoError(t, err)
		assert.Nil(t, got)

		// nothing that has already started is offered
		got, err = tx.FindOldestWaiting(ctx, freed, testBase.Add(10*time.Hour))
		require.NoError(t, err)
		assert.Nil(t, got)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_RefreshSlotStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")

	active := newTestBooking(slot.ID, models.BookingStatusActive, 0, 2, testBase)
	insert(t, store, active)

	err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
		got, changed, err := tx.RefreshSlotStatus(ctx, testBase.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, models.SlotStatusOccupied, got.Status)

		got, changed, err = tx.RefreshSlotStatus(ctx, testBase.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.SlotStatusOccupied, got.Status)
		return nil
	})
	require.NoError(t, err)

	t.Run("Reserved hold survives when free", func(t *testing.T) {
		err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
			if _, err := tx.SetSlotStatus(ctx, models.SlotStatusReserved, testBase); err != nil {
				return err
			}
			got, _, err := tx.RefreshSlotStatus(ctx, testBase.Add(3*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, models.SlotStatusReserved, got.Status)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestMemoryStore_RateChangeSurvivesSlotCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")

	err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
		if _, err := tx.SetSlotStatus(ctx, models.SlotStatusReserved, testBase); err != nil {
			return err
		}
		_, err := store.UpdateSlotRate(ctx, slot.ID, 9.5, testBase)
		return err
	})
	require.NoError(t, err)

	got, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 9.5, got.HourlyRate)
	assert.Equal(t, models.SlotStatusReserved, got.Status)
}

func TestMemoryStore_ConcurrentCreatesKeepExclusivity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			// every window overlaps [3h, 4h)
			b := newTestBooking(slot.ID, models.BookingStatusUpcoming, 2+offset%2, 4+offset%3, testBase)
			err := store.WithSlotLock(ctx, slot.ID, func(tx SlotTx) error {
				return tx.CreateIfNoConflict(ctx, b, models.BlockingStatuses)
			})
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrConflict) {
				conflicts++
			} else if err == nil {
				successes++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

func TestMemoryStore_FindDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")

	due := newTestBooking(slot.ID, models.BookingStatusUpcoming, 0, 1, testBase)
	notDue := newTestBooking(slot.ID, models.BookingStatusUpcoming, 2, 3, testBase)
	insert(t, store, due)
	insert(t, store, notDue)

	got, err := store.FindDue(ctx, models.BookingStatusUpcoming, DueByStart, testBase, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	_, err = store.FindDue(ctx, models.BookingStatusUpcoming, DueField("user_id"), testBase, 10)
	assert.Error(t, err)
}

func TestMemoryStore_ListBookings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReservationStore()
	slot := newTestSlot(t, store, "A1")

	first := newTestBooking(slot.ID, models.BookingStatusUpcoming, 1, 2, testBase)
	second := newTestBooking(slot.ID, models.BookingStatusUpcoming, 3, 4, testBase.Add(time.Minute))
	second.UserID = first.UserID
	insert(t, store, first)
	insert(t, store, second)
	insert(t, store, newTestBooking(slot.ID, models.BookingStatusUpcoming, 5, 6, testBase))

	got, err := store.ListBookings(ctx, models.BookingFilter{UserID: &first.UserID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	limited, err := store.ListBookings(ctx, models.BookingFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore_CreateSlotDuplicateNumber(t *testing.T) {
	store := NewMemoryReservationStore()
	newTestSlot(t, store, "A1")

	dup := &models.Slot{ID: uuid.New(), Number: "A1", Category: models.SlotCategoryStandard}
	assert.ErrorIs(t, store.CreateSlot(context.Background(), dup), ErrConflict)
}
