package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/database"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionDefaultSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A1 already exists
	created, err := env.slots.ProvisionDefaultSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 39, created)

	slots, err := env.store.ListSlots(ctx, models.SlotFilter{Category: models.SlotCategoryEV})
	require.NoError(t, err)
	require.Len(t, slots, 10)
	assert.Equal(t, 8.00, slots[0].HourlyRate)
	assert.Equal(t, "Level 1", slots[0].Location)

	created, err = env.slots.ProvisionDefaultSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestCreateSlotDuplicateNumber(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.slots.CreateSlot(context.Background(), &models.CreateSlotRequest{
		Number:   "A1",
		Category: models.SlotCategoryStandard,
	})
	assert.True(t, errors.Is(err, ErrConflict))

	_, err = env.slots.CreateSlot(context.Background(), &models.CreateSlotRequest{
		Number:   "Z1",
		Category: "valet",
	})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestUpdateSlotStatus(t *testing.T) {
	t.Run("reserve a free slot", func(t *testing.T) {
		env := newTestEnv(t)

		slot, err := env.slots.UpdateSlotStatus(context.Background(), env.slot.ID, models.SlotStatusReserved)
		require.NoError(t, err)
		assert.Equal(t, models.SlotStatusReserved, slot.Status)
		assert.Equal(t, models.SlotStatusReserved, env.slotStatus(t))

		env.listener.mu.Lock()
		defer env.listener.mu.Unlock()
		require.Len(t, env.listener.slots, 1)
		assert.Equal(t, models.SlotStatusReserved, env.listener.slots[0].Status)
	})

	t.Run("occupied slot stays occupied", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.bookings.CreateBooking(context.Background(), uuid.New(), env.request(testNow, 1, 5))
		require.NoError(t, err)

		slot, err := env.slots.UpdateSlotStatus(context.Background(), env.slot.ID, models.SlotStatusAvailable)
		require.NoError(t, err)
		assert.Equal(t, models.SlotStatusOccupied, slot.Status)
	})

	t.Run("occupied cannot be set", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.slots.UpdateSlotStatus(context.Background(), env.slot.ID, models.SlotStatusOccupied)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("unknown slot", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.slots.UpdateSlotStatus(context.Background(), uuid.New(), models.SlotStatusReserved)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestUpdateSlotRate(t *testing.T) {
	env := newTestEnv(t)

	slot, err := env.slots.UpdateSlotRate(context.Background(), env.slot.ID, 6.257)
	require.NoError(t, err)
	assert.Equal(t, 6.26, slot.HourlyRate)

	_, err = env.slots.UpdateSlotRate(context.Background(), env.slot.ID, -1)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestUpdateSlotRateDuringBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.store.WithSlotLock(ctx, env.slot.ID, func(tx database.SlotTx) error {
		if _, err := tx.SetSlotStatus(ctx, models.SlotStatusReserved, testNow); err != nil {
			return err
		}
		_, err := env.slots.UpdateSlotRate(ctx, env.slot.ID, 9.5)
		return err
	})
	require.NoError(t, err)

	slot, err := env.store.GetSlot(ctx, env.slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 9.5, slot.HourlyRate)
	assert.Equal(t, models.SlotStatusReserved, slot.Status)
}
