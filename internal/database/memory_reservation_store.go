package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/parkmy/slot-reservation-backend/internal/models"
)

// MemoryReservationStore keeps slots and bookings in process memory. Slot
// transactions are serialized by a per-slot mutex and stage their writes
// until commit, so a failed use case leaves no partial state behind.
type MemoryReservationStore struct {
	mu       sync.RWMutex
	slots    map[uuid.UUID]*models.Slot
	bookings map[uuid.UUID]*models.Booking
	bySlot   map[uuid.UUID][]uuid.UUID

	locksMu   sync.Mutex
	slotLocks map[uuid.UUID]*sync.Mutex

	seq atomic.Int64
}

// NewMemoryReservationStore creates an empty in-memory store
func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{
		slots:     make(map[uuid.UUID]*models.Slot),
		bookings:  make(map[uuid.UUID]*models.Booking),
		bySlot:    make(map[uuid.UUID][]uuid.UUID),
		slotLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryReservationStore) slotLock(slotID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.slotLocks[slotID]
	if !ok {
		lock = &sync.Mutex{}
		s.slotLocks[slotID] = lock
	}
	return lock
}

// WithSlotLock runs fn under the slot's mutex and applies its writes on success
func (s *MemoryReservationStore) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(tx SlotTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	_, ok := s.slots[slotID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	lock := s.slotLock(slotID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memorySlotTx{
		store:  s,
		slotID: slotID,
		staged: make(map[uuid.UUID]*models.Booking),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *MemoryReservationStore) commit(tx *memorySlotTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range tx.staged {
		s.bookings[id] = b
	}
	s.bySlot[tx.slotID] = append(s.bySlot[tx.slotID], tx.created...)
	if tx.slot != nil {
		// rate changes made outside the slot lock must survive the commit
		current := *s.slots[tx.slotID]
		current.Status = tx.slot.Status
		current.UpdatedAt = tx.slot.UpdatedAt
		s.slots[tx.slotID] = &current
	}
}

// ============================================================================
// SLOT TRANSACTION
// ============================================================================

type memorySlotTx struct {
	store   *MemoryReservationStore
	slotID  uuid.UUID
	staged  map[uuid.UUID]*models.Booking
	created []uuid.UUID
	slot    *models.Slot
}

func (tx *memorySlotTx) SlotID() uuid.UUID {
	return tx.slotID
}

func (tx *memorySlotTx) currentSlot() (*models.Slot, error) {
	if tx.slot != nil {
		return tx.slot, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	slot, ok := tx.store.slots[tx.slotID]
	if !ok {
		return nil, ErrNotFound
	}
	return slot, nil
}

// view merges committed bookings of the slot with staged writes
func (tx *memorySlotTx) view() []*models.Booking {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	ids := tx.store.bySlot[tx.slotID]
	out := make([]*models.Booking, 0, len(ids)+len(tx.created))
	for _, id := range ids {
		if staged, ok := tx.staged[id]; ok {
			out = append(out, staged)
			continue
		}
		out = append(out, tx.store.bookings[id])
	}
	for _, id := range tx.created {
		out = append(out, tx.staged[id])
	}
	return out
}

func (tx *memorySlotTx) lookup(id uuid.UUID) (*models.Booking, bool) {
	if b, ok := tx.staged[id]; ok {
		return b, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	b, ok := tx.store.bookings[id]
	if !ok || b.SlotID != tx.slotID {
		return nil, false
	}
	return b, true
}

func (tx *memorySlotTx) GetSlot(ctx context.Context) (*models.Slot, error) {
	slot, err := tx.currentSlot()
	if err != nil {
		return nil, err
	}
	c := *slot
	return &c, nil
}

func (tx *memorySlotTx) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, ok := tx.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (tx *memorySlotTx) CreateIfNoConflict(ctx context.Context, b *models.Booking, blocking []models.BookingStatus) error {
	window := b.Interval()
	for _, existing := range tx.view() {
		if containsStatus(blocking, existing.Status) && existing.Interval().Overlaps(window) {
			return ErrConflict
		}
	}
	return tx.Insert(ctx, b)
}

func (tx *memorySlotTx) Insert(ctx context.Context, b *models.Booking) error {
	if b.SlotID != tx.slotID {
		return fmt.Errorf("booking slot %s does not match locked slot %s", b.SlotID, tx.slotID)
	}
	if _, exists := tx.lookup(b.ID); exists {
		return ErrConflict
	}

	b.Seq = tx.store.seq.Add(1)
	tx.staged[b.ID] = b.Clone()
	tx.created = append(tx.created, b.ID)
	return nil
}

func (tx *memorySlotTx) TransitionStatus(ctx context.Context, id uuid.UUID, expected, next models.BookingStatus, upd models.BookingUpdate) (*models.Booking, error) {
	current, ok := tx.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	if current.Status != expected {
		return nil, ErrStaleState
	}

	updated := current.Clone()
	updated.Status = next
	upd.Apply(updated)
	tx.staged[id] = updated
	return updated.Clone(), nil
}

func (tx *memorySlotTx) FindOverlapping(ctx context.Context, window models.Interval, statuses []models.BookingStatus) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range tx.view() {
		if containsStatus(statuses, b.Status) && b.Interval().Overlaps(window) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (tx *memorySlotTx) FindOldestWaiting(ctx context.Context, window models.Interval, startsAfter time.Time) (*models.Booking, error) {
	all := tx.view()

	var candidates []*models.Booking
	for _, b := range all {
		if b.Status != models.BookingStatusWaiting || !b.StartTime.After(startsAfter) {
			continue
		}
		if !window.Contains(b.Interval()) {
			continue
		}
		if blockedBy(all, b) {
			continue
		}
		candidates = append(candidates, b)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].Seq < candidates[j].Seq
	})
	return candidates[0].Clone(), nil
}

func blockedBy(all []*models.Booking, candidate *models.Booking) bool {
	window := candidate.Interval()
	for _, other := range all {
		if other.ID == candidate.ID {
			continue
		}
		if containsStatus(models.BlockingStatuses, other.Status) && other.Interval().Overlaps(window) {
			return true
		}
	}
	return false
}

func (tx *memorySlotTx) RefreshSlotStatus(ctx context.Context, now time.Time) (*models.Slot, bool, error) {
	slot, err := tx.currentSlot()
	if err != nil {
		return nil, false, err
	}

	occupied := false
	for _, b := range tx.view() {
		if b.OccupiesAt(now) {
			occupied = true
			break
		}
	}

	next := models.SlotStatusAvailable
	switch {
	case occupied:
		next = models.SlotStatusOccupied
	case slot.Status == models.SlotStatusReserved:
		next = models.SlotStatusReserved
	}

	if next == slot.Status {
		c := *slot
		return &c, false, nil
	}

	updated, err := tx.SetSlotStatus(ctx, next, now)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func (tx *memorySlotTx) SetSlotStatus(ctx context.Context, status models.SlotStatus, now time.Time) (*models.Slot, error) {
	slot, err := tx.currentSlot()
	if err != nil {
		return nil, err
	}
	updated := *slot
	updated.Status = status
	updated.UpdatedAt = now
	tx.slot = &updated

	c := updated
	return &c, nil
}

// ============================================================================
// READS & SLOT ADMINISTRATION
// ============================================================================

// GetSlot returns a slot by id
func (s *MemoryReservationStore) GetSlot(ctx context.Context, id uuid.UUID) (*models.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *slot
	return &c, nil
}

// ListSlots returns slots ordered by number
func (s *MemoryReservationStore) ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		if filter.SlotID != nil && slot.ID != *filter.SlotID {
			continue
		}
		if filter.Status != "" && slot.Status != filter.Status {
			continue
		}
		if filter.Category != "" && slot.Category != filter.Category {
			continue
		}
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// CreateSlot inserts a slot; a duplicate number is a conflict
func (s *MemoryReservationStore) CreateSlot(ctx context.Context, slot *models.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[slot.ID]; exists {
		return ErrConflict
	}
	for _, existing := range s.slots {
		if existing.Number == slot.Number {
			return ErrConflict
		}
	}
	c := *slot
	s.slots[slot.ID] = &c
	return nil
}

// UpdateSlotRate changes a slot's hourly rate
func (s *MemoryReservationStore) UpdateSlotRate(ctx context.Context, id uuid.UUID, rate float64, now time.Time) (*models.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := *slot
	updated.HourlyRate = rate
	updated.UpdatedAt = now
	s.slots[id] = &updated

	c := updated
	return &c, nil
}

// GetBooking returns a booking by id
func (s *MemoryReservationStore) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

// ListBookings returns bookings newest first
func (s *MemoryReservationStore) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	s.mu.RLock()
	out := make([]models.Booking, 0)
	for _, b := range s.bookings {
		if filter.UserID != nil && b.UserID != *filter.UserID {
			continue
		}
		if filter.SlotID != nil && b.SlotID != *filter.SlotID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, *b)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []models.Booking{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindConfirmedOverlapping lists upcoming/active bookings overlapping window
func (s *MemoryReservationStore) FindConfirmedOverlapping(ctx context.Context, window models.Interval, slotID *uuid.UUID) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if slotID != nil && b.SlotID != *slotID {
			continue
		}
		if b.Status.IsConfirmed() && b.Interval().Overlaps(window) {
			out = append(out, *b)
		}
	}
	return out, nil
}

// FindDue lists bookings in status whose field is at or before cutoff
func (s *MemoryReservationStore) FindDue(ctx context.Context, status models.BookingStatus, field DueField, cutoff time.Time, limit int) ([]models.Booking, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unknown due field: %s", field)
	}

	s.mu.RLock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.Status != status {
			continue
		}
		at, ok := dueValue(b, field)
		if ok && !at.After(cutoff) {
			out = append(out, *b)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ai, _ := dueValue(&out[i], field)
		aj, _ := dueValue(&out[j], field)
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func dueValue(b *models.Booking, field DueField) (time.Time, bool) {
	switch field {
	case DueByStart:
		return b.StartTime, true
	case DueByEnd:
		return b.EndTime, true
	case DueByAllocationExpiry:
		return b.AllocationExpiresAt.Time, b.AllocationExpiresAt.Valid
	}
	return time.Time{}, false
}

// FindStartingBetween lists bookings in status with start in (from, to]
func (s *MemoryReservationStore) FindStartingBetween(ctx context.Context, status models.BookingStatus, from, to time.Time) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if b.Status == status && b.StartTime.After(from) && !b.StartTime.After(to) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryReservationStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
