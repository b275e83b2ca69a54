package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/holdstore"
)

// failingHoldStore wraps a Store with an injectable Release error.
type failingHoldStore struct {
	holdstore.Store
	releaseErr error
}

func (f *failingHoldStore) Release(ctx context.Context, key, owner string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	return f.Store.Release(ctx, key, owner)
}

type fakeSlotStore struct {
	mu    sync.Mutex
	slots map[string]*domain.Slot
}

func newFakeSlotStore(slots ...domain.Slot) *fakeSlotStore {
	f := &fakeSlotStore{slots: make(map[string]*domain.Slot)}
	for i := range slots {
		s := slots[i]
		f.slots[s.ID] = &s
	}
	return f
}

func (f *fakeSlotStore) GetSlot(_ context.Context, slotID string) (domain.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	return *s, nil
}

func (f *fakeSlotStore) TryReserveCapacity(_ context.Context, slotID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	if !s.Claimable(now) {
		return domain.ErrSlotNotClaimable
	}
	if s.BookedCount >= s.Capacity {
		return domain.ErrCapacityExhausted
	}
	s.BookedCount++
	s.Version++
	return nil
}

func (f *fakeSlotStore) ReleaseCapacity(_ context.Context, slotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	if s.BookedCount > 0 {
		s.BookedCount--
		s.Version++
	}
	return nil
}

func (f *fakeSlotStore) CreateSlot(_ context.Context, slot domain.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slot.ID] = &slot
	return nil
}

func (f *fakeSlotStore) SetBlocked(_ context.Context, slotID string, blocked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	s.Blocked = blocked
	s.Version++
	return nil
}

func (f *fakeSlotStore) ListSlots(_ context.Context, limit int) ([]domain.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Slot, 0, len(f.slots))
	for _, s := range f.slots {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSlotStore) bookedCount(slotID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[slotID].BookedCount
}

type fakeBookingRepo struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{bookings: make(map[string]*domain.Booking)}
}

func (f *fakeBookingRepo) GetBooking(_ context.Context, bookingID string) (domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return *b, nil
}

func (f *fakeBookingRepo) FindActive(_ context.Context, userID, slotID string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.UserID == userID && b.SlotID == slotID && !b.Terminal() {
			copied := *b
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeBookingRepo) CreateReserved(_ context.Context, b domain.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.bookings {
		if existing.UserID == b.UserID && existing.SlotID == b.SlotID && !existing.Terminal() {
			return domain.ErrDuplicateBooking
		}
	}
	f.bookings[b.ID] = &b
	return nil
}

func (f *fakeBookingRepo) transition(bookingID string, version int64, from domain.BookingStatus, apply func(*domain.Booking)) (domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if b.Version != version || b.Status != from {
		return domain.Booking{}, domain.ErrConcurrentModification
	}
	apply(b)
	b.Version++
	return *b, nil
}

func (f *fakeBookingRepo) MarkConfirmed(_ context.Context, bookingID string, version int64, at time.Time) (domain.Booking, error) {
	return f.transition(bookingID, version, domain.BookingStatusReserved, func(b *domain.Booking) {
		b.Status = domain.BookingStatusConfirmed
		b.ConfirmedAt = &at
	})
}

func (f *fakeBookingRepo) MarkExpired(_ context.Context, bookingID string, version int64) (domain.Booking, error) {
	return f.transition(bookingID, version, domain.BookingStatusReserved, func(b *domain.Booking) {
		b.Status = domain.BookingStatusExpired
	})
}

func (f *fakeBookingRepo) MarkCancelled(_ context.Context, bookingID string, version int64, actor string, at time.Time) (domain.Booking, error) {
	return f.transition(bookingID, version, domain.BookingStatusConfirmed, func(b *domain.Booking) {
		b.Status = domain.BookingStatusCancelled
		b.CancelledAt = &at
		b.CancelledBy = actor
	})
}

func (f *fakeBookingRepo) MarkCompleted(_ context.Context, bookingID string, version int64, at time.Time) (domain.Booking, error) {
	return f.transition(bookingID, version, domain.BookingStatusConfirmed, func(b *domain.Booking) {
		b.Status = domain.BookingStatusCompleted
		b.CompletedAt = &at
	})
}

// fakeTransactor has no transaction to bind; it counts invocations so tests
// can assert the paired writes go through it.
type fakeTransactor struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return fn(ctx)
}

type fakeQueueStore struct {
	mu      sync.Mutex
	entries []*domain.QueueEntry
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{}
}

func (f *fakeQueueStore) find(slotID, userID string) *domain.QueueEntry {
	for _, e := range f.entries {
		if e.SlotID == slotID && e.UserID == userID {
			return e
		}
	}
	return nil
}

func (f *fakeQueueStore) Enqueue(_ context.Context, entry domain.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.find(entry.SlotID, entry.UserID); existing != nil {
		if existing.Status == domain.QueueEntryStatusExpired || existing.Status == domain.QueueEntryStatusConverted {
			existing.JoinedAt = entry.JoinedAt
			existing.Status = entry.Status
		}
		return nil
	}
	f.entries = append(f.entries, &entry)
	return nil
}

func (f *fakeQueueStore) Find(_ context.Context, slotID, userID string) (*domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(slotID, userID)
	if e == nil {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (f *fakeQueueStore) waiting(slotID string) []*domain.QueueEntry {
	var out []*domain.QueueEntry
	for _, e := range f.entries {
		if e.SlotID == slotID && e.Status == domain.QueueEntryStatusWaiting {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (f *fakeQueueStore) CountWaiting(_ context.Context, slotID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiting(slotID)), nil
}

func (f *fakeQueueStore) Position(_ context.Context, slotID, userID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	waiting := f.waiting(slotID)
	for i, e := range waiting {
		if e.UserID == userID {
			return i + 1, len(waiting), nil
		}
	}
	return 0, 0, domain.ErrNotQueued
}

func (f *fakeQueueStore) Remove(_ context.Context, slotID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.SlotID == slotID && e.UserID == userID &&
			(e.Status == domain.QueueEntryStatusWaiting || e.Status == domain.QueueEntryStatusNotified) {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotQueued
}

func (f *fakeQueueStore) DequeueFront(_ context.Context, slotID string) (*domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	waiting := f.waiting(slotID)
	if len(waiting) == 0 {
		return nil, nil
	}
	waiting[0].Status = domain.QueueEntryStatusNotified
	copied := *waiting[0]
	return &copied, nil
}

func (f *fakeQueueStore) SetStatus(_ context.Context, slotID, userID string, status domain.QueueEntryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(slotID, userID)
	if e == nil {
		return domain.ErrNotQueued
	}
	e.Status = status
	return nil
}

func (f *fakeQueueStore) PurgeIdle(_ context.Context, slotID string, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.SlotID == slotID && e.JoinedAt.Before(cutoff) &&
			(e.Status == domain.QueueEntryStatusWaiting || e.Status == domain.QueueEntryStatusNotified) {
			e.Status = domain.QueueEntryStatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) status(slotID, userID string) domain.QueueEntryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(slotID, userID)
	if e == nil {
		return ""
	}
	return e.Status
}
