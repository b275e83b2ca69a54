package app

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/audit"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/holdstore"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/notify"
)

type BookingRepository interface {
	GetBooking(ctx context.Context, bookingID string) (domain.Booking, error)
	FindActive(ctx context.Context, userID, slotID string) (*domain.Booking, error)
	CreateReserved(ctx context.Context, b domain.Booking) error
	MarkConfirmed(ctx context.Context, bookingID string, version int64, at time.Time) (domain.Booking, error)
	MarkExpired(ctx context.Context, bookingID string, version int64) (domain.Booking, error)
	MarkCancelled(ctx context.Context, bookingID string, version int64, actor string, at time.Time) (domain.Booking, error)
	MarkCompleted(ctx context.Context, bookingID string, version int64, at time.Time) (domain.Booking, error)
}

// Transactor binds the statements issued inside fn to one store transaction.
// The postgres repositories all satisfy it and share the bound transaction
// through the context.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// passthroughTx runs fn directly; used when the backing stores do not share
// a transactional store.
type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type SlotStore interface {
	GetSlot(ctx context.Context, slotID string) (domain.Slot, error)
	TryReserveCapacity(ctx context.Context, slotID string, now time.Time) error
	ReleaseCapacity(ctx context.Context, slotID string) error
}

type QueueStore interface {
	Enqueue(ctx context.Context, e domain.QueueEntry) error
	Find(ctx context.Context, slotID, userID string) (*domain.QueueEntry, error)
	CountWaiting(ctx context.Context, slotID string) (int, error)
	Position(ctx context.Context, slotID, userID string) (rank, total int, err error)
	Remove(ctx context.Context, slotID, userID string) error
	DequeueFront(ctx context.Context, slotID string) (*domain.QueueEntry, error)
	SetStatus(ctx context.Context, slotID, userID string, status domain.QueueEntryStatus) error
	PurgeIdle(ctx context.Context, slotID string, cutoff time.Time) (int, error)
}

// BookingService owns the booking state machine: claim, confirm, cancel, and
// the forced transitions driven by the background sweeps. Capacity is
// serialized by the slot store's compare-and-swap; the hold store proves each
// individual claimant's window; the booking version is the safety net under
// both.
type BookingService struct {
	bookings BookingRepository
	slots    SlotStore
	queue    QueueStore
	holds    holdstore.Store
	clock    clock.Clock
	audit    audit.Recorder
	notifier notify.Notifier
	tx       Transactor
	logger   *slog.Logger

	holdTTL      time.Duration
	queueMaxSize int
	queueIdle    time.Duration
	cancelWindow time.Duration
}

const (
	defaultHoldTTL      = 5 * time.Minute
	defaultQueueMaxSize = 100
	defaultQueueIdle    = 30 * time.Minute
)

type BookingServiceOption func(*BookingService)

// WithHoldTTL overrides the confirmation window for new claims.
func WithHoldTTL(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithQueueMaxSize caps the number of waiting users per slot.
func WithQueueMaxSize(n int) BookingServiceOption {
	return func(s *BookingService) {
		if n > 0 {
			s.queueMaxSize = n
		}
	}
}

// WithQueueIdleTimeout sets how long a waiting entry survives without the
// user being promoted or checking in.
func WithQueueIdleTimeout(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if d > 0 {
			s.queueIdle = d
		}
	}
}

// WithCancelWindow moves the cancellation cutoff earlier than the slot start.
func WithCancelWindow(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if d >= 0 {
			s.cancelWindow = d
		}
	}
}

// WithTransactor makes the booking and slot writes of cancel and expire
// atomic. Pass any of the postgres repositories.
func WithTransactor(tx Transactor) BookingServiceOption {
	return func(s *BookingService) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) BookingServiceOption {
	return func(s *BookingService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAudit replaces the default log-backed audit recorder.
func WithAudit(rec audit.Recorder) BookingServiceOption {
	return func(s *BookingService) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithNotifier replaces the default no-op notifier.
func WithNotifier(n notify.Notifier) BookingServiceOption {
	return func(s *BookingService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func NewBookingService(bookings BookingRepository, slots SlotStore, queue QueueStore, holds holdstore.Store, clk clock.Clock, opts ...BookingServiceOption) *BookingService {
	svc := &BookingService{
		bookings:     bookings,
		slots:        slots,
		queue:        queue,
		holds:        holds,
		clock:        clk,
		audit:        audit.NewLog(slog.Default()),
		notifier:     notify.Noop{},
		tx:           passthroughTx{},
		logger:       slog.Default(),
		holdTTL:      defaultHoldTTL,
		queueMaxSize: defaultQueueMaxSize,
		queueIdle:    defaultQueueIdle,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type ClaimOutcome string

const (
	ClaimOutcomeReserved ClaimOutcome = "reserved"
	ClaimOutcomeQueued   ClaimOutcome = "queued"
)

type ClaimResult struct {
	Outcome ClaimOutcome
	// Booking is set when Outcome is reserved.
	Booking domain.Booking
	// Position and Waiting are set when Outcome is queued.
	Position int
	Waiting  int
}

// Claim attempts to reserve one capacity unit of the slot for the user.
// Contention is not an error: when capacity is exhausted the user joins the
// slot's wait line and gets a queued result. Claim is idempotent per
// (user, slot) while a non-terminal booking exists.
func (s *BookingService) Claim(ctx context.Context, userID, slotID string) (ClaimResult, error) {
	if userID == "" || slotID == "" {
		return ClaimResult{}, domain.ErrInvalidID
	}

	now := s.clock.Now()
	s.purgeIdle(ctx, slotID, now)

	existing, err := s.bookings.FindActive(ctx, userID, slotID)
	if err != nil {
		return ClaimResult{}, err
	}
	if existing != nil {
		return ClaimResult{Outcome: ClaimOutcomeReserved, Booking: *existing}, nil
	}

	booking, err := s.reserve(ctx, userID, slotID, now)
	if err == nil {
		return ClaimResult{Outcome: ClaimOutcomeReserved, Booking: booking}, nil
	}
	if errors.Is(err, domain.ErrCapacityExhausted) || errors.Is(err, holdstore.ErrAlreadyHeld) {
		return s.enqueue(ctx, userID, slotID, now)
	}
	return ClaimResult{}, err
}

// reserve is the shared claim core: capacity swap, hold acquisition, booking
// insert. Each step that fails unwinds the ones before it; a crash in between
// is repaired by reconciliation.
func (s *BookingService) reserve(ctx context.Context, userID, slotID string, now time.Time) (domain.Booking, error) {
	if err := s.slots.TryReserveCapacity(ctx, slotID, now); err != nil {
		return domain.Booking{}, err
	}

	bookingID := uuid.NewString()
	key := holdstore.Key(slotID, userID)

	if err := s.holds.Acquire(ctx, key, bookingID, s.holdTTL); err != nil {
		_ = s.slots.ReleaseCapacity(ctx, slotID)
		return domain.Booking{}, err
	}
	s.audit.Record(ctx, audit.Event{
		Type: audit.EventHoldAcquired, UserID: userID, SlotID: slotID, BookingID: bookingID, At: now,
	})

	booking := domain.Booking{
		ID:         bookingID,
		UserID:     userID,
		SlotID:     slotID,
		Status:     domain.BookingStatusReserved,
		ReservedAt: now,
		ExpiresAt:  now.Add(s.holdTTL),
		Version:    1,
	}

	if err := s.bookings.CreateReserved(ctx, booking); err != nil {
		_ = s.holds.Release(ctx, key, bookingID)
		_ = s.slots.ReleaseCapacity(ctx, slotID)
		if errors.Is(err, domain.ErrDuplicateBooking) {
			// A concurrent claim for the same pair won; hand back its booking.
			if existing, ferr := s.bookings.FindActive(ctx, userID, slotID); ferr == nil && existing != nil {
				return *existing, nil
			}
		}
		return domain.Booking{}, err
	}

	s.audit.Record(ctx, audit.Event{
		Type: audit.EventBookingReserved, UserID: userID, SlotID: slotID, BookingID: bookingID,
		To: string(domain.BookingStatusReserved), At: now,
	})
	s.notifier.Notify(ctx, userID, "booking.reserved", map[string]any{
		"booking_id": bookingID,
		"slot_id":    slotID,
		"expires_at": booking.ExpiresAt,
	})
	return booking, nil
}

func (s *BookingService) enqueue(ctx context.Context, userID, slotID string, now time.Time) (ClaimResult, error) {
	existing, err := s.queue.Find(ctx, slotID, userID)
	if err != nil {
		return ClaimResult{}, err
	}
	if existing != nil {
		switch existing.Status {
		case domain.QueueEntryStatusWaiting:
			// Already in line; keeps their place.
			return s.queuedResult(ctx, slotID, userID)
		case domain.QueueEntryStatusNotified:
			// Dequeued by a promoter that never finished. Back to waiting
			// with the original joined_at.
			if err := s.queue.SetStatus(ctx, slotID, userID, domain.QueueEntryStatusWaiting); err != nil {
				return ClaimResult{}, err
			}
			return s.queuedResult(ctx, slotID, userID)
		}
		// Terminal entries re-join at the back.
	}

	waiting, err := s.queue.CountWaiting(ctx, slotID)
	if err != nil {
		return ClaimResult{}, err
	}
	if waiting >= s.queueMaxSize {
		return ClaimResult{}, domain.ErrQueueFull
	}

	entry := domain.QueueEntry{
		SlotID:   slotID,
		UserID:   userID,
		JoinedAt: now,
		Status:   domain.QueueEntryStatusWaiting,
	}
	if err := s.queue.Enqueue(ctx, entry); err != nil {
		return ClaimResult{}, err
	}

	rank, total, err := s.queue.Position(ctx, slotID, userID)
	if err != nil {
		return ClaimResult{}, err
	}

	s.audit.Record(ctx, audit.Event{
		Type: audit.EventQueueJoined, UserID: userID, SlotID: slotID, At: now,
		Detail: "rank " + strconv.Itoa(rank),
	})
	s.notifier.Notify(ctx, userID, "queue.joined", map[string]any{
		"slot_id":  slotID,
		"position": rank,
	})
	return ClaimResult{Outcome: ClaimOutcomeQueued, Position: rank, Waiting: total}, nil
}

func (s *BookingService) queuedResult(ctx context.Context, slotID, userID string) (ClaimResult, error) {
	rank, total, err := s.queue.Position(ctx, slotID, userID)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Outcome: ClaimOutcomeQueued, Position: rank, Waiting: total}, nil
}

// Confirm converts a reserved booking into a confirmed one inside its
// confirmation window. The caller must present the version it last observed.
// A booking past its window is pushed through the same release path the
// sweeper uses, and ErrBookingExpired is returned instead.
func (s *BookingService) Confirm(ctx context.Context, bookingID string, version int64) (domain.Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}

	now := s.clock.Now()
	if booking.Status != domain.BookingStatusReserved {
		s.rejectTransition(ctx, booking, domain.BookingStatusConfirmed, now)
		return domain.Booking{}, domain.ErrInvalidTransition
	}

	if !now.Before(booking.ExpiresAt) {
		// The sweeper has not run yet; expire it here so the caller sees the
		// same outcome either way.
		if err := s.Expire(ctx, booking.ID, booking.Version); err != nil {
			return domain.Booking{}, err
		}
		return domain.Booking{}, domain.ErrBookingExpired
	}

	updated, err := s.transitionWithRetry(ctx, bookingID, version, domain.BookingStatusReserved, domain.BookingStatusConfirmed,
		func() (domain.Booking, error) {
			return s.bookings.MarkConfirmed(ctx, bookingID, version, now)
		})
	if err != nil {
		return domain.Booking{}, err
	}

	s.releaseHold(ctx, updated, now)
	s.audit.Record(ctx, audit.Event{
		Type: audit.EventBookingConfirmed, Actor: updated.UserID, UserID: updated.UserID,
		SlotID: updated.SlotID, BookingID: updated.ID,
		From: string(domain.BookingStatusReserved), To: string(domain.BookingStatusConfirmed), At: now,
	})
	s.notifier.Notify(ctx, updated.UserID, "booking.confirmed", map[string]any{
		"booking_id": updated.ID,
		"slot_id":    updated.SlotID,
	})
	return updated, nil
}

// Cancel releases a confirmed booking before the slot starts. The freed
// capacity goes to the next waiting user.
func (s *BookingService) Cancel(ctx context.Context, bookingID, actor string, version int64) (domain.Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}

	now := s.clock.Now()
	if booking.Status != domain.BookingStatusConfirmed {
		if booking.Terminal() {
			s.rejectTransition(ctx, booking, domain.BookingStatusCancelled, now)
			return domain.Booking{}, domain.ErrInvalidTransition
		}
		return domain.Booking{}, domain.ErrNotCancellable
	}

	slot, err := s.slots.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !now.Before(slot.StartsAt.Add(-s.cancelWindow)) {
		return domain.Booking{}, domain.ErrNotCancellable
	}

	// The status flip and the capacity release commit together; a crash in
	// between must not leak a capacity unit.
	var updated domain.Booking
	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		b, terr := s.transitionWithRetry(txCtx, bookingID, version, domain.BookingStatusConfirmed, domain.BookingStatusCancelled,
			func() (domain.Booking, error) {
				return s.bookings.MarkCancelled(txCtx, bookingID, version, actor, now)
			})
		if terr != nil {
			return terr
		}
		updated = b
		return s.slots.ReleaseCapacity(txCtx, b.SlotID)
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.audit.Record(ctx, audit.Event{
		Type: audit.EventBookingCancelled, Actor: actor, UserID: updated.UserID,
		SlotID: updated.SlotID, BookingID: updated.ID,
		From: string(domain.BookingStatusConfirmed), To: string(domain.BookingStatusCancelled), At: now,
	})
	s.notifier.Notify(ctx, updated.UserID, "booking.cancelled", map[string]any{
		"booking_id": updated.ID,
		"slot_id":    updated.SlotID,
		"actor":      actor,
	})

	if err := s.promote(ctx, updated.SlotID); err != nil {
		return updated, err
	}
	return updated, nil
}

// Expire forces a reserved booking past its window into the expired state,
// releases its hold and capacity, and offers the freed unit to the wait line.
// The version is an idempotency token: if the booking moved on since the
// caller observed it (the user confirmed in the race window), the call is a
// no-op.
func (s *BookingService) Expire(ctx context.Context, bookingID string, version int64) error {
	var updated domain.Booking
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		b, terr := s.bookings.MarkExpired(txCtx, bookingID, version)
		if terr != nil {
			return terr
		}
		updated = b
		return s.slots.ReleaseCapacity(txCtx, b.SlotID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			return nil
		}
		return err
	}

	now := s.clock.Now()
	s.releaseHold(ctx, updated, now)

	s.audit.Record(ctx, audit.Event{
		Type: audit.EventBookingExpired, UserID: updated.UserID,
		SlotID: updated.SlotID, BookingID: updated.ID,
		From: string(domain.BookingStatusReserved), To: string(domain.BookingStatusExpired), At: now,
	})
	s.notifier.Notify(ctx, updated.UserID, "booking.expired", map[string]any{
		"booking_id": updated.ID,
		"slot_id":    updated.SlotID,
	})
	return s.promote(ctx, updated.SlotID)
}

// Complete moves a confirmed booking whose slot has ended to its terminal
// state. Capacity is not released; the slot is over.
func (s *BookingService) Complete(ctx context.Context, bookingID string, version int64) error {
	now := s.clock.Now()
	updated, err := s.bookings.MarkCompleted(ctx, bookingID, version, now)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			return nil
		}
		return err
	}

	s.audit.Record(ctx, audit.Event{
		Type: audit.EventBookingCompleted, UserID: updated.UserID,
		SlotID: updated.SlotID, BookingID: updated.ID,
		From: string(domain.BookingStatusConfirmed), To: string(domain.BookingStatusCompleted), At: now,
	})
	return nil
}

// promote hands freed capacity to the wait line: pop the oldest waiting user
// and claim on their behalf, repeating past users who lost eligibility, until
// a claim lands or the line is empty. The atomic dequeue guarantees each
// waiting user is offered at most one concurrent attempt.
func (s *BookingService) promote(ctx context.Context, slotID string) error {
	for {
		entry, err := s.queue.DequeueFront(ctx, slotID)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}

		// Already holding an active booking; nothing more to grant.
		if existing, err := s.bookings.FindActive(ctx, entry.UserID, slotID); err == nil && existing != nil {
			_ = s.queue.SetStatus(ctx, slotID, entry.UserID, domain.QueueEntryStatusConverted)
			continue
		}

		now := s.clock.Now()
		booking, err := s.reserve(ctx, entry.UserID, slotID, now)
		switch {
		case err == nil:
			_ = s.queue.SetStatus(ctx, slotID, entry.UserID, domain.QueueEntryStatusConverted)
			s.audit.Record(ctx, audit.Event{
				Type: audit.EventQueuePromoted, UserID: entry.UserID, SlotID: slotID,
				BookingID: booking.ID, At: now,
			})
			s.notifier.Notify(ctx, entry.UserID, "queue.promoted", map[string]any{
				"booking_id": booking.ID,
				"slot_id":    slotID,
				"expires_at": booking.ExpiresAt,
			})
			return nil

		case errors.Is(err, domain.ErrCapacityExhausted) || errors.Is(err, holdstore.ErrAlreadyHeld):
			// Capacity was snatched between release and promotion; the entry
			// keeps its original place in line.
			_ = s.queue.SetStatus(ctx, slotID, entry.UserID, domain.QueueEntryStatusWaiting)
			return nil

		case errors.Is(err, domain.ErrSlotNotClaimable) || errors.Is(err, domain.ErrSlotNotFound):
			// Lost eligibility while waiting; drop rather than re-queue.
			_ = s.queue.SetStatus(ctx, slotID, entry.UserID, domain.QueueEntryStatusExpired)
			s.audit.Record(ctx, audit.Event{
				Type: audit.EventQueueDropped, UserID: entry.UserID, SlotID: slotID, At: now,
				Detail: err.Error(),
			})
			continue

		default:
			_ = s.queue.SetStatus(ctx, slotID, entry.UserID, domain.QueueEntryStatusWaiting)
			return err
		}
	}
}

// transitionRetries bounds the optimistic retry loop on a guarded update
// before the conflict is surfaced to the caller.
const transitionRetries = 3

// transitionWithRetry applies a version-guarded update, distinguishing the
// three ways it can lose: the booking moved to another state (invalid
// transition), the caller's version is stale (concurrent modification), or a
// transient conflict that merits another try. After the retry budget the
// caller gets ErrBusy.
func (s *BookingService) transitionWithRetry(ctx context.Context, bookingID string, version int64, from, to domain.BookingStatus, apply func() (domain.Booking, error)) (domain.Booking, error) {
	for attempt := 0; attempt < transitionRetries; attempt++ {
		updated, err := apply()
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return domain.Booking{}, err
		}

		current, gerr := s.bookings.GetBooking(ctx, bookingID)
		if gerr != nil {
			return domain.Booking{}, gerr
		}
		if current.Status != from {
			s.rejectTransition(ctx, current, to, s.clock.Now())
			return domain.Booking{}, domain.ErrInvalidTransition
		}
		if current.Version != version {
			return domain.Booking{}, domain.ErrConcurrentModification
		}
		// Same state, same version, yet the swap lost; try again.
	}
	return domain.Booking{}, domain.ErrBusy
}

func (s *BookingService) releaseHold(ctx context.Context, b domain.Booking, now time.Time) {
	key := holdstore.Key(b.SlotID, b.UserID)
	err := s.holds.Release(ctx, key, b.ID)
	switch {
	case err == nil:
		s.audit.Record(ctx, audit.Event{
			Type: audit.EventHoldReleased, UserID: b.UserID, SlotID: b.SlotID, BookingID: b.ID, At: now,
		})
	case errors.Is(err, holdstore.ErrNotHeld):
		// Already expired; the store dropped it for us.
	default:
		// The TTL will reap it; the reconciler catches anything left over.
		s.logger.Warn("hold release failed", "booking_id", b.ID, "key", key, "error", err)
	}
}

func (s *BookingService) rejectTransition(ctx context.Context, b domain.Booking, to domain.BookingStatus, now time.Time) {
	s.audit.Record(ctx, audit.Event{
		Type: audit.EventTransitionRejected, UserID: b.UserID, SlotID: b.SlotID, BookingID: b.ID,
		From: string(b.Status), To: string(to), At: now,
	})
}

func (s *BookingService) purgeIdle(ctx context.Context, slotID string, now time.Time) {
	if s.queueIdle <= 0 {
		return
	}
	n, err := s.queue.PurgeIdle(ctx, slotID, now.Add(-s.queueIdle))
	if err != nil || n == 0 {
		return
	}
	s.audit.Record(ctx, audit.Event{
		Type: audit.EventQueuePurged, SlotID: slotID, At: now,
		Detail: strconv.Itoa(n) + " idle entries",
	})
}
