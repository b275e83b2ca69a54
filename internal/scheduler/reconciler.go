package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/audit"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/holdstore"
)

// BookingIndex is the slice of the booking repository reconciliation reads.
type BookingIndex interface {
	ListByStatus(ctx context.Context, status domain.BookingStatus, limit int) ([]domain.Booking, error)
	FindActive(ctx context.Context, userID, slotID string) (*domain.Booking, error)
}

// Reconciler restores the hold/booking co-existence invariant after partial
// failures: a reserved booking must have a live hold, and a live hold must
// back a reserved booking. It is the backstop for a process that died between
// hold acquisition and booking creation, or the reverse.
type Reconciler struct {
	bookings  BookingIndex
	holds     holdstore.Store
	lifecycle Lifecycle
	clock     clock.Clock
	audit     audit.Recorder
	logger    *slog.Logger

	interval  time.Duration
	batchSize int
}

type ReconcilerOption func(*Reconciler)

func WithReconcileInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithReconcileBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithReconcileAudit(rec audit.Recorder) ReconcilerOption {
	return func(r *Reconciler) {
		if rec != nil {
			r.audit = rec
		}
	}
}

func WithReconcileLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewReconciler(bookings BookingIndex, holds holdstore.Store, lifecycle Lifecycle, clk clock.Clock, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		bookings:  bookings,
		holds:     holds,
		lifecycle: lifecycle,
		clock:     clk,
		audit:     audit.NewLog(slog.Default()),
		logger:    slog.Default(),
		interval:  time.Minute,
		batchSize: 500,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs both repair passes once.
func (r *Reconciler) Tick(ctx context.Context) {
	r.expireHoldless(ctx)
	r.dropOrphanHolds(ctx)
}

// expireHoldless forces reserved bookings with no live hold through expiry.
// The hold either timed out in the store or was lost to a crash; either way
// the mutual-exclusion proof is gone and the reservation cannot stand.
func (r *Reconciler) expireHoldless(ctx context.Context) {
	reserved, err := r.bookings.ListByStatus(ctx, domain.BookingStatusReserved, r.batchSize)
	if err != nil {
		r.logger.Warn("reconcile booking scan failed", "error", err)
		return
	}

	for _, b := range reserved {
		key := holdstore.Key(b.SlotID, b.UserID)
		_, err := r.holds.Owner(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, holdstore.ErrNotHeld) {
			r.logger.Warn("reconcile hold check failed", "booking_id", b.ID, "error", err)
			continue
		}

		if err := r.lifecycle.Expire(ctx, b.ID, b.Version); err != nil {
			r.logger.Warn("reconcile expire failed", "booking_id", b.ID, "error", err)
			continue
		}
		r.audit.Record(ctx, audit.Event{
			Type: audit.EventBookingExpired, UserID: b.UserID, SlotID: b.SlotID, BookingID: b.ID,
			At: r.clock.Now(), Detail: "reconciled: reserved without live hold",
		})
	}
}

// dropOrphanHolds deletes holds that no reserved booking backs.
func (r *Reconciler) dropOrphanHolds(ctx context.Context) {
	keys, err := r.holds.Keys(ctx)
	if err != nil {
		r.logger.Warn("reconcile hold scan failed", "error", err)
		return
	}

	for _, key := range keys {
		slotID, userID, ok := holdstore.SplitKey(key)
		if !ok {
			continue
		}

		booking, err := r.bookings.FindActive(ctx, userID, slotID)
		if err != nil {
			r.logger.Warn("reconcile booking lookup failed", "key", key, "error", err)
			continue
		}
		if booking != nil && booking.Status == domain.BookingStatusReserved {
			continue
		}

		owner, err := r.holds.Owner(ctx, key)
		if err != nil {
			continue
		}
		if err := r.holds.Release(ctx, key, owner); err != nil && !errors.Is(err, holdstore.ErrNotHeld) {
			r.logger.Warn("reconcile hold release failed", "key", key, "error", err)
			continue
		}
		r.audit.Record(ctx, audit.Event{
			Type: audit.EventHoldOrphaned, UserID: userID, SlotID: slotID,
			At: r.clock.Now(), Detail: "orphan hold removed",
		})
	}
}
