package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/audit"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
)

// Lifecycle is the slice of the booking service the sweeps drive.
type Lifecycle interface {
	Expire(ctx context.Context, bookingID string, version int64) error
	Complete(ctx context.Context, bookingID string, version int64) error
}

// DueSource lists bookings whose next transition is owed to the clock.
type DueSource interface {
	DueExpiries(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	DueCompletions(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
}

// DeadLetterSink records sweep items that exhausted their retry budget.
type DeadLetterSink interface {
	Add(ctx context.Context, bookingID, reason string, attempts int) error
}

type retryState struct {
	attempts int
	nextAt   time.Time
}

// Sweeper periodically forces overdue transitions: reserved bookings past
// their window become expired, confirmed bookings whose slot has ended become
// completed. Actions are idempotent; the booking version captured at
// selection time makes a raced sweep a no-op. Per-item failures back off
// exponentially and land in the dead-letter sink after maxAttempts, so a
// permanently failing item degrades to visible instead of retrying forever.
type Sweeper struct {
	source    DueSource
	lifecycle Lifecycle
	dead      DeadLetterSink
	clock     clock.Clock
	audit     audit.Recorder
	logger    *slog.Logger

	interval    time.Duration
	batchSize   int
	maxAttempts int
	retryBase   time.Duration

	retries map[string]*retryState
	// parked holds dead-lettered booking IDs; they stay off the sweep until
	// an operator intervenes (or the process restarts).
	parked map[string]bool
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithSweepMaxAttempts(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithSweepRetryBase(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.retryBase = d
		}
	}
}

func WithSweepAudit(rec audit.Recorder) SweeperOption {
	return func(s *Sweeper) {
		if rec != nil {
			s.audit = rec
		}
	}
}

func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSweeper(source DueSource, lifecycle Lifecycle, dead DeadLetterSink, clk clock.Clock, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		source:      source,
		lifecycle:   lifecycle,
		dead:        dead,
		clock:       clk,
		audit:       audit.NewLog(slog.Default()),
		logger:      slog.Default(),
		interval:    5 * time.Second,
		batchSize:   100,
		maxAttempts: 5,
		retryBase:   time.Second,
		retries:     make(map[string]*retryState),
		parked:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until the context is cancelled. The first sweep fires
// immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one sweep. Exported so tests and operators can drive sweeps
// without the ticker.
func (s *Sweeper) Tick(ctx context.Context) {
	now := s.clock.Now()

	due, err := s.source.DueExpiries(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Warn("expiry scan failed", "error", err)
	} else {
		for _, b := range due {
			s.attempt(ctx, b, now, "expire", func() error {
				return s.lifecycle.Expire(ctx, b.ID, b.Version)
			})
		}
	}

	done, err := s.source.DueCompletions(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Warn("completion scan failed", "error", err)
		return
	}
	for _, b := range done {
		s.attempt(ctx, b, now, "complete", func() error {
			return s.lifecycle.Complete(ctx, b.ID, b.Version)
		})
	}
}

func (s *Sweeper) attempt(ctx context.Context, b domain.Booking, now time.Time, action string, fn func() error) {
	if s.parked[b.ID] {
		return
	}
	rs := s.retries[b.ID]
	if rs != nil && now.Before(rs.nextAt) {
		return
	}

	err := fn()
	if err == nil {
		delete(s.retries, b.ID)
		return
	}

	if rs == nil {
		rs = &retryState{}
		s.retries[b.ID] = rs
	}
	rs.attempts++
	s.logger.Warn("sweep action failed",
		"action", action, "booking_id", b.ID, "attempt", rs.attempts, "error", err)

	if rs.attempts >= s.maxAttempts {
		delete(s.retries, b.ID)
		s.parked[b.ID] = true
		if dlErr := s.dead.Add(ctx, b.ID, action+": "+err.Error(), rs.attempts); dlErr != nil {
			s.logger.Error("dead-letter write failed", "booking_id", b.ID, "error", dlErr)
		}
		s.audit.Record(ctx, audit.Event{
			Type: audit.EventDeadLettered, BookingID: b.ID, SlotID: b.SlotID, At: now,
			Detail: action + " failed after " + strconv.Itoa(rs.attempts) + " attempts: " + err.Error(),
		})
		return
	}

	// Exponential backoff: base, 2x, 4x, ...
	rs.nextAt = now.Add(s.retryBase << (rs.attempts - 1))
}
