package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/audit"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
)

// QueueService answers wait-line queries and voluntary departures. Joining
// the line happens through BookingService.Claim; this service never grants
// capacity.
type QueueService struct {
	queue QueueStore
	clock clock.Clock
	audit audit.Recorder

	idleTimeout time.Duration
}

type QueueServiceOption func(*QueueService)

// WithQueueServiceIdleTimeout sets the inactivity cutoff applied lazily on access.
func WithQueueServiceIdleTimeout(d time.Duration) QueueServiceOption {
	return func(s *QueueService) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithQueueServiceAudit replaces the default log-backed audit recorder.
func WithQueueServiceAudit(rec audit.Recorder) QueueServiceOption {
	return func(s *QueueService) {
		if rec != nil {
			s.audit = rec
		}
	}
}

func NewQueueService(queue QueueStore, clk clock.Clock, opts ...QueueServiceOption) *QueueService {
	svc := &QueueService{
		queue:       queue,
		clock:       clk,
		audit:       audit.NewLog(slog.Default()),
		idleTimeout: defaultQueueIdle,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Position returns the user's 1-based rank and the total number waiting.
func (s *QueueService) Position(ctx context.Context, slotID, userID string) (rank, total int, err error) {
	if slotID == "" || userID == "" {
		return 0, 0, domain.ErrInvalidID
	}
	s.purgeIdle(ctx, slotID)
	return s.queue.Position(ctx, slotID, userID)
}

// Leave removes the user's waiting entry.
func (s *QueueService) Leave(ctx context.Context, slotID, userID string) error {
	if slotID == "" || userID == "" {
		return domain.ErrInvalidID
	}
	if err := s.queue.Remove(ctx, slotID, userID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		Type: audit.EventQueueLeft, UserID: userID, SlotID: slotID, At: s.clock.Now(),
	})
	return nil
}

func (s *QueueService) purgeIdle(ctx context.Context, slotID string) {
	if s.idleTimeout <= 0 {
		return
	}
	now := s.clock.Now()
	n, err := s.queue.PurgeIdle(ctx, slotID, now.Add(-s.idleTimeout))
	if err != nil || n == 0 {
		return
	}
	s.audit.Record(ctx, audit.Event{Type: audit.EventQueuePurged, SlotID: slotID, At: now})
}
