package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventBookingReserved  EventType = "booking.reserved"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingExpired   EventType = "booking.expired"
	EventBookingCompleted EventType = "booking.completed"

	EventQueueJoined   EventType = "queue.joined"
	EventQueueLeft     EventType = "queue.left"
	EventQueuePromoted EventType = "queue.promoted"
	EventQueueDropped  EventType = "queue.dropped"
	EventQueuePurged   EventType = "queue.purged"

	EventHoldAcquired EventType = "hold.acquired"
	EventHoldReleased EventType = "hold.released"
	EventHoldOrphaned EventType = "hold.orphaned"

	EventTransitionRejected EventType = "transition.rejected"
	EventDeadLettered       EventType = "expiry.dead_lettered"
)

// Event is one structured audit record: a transition, a queue movement, or a
// hold lifecycle action.
type Event struct {
	Type      EventType
	Actor     string
	UserID    string
	SlotID    string
	BookingID string
	From      string
	To        string
	At        time.Time
	Detail    string
}

// Recorder receives audit events. Recording must never fail the operation
// being audited.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// LogRecorder writes events as structured log lines.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, ev Event) {
	attrs := []slog.Attr{
		slog.String("type", string(ev.Type)),
		slog.Time("at", ev.At),
	}
	if ev.Actor != "" {
		attrs = append(attrs, slog.String("actor", ev.Actor))
	}
	if ev.UserID != "" {
		attrs = append(attrs, slog.String("user_id", ev.UserID))
	}
	if ev.SlotID != "" {
		attrs = append(attrs, slog.String("slot_id", ev.SlotID))
	}
	if ev.BookingID != "" {
		attrs = append(attrs, slog.String("booking_id", ev.BookingID))
	}
	if ev.From != "" || ev.To != "" {
		attrs = append(attrs, slog.String("from", ev.From), slog.String("to", ev.To))
	}
	if ev.Detail != "" {
		attrs = append(attrs, slog.String("detail", ev.Detail))
	}

	level := slog.LevelInfo
	switch ev.Type {
	case EventTransitionRejected:
		level = slog.LevelWarn
	case EventDeadLettered:
		level = slog.LevelError
	}
	r.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// MemoryRecorder collects events for assertions in tests.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// ByType filters recorded events by type.
func (r *MemoryRecorder) ByType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
