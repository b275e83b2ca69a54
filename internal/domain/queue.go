package domain

import "time"

type QueueEntryStatus string

const (
	QueueEntryStatusWaiting   QueueEntryStatus = "waiting"
	QueueEntryStatusNotified  QueueEntryStatus = "notified"
	QueueEntryStatusExpired   QueueEntryStatus = "expired"
	QueueEntryStatusConverted QueueEntryStatus = "converted"
)

// QueueEntry is one user's place in a slot's FIFO wait line.
// Arrival time alone defines the order; there are no priorities.
type QueueEntry struct {
	SlotID   string
	UserID   string
	JoinedAt time.Time
	Status   QueueEntryStatus
}
