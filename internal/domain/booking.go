package domain

import "time"

type BookingStatus string

const (
	BookingStatusReserved  BookingStatus = "reserved"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusExpired   BookingStatus = "expired"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Terminal reports whether the status accepts no further transitions.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusExpired, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// Booking records one user's lifecycle against one slot, from claim to a
// terminal outcome. Terminal rows are retained for audit, never deleted.
// At most one non-terminal booking may exist per (user, slot) pair.
type Booking struct {
	ID          string
	UserID      string
	SlotID      string
	Status      BookingStatus
	ReservedAt  time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
	CancelledBy string
	Version     int64
}

// Terminal reports whether the booking reached a terminal state.
func (b Booking) Terminal() bool {
	return b.Status.Terminal()
}

var validTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusReserved:  {BookingStatusConfirmed, BookingStatusExpired},
	BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusCompleted},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
