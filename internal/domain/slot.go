package domain

import "time"

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusReserved  SlotStatus = "reserved"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusExpired   SlotStatus = "expired"
	SlotStatusBlocked   SlotStatus = "blocked"
)

// Slot is a time-bounded unit with finite concurrent capacity.
type Slot struct {
	ID          string
	StartsAt    time.Time
	EndsAt      time.Time
	Capacity    int
	BookedCount int
	Blocked     bool
	Version     int64
	CreatedAt   time.Time
}

// Status is derived from the counters and the clock; it is never stored.
func (s Slot) Status(now time.Time) SlotStatus {
	switch {
	case s.Blocked:
		return SlotStatusBlocked
	case !now.Before(s.EndsAt):
		return SlotStatusExpired
	case s.BookedCount >= s.Capacity:
		return SlotStatusBooked
	case s.BookedCount > 0:
		return SlotStatusReserved
	default:
		return SlotStatusAvailable
	}
}

// Claimable reports whether new holds may still be placed on the slot.
// Capacity is checked separately, at reservation time.
func (s Slot) Claimable(now time.Time) bool {
	return !s.Blocked && now.Before(s.EndsAt)
}
