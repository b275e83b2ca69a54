package domain

import "errors"

var (
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotNotClaimable  = errors.New("slot not claimable")
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrInvalidCapacity   = errors.New("invalid capacity")
	ErrInvalidTimeRange  = errors.New("invalid time range")

	ErrBookingNotFound        = errors.New("booking not found")
	ErrDuplicateBooking       = errors.New("duplicate active booking")
	ErrBookingExpired         = errors.New("booking expired")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotCancellable         = errors.New("booking not cancellable")
	ErrBusy                   = errors.New("busy, retry later")

	ErrQueueFull = errors.New("queue full")
	ErrNotQueued = errors.New("not queued")

	ErrInvalidID = errors.New("invalid id")
)
