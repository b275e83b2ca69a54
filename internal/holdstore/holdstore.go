package holdstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrAlreadyHeld is returned by Acquire when the key is held by someone else.
	ErrAlreadyHeld = errors.New("hold already held")
	// ErrNotHeld is returned when the key is absent or owned by a different value.
	ErrNotHeld = errors.New("hold not held")
)

// Store is the mutual-exclusion backing for reserved bookings. Any key-value
// store with atomic set-if-absent-with-expiry and compare-and-delete satisfies
// the contract; entries vanish on their own once the TTL passes, which is what
// keeps a crashed process from wedging a slot forever.
type Store interface {
	// Acquire sets key -> owner if absent, with the given TTL.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) error
	// Release deletes key only if it still maps to owner.
	Release(ctx context.Context, key, owner string) error
	// Extend resets the TTL only if key still maps to owner.
	Extend(ctx context.Context, key, owner string, ttl time.Duration) error
	// Owner returns the current owner of key, or ErrNotHeld.
	Owner(ctx context.Context, key string) (string, error)
	// Keys lists the currently live hold keys.
	Keys(ctx context.Context) ([]string, error)
}

// Key builds the hold key for a (slot, user) pair.
func Key(slotID, userID string) string {
	return slotID + ":" + userID
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (slotID, userID string, ok bool) {
	slotID, userID, ok = strings.Cut(key, ":")
	if slotID == "" || userID == "" {
		return "", "", false
	}
	return slotID, userID, ok
}
