package holdstore

import (
	"context"
	"testing"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("acquire is exclusive until released", func(t *testing.T) {
		store := NewMemory(clock.NewFixed(start))

		if err := store.Acquire(ctx, "slot-1:user-a", "b-1", time.Minute); err != nil {
			t.Fatalf("first acquire: %v", err)
		}
		if err := store.Acquire(ctx, "slot-1:user-a", "b-2", time.Minute); err != ErrAlreadyHeld {
			t.Fatalf("expected ErrAlreadyHeld, got %v", err)
		}
		if err := store.Release(ctx, "slot-1:user-a", "b-1"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if err := store.Acquire(ctx, "slot-1:user-a", "b-2", time.Minute); err != nil {
			t.Fatalf("re-acquire after release: %v", err)
		}
	})

	t.Run("release requires matching owner", func(t *testing.T) {
		store := NewMemory(clock.NewFixed(start))

		if err := store.Acquire(ctx, "k", "b-1", time.Minute); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := store.Release(ctx, "k", "someone-else"); err != ErrNotHeld {
			t.Fatalf("expected ErrNotHeld, got %v", err)
		}
		if owner, err := store.Owner(ctx, "k"); err != nil || owner != "b-1" {
			t.Fatalf("hold should survive mismatched release, got %q %v", owner, err)
		}
	})

	t.Run("entries expire with the clock", func(t *testing.T) {
		clk := clock.NewManual(start)
		store := NewMemory(clk)

		if err := store.Acquire(ctx, "k", "b-1", time.Minute); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		clk.Advance(2 * time.Minute)

		if _, err := store.Owner(ctx, "k"); err != ErrNotHeld {
			t.Fatalf("expected ErrNotHeld after ttl, got %v", err)
		}
		if err := store.Acquire(ctx, "k", "b-2", time.Minute); err != nil {
			t.Fatalf("acquire after expiry: %v", err)
		}
	})

	t.Run("extend pushes expiry, requires owner", func(t *testing.T) {
		clk := clock.NewManual(start)
		store := NewMemory(clk)

		if err := store.Acquire(ctx, "k", "b-1", time.Minute); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := store.Extend(ctx, "k", "other", time.Hour); err != ErrNotHeld {
			t.Fatalf("expected ErrNotHeld for foreign extend, got %v", err)
		}
		if err := store.Extend(ctx, "k", "b-1", time.Hour); err != nil {
			t.Fatalf("extend: %v", err)
		}
		clk.Advance(30 * time.Minute)
		if owner, err := store.Owner(ctx, "k"); err != nil || owner != "b-1" {
			t.Fatalf("expected hold alive after extend, got %q %v", owner, err)
		}
	})

	t.Run("keys lists only live holds", func(t *testing.T) {
		clk := clock.NewManual(start)
		store := NewMemory(clk)

		_ = store.Acquire(ctx, "a", "b-1", time.Minute)
		_ = store.Acquire(ctx, "b", "b-2", time.Hour)
		clk.Advance(10 * time.Minute)

		keys, err := store.Keys(ctx)
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if len(keys) != 1 || keys[0] != "b" {
			t.Fatalf("expected only live key b, got %v", keys)
		}
	})
}

func TestKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key := Key("slot-1", "user-a")
	slotID, userID, ok := SplitKey(key)
	if !ok || slotID != "slot-1" || userID != "user-a" {
		t.Fatalf("unexpected split result: %q %q %v", slotID, userID, ok)
	}

	if _, _, ok := SplitKey("no-separator"); ok {
		t.Fatalf("expected split to fail without separator")
	}
}
