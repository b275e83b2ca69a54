package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/storage/postgres"
	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/testutil"
)

func TestWithTx(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	bookings := postgres.NewBookingRepository(pool)
	slots := postgres.NewSlotRepository(pool)

	t.Run("an error rolls both writes back", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		slotID := testutil.InsertSlot(t, ctx, pool, 1)
		if err := slots.TryReserveCapacity(ctx, slotID, time.Now()); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		b := reservedBooking(slotID, "user-a", time.Now().Add(5*time.Minute))
		testutil.InsertBooking(t, ctx, pool, b)

		boom := errors.New("boom")
		err := bookings.WithTx(ctx, func(txCtx context.Context) error {
			if _, err := bookings.MarkExpired(txCtx, b.ID, b.Version); err != nil {
				return err
			}
			if err := slots.ReleaseCapacity(txCtx, slotID); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the injected error, got %v", err)
		}

		current, err := bookings.GetBooking(ctx, b.ID)
		if err != nil || current.Status != domain.BookingStatusReserved {
			t.Fatalf("expected booking untouched, got %+v %v", current, err)
		}
		slot, err := slots.GetSlot(ctx, slotID)
		if err != nil || slot.BookedCount != 1 {
			t.Fatalf("expected capacity untouched, got %+v %v", slot, err)
		}
	})

	t.Run("both repositories commit together", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		slotID := testutil.InsertSlot(t, ctx, pool, 1)
		if err := slots.TryReserveCapacity(ctx, slotID, time.Now()); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		b := reservedBooking(slotID, "user-a", time.Now().Add(5*time.Minute))
		testutil.InsertBooking(t, ctx, pool, b)

		err := bookings.WithTx(ctx, func(txCtx context.Context) error {
			if _, err := bookings.MarkExpired(txCtx, b.ID, b.Version); err != nil {
				return err
			}
			return slots.ReleaseCapacity(txCtx, slotID)
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}

		current, err := bookings.GetBooking(ctx, b.ID)
		if err != nil || current.Status != domain.BookingStatusExpired {
			t.Fatalf("expected expired booking, got %+v %v", current, err)
		}
		slot, err := slots.GetSlot(ctx, slotID)
		if err != nil || slot.BookedCount != 0 {
			t.Fatalf("expected capacity released, got %+v %v", slot, err)
		}
	})

	t.Run("nested calls share the outer transaction", func(t *testing.T) {
		testutil.TruncateAll(t, ctx, pool)
		slotID := testutil.InsertSlot(t, ctx, pool, 1)

		boom := errors.New("boom")
		err := slots.WithTx(ctx, func(outer context.Context) error {
			return slots.WithTx(outer, func(inner context.Context) error {
				if err := slots.SetBlocked(inner, slotID, true); err != nil {
					return err
				}
				return boom
			})
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the injected error, got %v", err)
		}
		slot, err := slots.GetSlot(ctx, slotID)
		if err != nil || slot.Blocked {
			t.Fatalf("expected block rolled back, got %+v %v", slot, err)
		}
	})
}
