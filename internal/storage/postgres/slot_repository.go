package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SlotRepository struct {
	pool *pgxpool.Pool
}

func NewSlotRepository(pool *pgxpool.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const slotColumns = `id, starts_at, ends_at, capacity, booked_count, blocked, version, created_at`

func (r *SlotRepository) GetSlot(ctx context.Context, slotID string) (domain.Slot, error) {
	var s domain.Slot
	err := queryRow(ctx, r.pool, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, slotID).
		Scan(&s.ID, &s.StartsAt, &s.EndsAt, &s.Capacity, &s.BookedCount, &s.Blocked, &s.Version, &s.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Slot{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Slot{}, domain.ErrSlotNotFound
		}
		return domain.Slot{}, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

// TryReserveCapacity is the only incrementer of booked_count. The guarded
// UPDATE is a single compare-and-swap; concurrent callers race on the row and
// at most capacity of them ever succeed.
func (r *SlotRepository) TryReserveCapacity(ctx context.Context, slotID string, now time.Time) error {
	const stmt = `
UPDATE slots
SET booked_count = booked_count + 1, version = version + 1
WHERE id = $1 AND NOT blocked AND ends_at > $2 AND booked_count < capacity`

	tag, err := exec(ctx, r.pool, stmt, slotID, now)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("reserve capacity: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// The swap failed; re-read to report why.
	slot, err := r.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if !slot.Claimable(now) {
		return domain.ErrSlotNotClaimable
	}
	return domain.ErrCapacityExhausted
}

// ReleaseCapacity decrements booked_count, never below zero. Releasing an
// already-empty slot is a no-op so the unwind paths stay idempotent.
func (r *SlotRepository) ReleaseCapacity(ctx context.Context, slotID string) error {
	const stmt = `
UPDATE slots
SET booked_count = booked_count - 1, version = version + 1
WHERE id = $1 AND booked_count > 0`

	if _, err := exec(ctx, r.pool, stmt, slotID); err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("release capacity: %w", err)
	}
	return nil
}

func (r *SlotRepository) CreateSlot(ctx context.Context, slot domain.Slot) error {
	const stmt = `
INSERT INTO slots (id, starts_at, ends_at, capacity, booked_count, blocked, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := exec(ctx, r.pool, stmt,
		slot.ID, slot.StartsAt, slot.EndsAt, slot.Capacity, slot.BookedCount, slot.Blocked, slot.Version, slot.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create slot: %w", err)
	}
	return nil
}

func (r *SlotRepository) SetBlocked(ctx context.Context, slotID string, blocked bool) error {
	const stmt = `UPDATE slots SET blocked = $2, version = version + 1 WHERE id = $1`

	tag, err := exec(ctx, r.pool, stmt, slotID, blocked)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("set blocked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSlotNotFound
	}
	return nil
}

func (r *SlotRepository) ListSlots(ctx context.Context, limit int) ([]domain.Slot, error) {
	rows, err := query(ctx, r.pool, `SELECT `+slotColumns+` FROM slots ORDER BY starts_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var out []domain.Slot
	for rows.Next() {
		var s domain.Slot
		if err := rows.Scan(&s.ID, &s.StartsAt, &s.EndsAt, &s.Capacity, &s.BookedCount, &s.Blocked, &s.Version, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
