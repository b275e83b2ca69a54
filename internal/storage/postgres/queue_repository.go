package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type QueueRepository struct {
	pool *pgxpool.Pool
}

func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

func (r *QueueRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// Enqueue inserts a waiting entry. A duplicate (slot, user) insert is a no-op
// unless the old entry already reached a terminal state, in which case the
// user re-joins at the back of the line.
func (r *QueueRepository) Enqueue(ctx context.Context, e domain.QueueEntry) error {
	const stmt = `
INSERT INTO queue_entries (slot_id, user_id, joined_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (slot_id, user_id) DO UPDATE
SET joined_at = EXCLUDED.joined_at, status = EXCLUDED.status
WHERE queue_entries.status IN ('expired', 'converted')`

	if _, err := exec(ctx, r.pool, stmt, e.SlotID, e.UserID, e.JoinedAt, e.Status); err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Find returns the entry for (slot, user) regardless of status, or nil.
func (r *QueueRepository) Find(ctx context.Context, slotID, userID string) (*domain.QueueEntry, error) {
	const q = `
SELECT slot_id, user_id, joined_at, status
FROM queue_entries
WHERE slot_id = $1 AND user_id = $2`

	var e domain.QueueEntry
	err := queryRow(ctx, r.pool, q, slotID, userID).Scan(&e.SlotID, &e.UserID, &e.JoinedAt, &e.Status)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find queue entry: %w", err)
	}
	return &e, nil
}

func (r *QueueRepository) CountWaiting(ctx context.Context, slotID string) (int, error) {
	var n int
	err := queryRow(ctx, r.pool,
		`SELECT COUNT(*) FROM queue_entries WHERE slot_id = $1 AND status = 'waiting'`, slotID).Scan(&n)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return n, nil
}

// Position returns the 1-based rank of a waiting user and the total number of
// waiting entries for the slot.
func (r *QueueRepository) Position(ctx context.Context, slotID, userID string) (rank, total int, err error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM queue_entries q2
	 WHERE q2.slot_id = q.slot_id AND q2.status = 'waiting' AND q2.joined_at <= q.joined_at),
	(SELECT COUNT(*) FROM queue_entries q3
	 WHERE q3.slot_id = q.slot_id AND q3.status = 'waiting')
FROM queue_entries q
WHERE q.slot_id = $1 AND q.user_id = $2 AND q.status = 'waiting'`

	err = queryRow(ctx, r.pool, q, slotID, userID).Scan(&rank, &total)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, 0, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return 0, 0, domain.ErrNotQueued
		}
		return 0, 0, fmt.Errorf("queue position: %w", err)
	}
	return rank, total, nil
}

func (r *QueueRepository) Remove(ctx context.Context, slotID, userID string) error {
	const stmt = `
DELETE FROM queue_entries
WHERE slot_id = $1 AND user_id = $2 AND status IN ('waiting', 'notified')`

	tag, err := exec(ctx, r.pool, stmt, slotID, userID)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("leave queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotQueued
	}
	return nil
}

// DequeueFront atomically claims the oldest waiting entry and marks it
// notified. SKIP LOCKED keeps concurrent promoters from popping the same user.
// Returns nil when the queue is empty.
func (r *QueueRepository) DequeueFront(ctx context.Context, slotID string) (*domain.QueueEntry, error) {
	const stmt = `
UPDATE queue_entries
SET status = 'notified'
WHERE (slot_id, user_id) IN (
	SELECT slot_id, user_id
	FROM queue_entries
	WHERE slot_id = $1 AND status = 'waiting'
	ORDER BY joined_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING slot_id, user_id, joined_at, status`

	var e domain.QueueEntry
	err := queryRow(ctx, r.pool, stmt, slotID).Scan(&e.SlotID, &e.UserID, &e.JoinedAt, &e.Status)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue front: %w", err)
	}
	return &e, nil
}

func (r *QueueRepository) SetStatus(ctx context.Context, slotID, userID string, status domain.QueueEntryStatus) error {
	const stmt = `UPDATE queue_entries SET status = $3 WHERE slot_id = $1 AND user_id = $2`

	tag, err := exec(ctx, r.pool, stmt, slotID, userID, status)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("set queue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotQueued
	}
	return nil
}

// PurgeIdle marks waiting entries older than cutoff as expired. Called lazily
// from the access paths rather than by a dedicated job. Notified entries age
// out the same way, so one stranded by a crashed promoter does not linger
// forever.
func (r *QueueRepository) PurgeIdle(ctx context.Context, slotID string, cutoff time.Time) (int, error) {
	const stmt = `
UPDATE queue_entries
SET status = 'expired'
WHERE slot_id = $1 AND status IN ('waiting', 'notified') AND joined_at < $2`

	tag, err := exec(ctx, r.pool, stmt, slotID, cutoff)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("purge idle entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
