package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeadLetter is an expiry action that exhausted its retry budget and needs
// operator attention.
type DeadLetter struct {
	BookingID string
	Reason    string
	Attempts  int
	CreatedAt time.Time
}

type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

func (r *DeadLetterRepository) Add(ctx context.Context, bookingID, reason string, attempts int) error {
	const stmt = `
INSERT INTO dead_letters (booking_id, reason, attempts)
VALUES ($1, $2, $3)
ON CONFLICT (booking_id) DO UPDATE
SET reason = EXCLUDED.reason, attempts = EXCLUDED.attempts`

	if _, err := exec(ctx, r.pool, stmt, bookingID, reason, attempts); err != nil {
		return fmt.Errorf("add dead letter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	rows, err := query(ctx, r.pool,
		`SELECT booking_id, reason, attempts, created_at FROM dead_letters ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.BookingID, &d.Reason, &d.Attempts, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
