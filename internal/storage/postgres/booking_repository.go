package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const bookingColumns = `id, user_id, slot_id, status, reserved_at, expires_at, confirmed_at, cancelled_at, completed_at, cancelled_by, version`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var cancelledBy *string
	err := row.Scan(&b.ID, &b.UserID, &b.SlotID, &b.Status, &b.ReservedAt, &b.ExpiresAt,
		&b.ConfirmedAt, &b.CancelledAt, &b.CompletedAt, &cancelledBy, &b.Version)
	if err != nil {
		return domain.Booking{}, err
	}
	if cancelledBy != nil {
		b.CancelledBy = *cancelledBy
	}
	return b, nil
}

func (r *BookingRepository) GetBooking(ctx context.Context, bookingID string) (domain.Booking, error) {
	b, err := scanBooking(queryRow(ctx, r.pool, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Booking{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Booking{}, domain.ErrBookingNotFound
		}
		return domain.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// FindActive returns the single non-terminal booking for (user, slot), or nil.
// The partial unique index guarantees there is at most one.
func (r *BookingRepository) FindActive(ctx context.Context, userID, slotID string) (*domain.Booking, error) {
	const q = `
SELECT ` + bookingColumns + `
FROM bookings
WHERE user_id = $1 AND slot_id = $2 AND status IN ('reserved', 'confirmed')`

	b, err := scanBooking(queryRow(ctx, r.pool, q, userID, slotID))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active booking: %w", err)
	}
	return &b, nil
}

func (r *BookingRepository) CreateReserved(ctx context.Context, b domain.Booking) error {
	const stmt = `
INSERT INTO bookings (id, user_id, slot_id, status, reserved_at, expires_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := exec(ctx, r.pool, stmt, b.ID, b.UserID, b.SlotID, b.Status, b.ReservedAt, b.ExpiresAt, b.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateBooking
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// transition applies a version-and-status guarded update. Zero rows affected
// means the caller lost the race; it must re-read to learn why.
func (r *BookingRepository) transition(ctx context.Context, stmt, bookingID string, version int64, args ...any) (domain.Booking, error) {
	all := append([]any{bookingID, version}, args...)
	b, err := scanBooking(queryRow(ctx, r.pool, stmt, all...))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Booking{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Booking{}, domain.ErrConcurrentModification
		}
		return domain.Booking{}, fmt.Errorf("transition booking: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) MarkConfirmed(ctx context.Context, bookingID string, version int64, at time.Time) (domain.Booking, error) {
	const stmt = `
UPDATE bookings
SET status = 'confirmed', confirmed_at = $3, version = version + 1
WHERE id = $1 AND version = $2 AND status = 'reserved'
RETURNING ` + bookingColumns
	return r.transition(ctx, stmt, bookingID, version, at)
}

func (r *BookingRepository) MarkExpired(ctx context.Context, bookingID string, version int64) (domain.Booking, error) {
	const stmt = `
UPDATE bookings
SET status = 'expired', version = version + 1
WHERE id = $1 AND version = $2 AND status = 'reserved'
RETURNING ` + bookingColumns
	return r.transition(ctx, stmt, bookingID, version)
}

func (r *BookingRepository) MarkCancelled(ctx context.Context, bookingID string, version int64, actor string, at time.Time) (domain.Booking, error) {
	const stmt = `
UPDATE bookings
SET status = 'cancelled', cancelled_at = $4, cancelled_by = $3, version = version + 1
WHERE id = $1 AND version = $2 AND status = 'confirmed'
RETURNING ` + bookingColumns
	return r.transition(ctx, stmt, bookingID, version, actor, at)
}

func (r *BookingRepository) MarkCompleted(ctx context.Context, bookingID string, version int64, at time.Time) (domain.Booking, error) {
	const stmt = `
UPDATE bookings
SET status = 'completed', completed_at = $3, version = version + 1
WHERE id = $1 AND version = $2 AND status = 'confirmed'
RETURNING ` + bookingColumns
	return r.transition(ctx, stmt, bookingID, version, at)
}

// DueExpiries lists reserved bookings whose confirmation window has closed,
// oldest first. Served by the (status, expires_at) index.
func (r *BookingRepository) DueExpiries(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	const q = `
SELECT ` + bookingColumns + `
FROM bookings
WHERE status = 'reserved' AND expires_at <= $1
ORDER BY expires_at
LIMIT $2`
	return r.list(ctx, q, now, limit)
}

// DueCompletions lists confirmed bookings whose slot has ended.
func (r *BookingRepository) DueCompletions(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	const q = `
SELECT ` + bookingPrefixedColumns + `
FROM bookings b
JOIN slots s ON s.id = b.slot_id
WHERE b.status = 'confirmed' AND s.ends_at <= $1
ORDER BY s.ends_at
LIMIT $2`
	return r.list(ctx, q, now, limit)
}

const bookingPrefixedColumns = `b.id, b.user_id, b.slot_id, b.status, b.reserved_at, b.expires_at, b.confirmed_at, b.cancelled_at, b.completed_at, b.cancelled_by, b.version`

// ListByStatus is used by the reconciliation pass over reserved bookings.
func (r *BookingRepository) ListByStatus(ctx context.Context, status domain.BookingStatus, limit int) ([]domain.Booking, error) {
	const q = `
SELECT ` + bookingColumns + `
FROM bookings
WHERE status = $1
ORDER BY reserved_at
LIMIT $2`
	return r.list(ctx, q, status, limit)
}

func (r *BookingRepository) list(ctx context.Context, q string, args ...any) ([]domain.Booking, error) {
	rows, err := query(ctx, r.pool, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
