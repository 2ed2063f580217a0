package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/peershare/rental-bookings/internal/domain"
)

// ReserveRange claims every day in the range for the booking. The
// primary key on (listing_id, day) is the exclusion mechanism: a day
// taken by anyone else leaves the statement rowless, which we report
// as domain.ErrAvailabilityConflict. A day already held by this same
// booking counts as claimed, so retries pass. The caller's transaction
// rolls back on conflict, so a partial claim never survives.
func (r *Repository) ReserveRange(ctx context.Context, tx pgx.Tx, listingID, bookingID uuid.UUID, dates domain.DateRange) error {
	for _, day := range dates.EachDay() {
		result, err := tx.Exec(ctx, `
			INSERT INTO availability_days (listing_id, day, status, booking_id)
			VALUES ($1, $2, 'HELD', $3)
			ON CONFLICT (listing_id, day) DO UPDATE SET booking_id = EXCLUDED.booking_id
			WHERE availability_days.booking_id = EXCLUDED.booking_id
		`, listingID, day, bookingID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return errors.Wrapf(domain.ErrAvailabilityConflict, "listing %s day %s", listingID, day.Format("2006-01-02"))
		}
	}
	return nil
}

// ConfirmRange promotes a booking's held days to booked.
func (r *Repository) ConfirmRange(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error {
	result, err := tx.Exec(ctx, `
		UPDATE availability_days SET status = 'BOOKED' WHERE booking_id = $1 AND status = 'HELD'
	`, bookingID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Newf("no held days for booking %s", bookingID)
	}
	return nil
}

// ReleaseRange frees every day the booking holds, whatever their status.
func (r *Repository) ReleaseRange(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM availability_days WHERE booking_id = $1
	`, bookingID)
	return err
}

// ReleaseDaysFrom frees only the booking's days on or after the given
// day. Cancelling mid-rental keeps the consumed days on the calendar.
func (r *Repository) ReleaseDaysFrom(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from time.Time) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM availability_days WHERE booking_id = $1 AND day >= $2
	`, bookingID, from)
	return err
}

// QueryAvailability lists the non-available days of a listing within
// the range. Days with no row are available.
func (r *Repository) QueryAvailability(ctx context.Context, listingID uuid.UUID, dates domain.DateRange) ([]domain.AvailabilityEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT listing_id, day, status, booking_id, reason
		FROM availability_days
		WHERE listing_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day ASC
	`, listingID, dates.Start, dates.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AvailabilityEntry
	for rows.Next() {
		var e domain.AvailabilityEntry
		if err := rows.Scan(&e.ListingID, &e.Day, &e.Status, &e.BookingID, &e.Reason); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BlockDays marks days unavailable at the owner's request, with no
// booking attached. Days already taken fail the whole block.
func (r *Repository) BlockDays(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, dates domain.DateRange, reason string) error {
	for _, day := range dates.EachDay() {
		result, err := tx.Exec(ctx, `
			INSERT INTO availability_days (listing_id, day, status, reason)
			VALUES ($1, $2, 'BLOCKED', $3)
			ON CONFLICT (listing_id, day) DO NOTHING
		`, listingID, day, reason)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return errors.Wrapf(domain.ErrAvailabilityConflict, "listing %s day %s", listingID, day.Format("2006-01-02"))
		}
	}
	return nil
}

// UnblockDays removes owner blocks in the range. Held and booked days
// are untouched.
func (r *Repository) UnblockDays(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, dates domain.DateRange) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM availability_days
		WHERE listing_id = $1 AND day >= $2 AND day <= $3 AND status = 'BLOCKED'
	`, listingID, dates.Start, dates.End)
	return err
}
