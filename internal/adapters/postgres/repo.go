package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a SERIALIZABLE transaction. Serialization
// failures surface as domain.ErrSerializationFailure so callers can
// retry the whole closure.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapTxError(err)
	}
	// Serializable conflicts can surface at commit, not just inside fn.
	if err := tx.Commit(ctx); err != nil {
		return mapTxError(err)
	}
	return nil
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

const bookingColumns = `
	id, listing_id, renter_id, owner_id, start_day, end_day, status,
	base_price_cents, service_fee_cents, insurance_fee_cents, delivery_fee_cents,
	security_deposit_cents, points_credit_cents, renter_total_cents,
	platform_commission_cents, owner_net_cents, platform_revenue_cents,
	calculation_version, payment_reference, approval_deadline, hold_expires_at,
	created_at, status_changed_at`

func (r *Repository) CreateBooking(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, b.ID, b.ListingID, b.RenterID, b.OwnerID, b.Dates.Start, b.Dates.End, b.Status,
		b.Pricing.BasePriceCents, b.Pricing.ServiceFeeCents, b.Pricing.InsuranceFeeCents,
		b.Pricing.DeliveryFeeCents, b.Pricing.SecurityDepositCents, b.Pricing.PointsCreditCents,
		b.Pricing.RenterTotalCents, b.Pricing.PlatformCommissionCents, b.Pricing.OwnerNetCents,
		b.Pricing.PlatformRevenueCents, b.Pricing.CalculationVersion, b.PaymentReference,
		b.ApprovalDeadline, nullableTime(b.HoldExpiresAt), b.CreatedAt, b.StatusChangedAt)
	return err
}

func (r *Repository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
	return scanBooking(row)
}

// GetBookingForUpdate locks the booking row for the rest of the
// transaction so transition guards read a stable status.
func (r *Repository) GetBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.Booking, error) {
	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID)
	return scanBooking(row)
}

// TransitionStatus is a compare-and-swap on the status column. When the
// stored status no longer matches from, the caller lost the race and
// gets domain.ErrStateConflict carrying the status that won.
func (r *Repository) TransitionStatus(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to domain.Status, now time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $3, status_changed_at = $4
		WHERE id = $1 AND status = $2
	`, bookingID, from, to, now)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var current domain.Status
		err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, bookingID).Scan(&current)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return errors.Wrapf(domain.ErrStateConflict, "booking %s is %s, expected %s", bookingID, current, from)
	}
	return nil
}

func (r *Repository) SetHoldExpiry(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, expiresAt time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET hold_expires_at = $2 WHERE id = $1
	`, bookingID, expiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) SetPaymentReference(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, reference string) error {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET payment_reference = $2 WHERE id = $1
	`, bookingID, reference)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetExpirable lists bookings whose deadline has passed: requests the
// owner never answered and payment holds the renter never completed.
func (r *Repository) GetExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE (status = 'REQUESTED' AND approval_deadline <= $1)
		   OR (status = 'AWAITING_PAYMENT' AND hold_expires_at IS NOT NULL AND hold_expires_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// ListPaymentProcessing returns bookings parked in PAYMENT_PROCESSING
// since before the cutoff, candidates for processor-state reconciliation.
func (r *Repository) ListPaymentProcessing(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'PAYMENT_PROCESSING' AND status_changed_at <= $1
		ORDER BY status_changed_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *Repository) UpsertPaymentRecord(ctx context.Context, tx pgx.Tx, rec domain.PaymentRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_records (booking_id, processor_reference, amount_authorized_cents,
			amount_captured_cents, amount_transferred_cents, amount_refunded_cents,
			last_processor_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (booking_id) DO UPDATE SET
			processor_reference = EXCLUDED.processor_reference,
			amount_authorized_cents = EXCLUDED.amount_authorized_cents,
			amount_captured_cents = EXCLUDED.amount_captured_cents,
			amount_transferred_cents = EXCLUDED.amount_transferred_cents,
			amount_refunded_cents = EXCLUDED.amount_refunded_cents,
			last_processor_status = EXCLUDED.last_processor_status,
			updated_at = EXCLUDED.updated_at
	`, rec.BookingID, rec.ProcessorReference, rec.AmountAuthorizedCents,
		rec.AmountCapturedCents, rec.AmountTransferredCents, rec.AmountRefundedCents,
		rec.LastProcessorStatus, rec.UpdatedAt)
	return err
}

func (r *Repository) GetPaymentRecord(ctx context.Context, bookingID uuid.UUID) (*domain.PaymentRecord, error) {
	return getPaymentRecord(ctx, r.pool, `SELECT booking_id, processor_reference, amount_authorized_cents,
		amount_captured_cents, amount_transferred_cents, amount_refunded_cents,
		last_processor_status, updated_at
		FROM payment_records WHERE booking_id = $1`, bookingID)
}

func (r *Repository) GetPaymentRecordForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.PaymentRecord, error) {
	return getPaymentRecord(ctx, tx, `SELECT booking_id, processor_reference, amount_authorized_cents,
		amount_captured_cents, amount_transferred_cents, amount_refunded_cents,
		last_processor_status, updated_at
		FROM payment_records WHERE booking_id = $1 FOR UPDATE`, bookingID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPaymentRecord(ctx context.Context, q queryRower, sql string, bookingID uuid.UUID) (*domain.PaymentRecord, error) {
	var rec domain.PaymentRecord
	err := q.QueryRow(ctx, sql, bookingID).Scan(&rec.BookingID, &rec.ProcessorReference,
		&rec.AmountAuthorizedCents, &rec.AmountCapturedCents, &rec.AmountTransferredCents,
		&rec.AmountRefundedCents, &rec.LastProcessorStatus, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b, err := scanBookingRow(row)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func scanBookingRow(row scanner) (*domain.Booking, error) {
	var b domain.Booking
	var holdExpiresAt *time.Time
	err := row.Scan(&b.ID, &b.ListingID, &b.RenterID, &b.OwnerID, &b.Dates.Start, &b.Dates.End, &b.Status,
		&b.Pricing.BasePriceCents, &b.Pricing.ServiceFeeCents, &b.Pricing.InsuranceFeeCents,
		&b.Pricing.DeliveryFeeCents, &b.Pricing.SecurityDepositCents, &b.Pricing.PointsCreditCents,
		&b.Pricing.RenterTotalCents, &b.Pricing.PlatformCommissionCents, &b.Pricing.OwnerNetCents,
		&b.Pricing.PlatformRevenueCents, &b.Pricing.CalculationVersion, &b.PaymentReference,
		&b.ApprovalDeadline, &holdExpiresAt, &b.CreatedAt, &b.StatusChangedAt)
	if err != nil {
		return nil, err
	}
	if holdExpiresAt != nil {
		b.HoldExpiresAt = *holdExpiresAt
	}
	return &b, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
