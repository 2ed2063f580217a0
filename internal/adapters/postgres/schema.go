package postgres

import "context"

// EnsureSchema creates the tables the engine needs. Every statement is
// idempotent, so startup can run it unconditionally.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bookings (
			id UUID PRIMARY KEY,
			listing_id UUID NOT NULL,
			renter_id UUID NOT NULL,
			owner_id UUID NOT NULL,
			start_day DATE NOT NULL,
			end_day DATE NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('REQUESTED','AWAITING_PAYMENT','PAYMENT_PROCESSING','CONFIRMED','ACTIVE','COMPLETED','CANCELLED','REJECTED','EXPIRED')),
			base_price_cents BIGINT NOT NULL,
			service_fee_cents BIGINT NOT NULL,
			insurance_fee_cents BIGINT NOT NULL,
			delivery_fee_cents BIGINT NOT NULL,
			security_deposit_cents BIGINT NOT NULL,
			points_credit_cents BIGINT NOT NULL,
			renter_total_cents BIGINT NOT NULL,
			platform_commission_cents BIGINT NOT NULL,
			owner_net_cents BIGINT NOT NULL,
			platform_revenue_cents BIGINT NOT NULL,
			calculation_version TEXT NOT NULL,
			payment_reference TEXT NOT NULL DEFAULT '',
			approval_deadline TIMESTAMPTZ NOT NULL,
			hold_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			status_changed_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS bookings_deadline_idx ON bookings (status, approval_deadline);
		CREATE INDEX IF NOT EXISTS bookings_hold_idx ON bookings (status, hold_expires_at);

		CREATE TABLE IF NOT EXISTS availability_days (
			listing_id UUID NOT NULL,
			day DATE NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('HELD','BOOKED','BLOCKED')),
			booking_id UUID,
			reason TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (listing_id, day)
		);

		CREATE INDEX IF NOT EXISTS availability_days_booking_idx ON availability_days (booking_id);

		CREATE TABLE IF NOT EXISTS payment_records (
			booking_id UUID PRIMARY KEY,
			processor_reference TEXT NOT NULL DEFAULT '',
			amount_authorized_cents BIGINT NOT NULL DEFAULT 0,
			amount_captured_cents BIGINT NOT NULL DEFAULT 0,
			amount_transferred_cents BIGINT NOT NULL DEFAULT 0,
			amount_refunded_cents BIGINT NOT NULL DEFAULT 0,
			last_processor_status TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outbox (
			id UUID PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id UUID NOT NULL,
			event_type TEXT NOT NULL,
			payload_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			published_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'NEW',
			dedupe_key TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS outbox_new_idx ON outbox (status, created_at);
	`)
	return err
}
