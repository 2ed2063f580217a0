package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/peershare/rental-bookings/internal/adapters/postgres"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     "rb",
				"POSTGRES_PASSWORD": "rb",
				"POSTGRES_DB":       "rentals",
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://rb:rb@%s:%s/rentals?sslmode=disable", host, port.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	return repo, pool
}

func testBooking(t *testing.T, now time.Time) *domain.Booking {
	t.Helper()
	dates, err := domain.NewDateRange(now.AddDate(0, 0, 7), now.AddDate(0, 0, 8))
	if err != nil {
		t.Fatal(err)
	}
	pricing, err := domain.ComputeBreakdown(domain.QuoteInput{
		DailyRateCents: 3000,
		DayCount:       dates.Days(),
	}, domain.RateTableV1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := domain.NewBooking(domain.CreateBookingParams{
		ListingID:      uuid.New(),
		RenterID:       uuid.New(),
		OwnerID:        uuid.New(),
		Dates:          dates,
		Pricing:        pricing,
		ApprovalWindow: 24 * time.Hour,
		Now:            now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRepository_ReserveRange(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	booking := testBooking(t, now)
	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := repo.CreateBooking(ctx, tx, booking); err != nil {
			return err
		}
		return repo.ReserveRange(ctx, tx, booking.ListingID, booking.ID, booking.Dates)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	rival := testBooking(t, now)
	rival.ListingID = booking.ListingID
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := repo.CreateBooking(ctx, tx, rival); err != nil {
			return err
		}
		return repo.ReserveRange(ctx, tx, rival.ListingID, rival.ID, rival.Dates)
	})
	if !errors.Is(err, domain.ErrAvailabilityConflict) {
		t.Fatalf("expected availability conflict, got %v", err)
	}

	// The losing transaction rolled back whole: no booking row, no days.
	if _, err := repo.GetBooking(ctx, rival.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected rival booking rolled back, got %v", err)
	}
	entries, err := repo.QueryAvailability(ctx, booking.ListingID, booking.Dates)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != booking.Dates.Days() {
		t.Errorf("expected %d held days, got %d", booking.Dates.Days(), len(entries))
	}
	for _, e := range entries {
		if e.Status != domain.AvailabilityHeld || e.BookingID == nil || *e.BookingID != booking.ID {
			t.Errorf("unexpected entry %+v", e)
		}
	}
}

func TestRepository_ConfirmAndRelease(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	booking := testBooking(t, now)
	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := repo.CreateBooking(ctx, tx, booking); err != nil {
			return err
		}
		return repo.ReserveRange(ctx, tx, booking.ListingID, booking.ID, booking.Dates)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.ConfirmRange(ctx, tx, booking.ID)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	entries, err := repo.QueryAvailability(ctx, booking.ListingID, booking.Dates)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Status != domain.AvailabilityBooked {
			t.Errorf("expected BOOKED, got %s", e.Status)
		}
	}

	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.ReleaseRange(ctx, tx, booking.ID)
	})
	if err != nil {
		t.Fatal(err)
	}
	entries, err = repo.QueryAvailability(ctx, booking.ListingID, booking.Dates)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected released calendar, got %d entries", len(entries))
	}
}

func TestRepository_TransitionStatus(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	booking := testBooking(t, now)
	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.CreateBooking(ctx, tx, booking)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.TransitionStatus(ctx, tx, booking.ID, domain.StatusRequested, domain.StatusAwaitingPayment, now)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Same swap again: the stored status moved on, so the CAS must lose.
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.TransitionStatus(ctx, tx, booking.ID, domain.StatusRequested, domain.StatusRejected, now)
	})
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}

	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.TransitionStatus(ctx, tx, uuid.New(), domain.StatusRequested, domain.StatusRejected, now)
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	fetched, err := repo.GetBooking(ctx, booking.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Status != domain.StatusAwaitingPayment {
		t.Errorf("expected AWAITING_PAYMENT, got %s", fetched.Status)
	}
}

func TestRepository_GetExpirable(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Requested two days ago with a 24h approval window: overdue.
	overdue := testBooking(t, now.AddDate(0, 0, -2))
	// Requested just now: not due yet.
	fresh := testBooking(t, now)

	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := repo.CreateBooking(ctx, tx, overdue); err != nil {
			return err
		}
		return repo.CreateBooking(ctx, tx, fresh)
	})
	if err != nil {
		t.Fatal(err)
	}

	expirable, err := repo.GetExpirable(ctx, now, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(expirable) != 1 || expirable[0].ID != overdue.ID {
		t.Fatalf("expected only the overdue booking, got %d", len(expirable))
	}

	// An expired payment hold is picked up the same way.
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := repo.TransitionStatus(ctx, tx, fresh.ID, domain.StatusRequested, domain.StatusAwaitingPayment, now); err != nil {
			return err
		}
		return repo.SetHoldExpiry(ctx, tx, fresh.ID, now.Add(-time.Minute))
	})
	if err != nil {
		t.Fatal(err)
	}
	expirable, err = repo.GetExpirable(ctx, now, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(expirable) != 2 {
		t.Fatalf("expected two expirable bookings, got %d", len(expirable))
	}
}

func TestRepository_PaymentRecord(t *testing.T) {
	repo, _ := startRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bookingID := uuid.New()
	if _, err := repo.GetPaymentRecord(ctx, bookingID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	rec := domain.PaymentRecord{
		BookingID:             bookingID,
		ProcessorReference:    "auth_123",
		AmountAuthorizedCents: 12500,
		LastProcessorStatus:   "AUTHORIZED",
		UpdatedAt:             now,
	}
	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.UpsertPaymentRecord(ctx, tx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	rec.AmountCapturedCents = 12500
	rec.LastProcessorStatus = "CAPTURED"
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.UpsertPaymentRecord(ctx, tx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	fetched, err := repo.GetPaymentRecord(ctx, bookingID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.AmountCapturedCents != 12500 || fetched.LastProcessorStatus != "CAPTURED" {
		t.Errorf("unexpected record %+v", fetched)
	}
}
