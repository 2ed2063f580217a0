package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/observability"
)

type fakeStore struct {
	expirable []domain.Booking
}

func (f *fakeStore) GetExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	if len(f.expirable) > limit {
		return f.expirable[:limit], nil
	}
	return f.expirable, nil
}

type fakeLifecycle struct {
	mu         sync.Mutex
	expired    []uuid.UUID
	expireErrs map[uuid.UUID]error
	reconciled int
}

func (f *fakeLifecycle) Expire(ctx context.Context, bookingID uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.expireErrs[bookingID]; ok {
		return err
	}
	f.expired = append(f.expired, bookingID)
	return nil
}

func (f *fakeLifecycle) ReconcileStuck(ctx context.Context, now time.Time, olderThan time.Duration, limit int) (int, error) {
	return f.reconciled, nil
}

func overdueBooking(status domain.Status) domain.Booking {
	return domain.Booking{ID: uuid.New(), ListingID: uuid.New(), Status: status}
}

func TestSweeper_ExpiresOverdueBatch(t *testing.T) {
	store := &fakeStore{expirable: []domain.Booking{
		overdueBooking(domain.StatusRequested),
		overdueBooking(domain.StatusAwaitingPayment),
		overdueBooking(domain.StatusRequested),
	}}
	svc := &fakeLifecycle{reconciled: 2}
	sw := New(store, svc, observability.NewLogger(), 100, 15*time.Minute)

	res, err := sw.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 3 {
		t.Fatalf("expired = %d, want 3", res.Expired)
	}
	if res.Reconciled != 2 {
		t.Fatalf("reconciled = %d, want 2", res.Reconciled)
	}
	if len(svc.expired) != 3 {
		t.Fatalf("expire calls = %d, want 3", len(svc.expired))
	}
}

func TestSweeper_SkipsContestedBookings(t *testing.T) {
	contested := overdueBooking(domain.StatusRequested)
	store := &fakeStore{expirable: []domain.Booking{
		contested,
		overdueBooking(domain.StatusAwaitingPayment),
	}}
	svc := &fakeLifecycle{expireErrs: map[uuid.UUID]error{
		// The owner approved between the scan and the expire.
		contested.ID: domain.ErrStateConflict,
	}}
	sw := New(store, svc, observability.NewLogger(), 100, 15*time.Minute)

	res, err := sw.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 1 {
		t.Fatalf("expired = %d, want 1", res.Expired)
	}
	if res.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", res.Skipped)
	}
}

func TestSweeper_HonorsBatchSize(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 10; i++ {
		store.expirable = append(store.expirable, overdueBooking(domain.StatusRequested))
	}
	svc := &fakeLifecycle{}
	sw := New(store, svc, observability.NewLogger(), 4, 15*time.Minute)

	res, err := sw.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 4 {
		t.Fatalf("expired = %d, want batch of 4", res.Expired)
	}
}
