package payments_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/observability"
	"github.com/peershare/rental-bookings/internal/payments"
)

type fakeStore struct {
	records map[uuid.UUID]domain.PaymentRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uuid.UUID]domain.PaymentRecord)}
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (s *fakeStore) GetPaymentRecordForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.PaymentRecord, error) {
	rec, ok := s.records[bookingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *fakeStore) UpsertPaymentRecord(ctx context.Context, tx pgx.Tx, rec domain.PaymentRecord) error {
	s.records[rec.BookingID] = rec
	return nil
}

type processorCall struct {
	operation string
	key       string
}

// fakeProcessor pops one scripted error per call; nil means success.
type fakeProcessor struct {
	script []error
	calls  []processorCall
}

func (p *fakeProcessor) next(operation, key string) error {
	p.calls = append(p.calls, processorCall{operation: operation, key: key})
	if len(p.script) == 0 {
		return nil
	}
	err := p.script[0]
	p.script = p.script[1:]
	return err
}

func (p *fakeProcessor) Authorize(ctx context.Context, req payments.AuthorizeRequest) (*payments.Result, error) {
	if err := p.next("authorize", req.IdempotencyKey); err != nil {
		return nil, err
	}
	return &payments.Result{Reference: "auth_" + req.BookingID.String()[:8], Status: payments.StatusAuthorized}, nil
}

func (p *fakeProcessor) Capture(ctx context.Context, req payments.CaptureRequest) (*payments.Result, error) {
	if err := p.next("capture", req.IdempotencyKey); err != nil {
		return nil, err
	}
	return &payments.Result{Reference: req.Reference, Status: payments.StatusCaptured}, nil
}

func (p *fakeProcessor) Refund(ctx context.Context, req payments.RefundRequest) (*payments.Result, error) {
	if err := p.next("refund", req.IdempotencyKey); err != nil {
		return nil, err
	}
	return &payments.Result{Reference: req.Reference, Status: payments.StatusRefunded}, nil
}

func (p *fakeProcessor) Transfer(ctx context.Context, req payments.TransferRequest) (*payments.Result, error) {
	if err := p.next("transfer", req.IdempotencyKey); err != nil {
		return nil, err
	}
	return &payments.Result{Reference: req.Reference, Status: payments.StatusTransferred}, nil
}

func (p *fakeProcessor) Void(ctx context.Context, req payments.VoidRequest) (*payments.Result, error) {
	if err := p.next("void", req.IdempotencyKey); err != nil {
		return nil, err
	}
	return &payments.Result{Reference: req.Reference, Status: payments.StatusVoided}, nil
}

func (p *fakeProcessor) GetAuthorization(ctx context.Context, reference string) (*payments.Result, error) {
	if err := p.next("get", reference); err != nil {
		return nil, err
	}
	return &payments.Result{Reference: reference, Status: payments.StatusCaptured}, nil
}

type fakeDedupe struct {
	seen map[string]bool
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{seen: make(map[string]bool)}
}

func (d *fakeDedupe) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func TestOrchestrator_AuthorizeRetriesTransient(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{script: []error{domain.ErrPaymentTransient, nil}}
	orch := payments.NewOrchestrator(store, proc, newFakeDedupe(), nil, observability.NewLogger(), 3)

	bookingID := uuid.New()
	result, err := orch.Authorize(context.Background(), bookingID, 12500, "pm_card", "submit-1")
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if result.Status != payments.StatusAuthorized {
		t.Errorf("expected AUTHORIZED, got %s", result.Status)
	}
	if len(proc.calls) != 2 {
		t.Fatalf("expected 2 processor calls, got %d", len(proc.calls))
	}
	if proc.calls[0].key != proc.calls[1].key {
		t.Errorf("retry must reuse the idempotency key, got %s then %s", proc.calls[0].key, proc.calls[1].key)
	}

	rec := store.records[bookingID]
	if rec.AmountAuthorizedCents != 12500 || rec.ProcessorReference == "" {
		t.Errorf("payment record not mirrored: %+v", rec)
	}
}

func TestOrchestrator_AuthorizeDeclinedNoRetry(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{script: []error{domain.ErrPaymentDeclined}}
	orch := payments.NewOrchestrator(store, proc, newFakeDedupe(), nil, observability.NewLogger(), 3)

	_, err := orch.Authorize(context.Background(), uuid.New(), 12500, "pm_card", "submit-1")
	if !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("expected decline, got %v", err)
	}
	if len(proc.calls) != 1 {
		t.Errorf("declines must not be retried, got %d calls", len(proc.calls))
	}
}

func TestOrchestrator_AuthorizeExhaustsTransient(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{script: []error{domain.ErrPaymentTransient, domain.ErrPaymentTransient}}
	orch := payments.NewOrchestrator(store, proc, newFakeDedupe(), nil, observability.NewLogger(), 2)

	_, err := orch.Authorize(context.Background(), uuid.New(), 12500, "pm_card", "submit-1")
	if !errors.Is(err, domain.ErrPaymentTransient) {
		t.Fatalf("expected transient after exhaustion, got %v", err)
	}
	if len(proc.calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(proc.calls))
	}
}

func TestOrchestrator_NewSubmissionNewKey(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{}
	orch := payments.NewOrchestrator(store, proc, newFakeDedupe(), nil, observability.NewLogger(), 1)

	bookingID := uuid.New()
	if _, err := orch.Authorize(context.Background(), bookingID, 12500, "pm_card", "submit-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Authorize(context.Background(), bookingID, 12500, "pm_other", "submit-2"); err != nil {
		t.Fatal(err)
	}
	if proc.calls[0].key == proc.calls[1].key {
		t.Errorf("a new submission must derive a new key")
	}
}

func TestOrchestrator_ReconcileDuplicateEvent(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{}
	orch := payments.NewOrchestrator(store, proc, newFakeDedupe(), nil, observability.NewLogger(), 1)

	event := payments.Event{
		EventID:     "evt_1",
		Type:        payments.EventPaymentSucceeded,
		Reference:   "auth_abc",
		BookingID:   uuid.New(),
		AmountCents: 12500,
		OccurredAt:  time.Now(),
	}

	cmd, err := orch.Reconcile(context.Background(), event)
	if err != nil {
		t.Fatal(err)
	}
	if cmd == nil || cmd.To != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED command, got %+v", cmd)
	}

	again, err := orch.Reconcile(context.Background(), event)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Errorf("duplicate event must produce no command, got %+v", again)
	}

	rec := store.records[event.BookingID]
	if rec.AmountCapturedCents != 12500 || rec.LastProcessorStatus != payments.StatusCaptured {
		t.Errorf("record not reconciled: %+v", rec)
	}
}

func TestOrchestrator_ReconcileFailureCommandsFallback(t *testing.T) {
	store := newFakeStore()
	orch := payments.NewOrchestrator(store, &fakeProcessor{}, newFakeDedupe(), nil, observability.NewLogger(), 1)

	cmd, err := orch.Reconcile(context.Background(), payments.Event{
		EventID:   "evt_2",
		Type:      payments.EventPaymentFailed,
		BookingID: uuid.New(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cmd == nil || cmd.To != domain.StatusAwaitingPayment {
		t.Fatalf("expected AWAITING_PAYMENT command, got %+v", cmd)
	}
}

func TestOrchestrator_RefundReasonsStayDistinct(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{}
	orch := payments.NewOrchestrator(store, proc, newFakeDedupe(), nil, observability.NewLogger(), 1)

	bookingID := uuid.New()
	if _, err := orch.Refund(context.Background(), bookingID, "auth_abc", 5000, "deposit_release"); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Refund(context.Background(), bookingID, "auth_abc", 7500, "cancellation"); err != nil {
		t.Fatal(err)
	}
	if proc.calls[0].key == proc.calls[1].key {
		t.Errorf("distinct refunds must derive distinct keys")
	}
	rec := store.records[bookingID]
	if rec.AmountRefundedCents != 12500 {
		t.Errorf("expected refunds to accumulate to 12500, got %d", rec.AmountRefundedCents)
	}
}
