package payments

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetPaymentRecordForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.PaymentRecord, error)
	UpsertPaymentRecord(ctx context.Context, tx pgx.Tx, rec domain.PaymentRecord) error
}

type EventDedupe interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

type Auditor interface {
	LogPayment(ctx context.Context, bookingID uuid.UUID, operation, outcome string, amountCents int64) error
}

const eventDedupeTTL = 24 * time.Hour

// Orchestrator wraps the processor with retries, idempotency keys and
// the payment_records mirror. It moves money; it never moves booking
// status. The state machine consumes its results and commands.
type Orchestrator struct {
	store       Store
	processor   Processor
	dedupe      EventDedupe
	audit       Auditor
	logger      observability.Logger
	maxAttempts int
}

func NewOrchestrator(store Store, processor Processor, dedupe EventDedupe, audit Auditor, logger observability.Logger, maxAttempts int) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Orchestrator{
		store:       store,
		processor:   processor,
		dedupe:      dedupe,
		audit:       audit,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Authorize places a hold for the renter total on the renter's payment
// method. attempt discriminates resubmissions: the same attempt always
// derives the same processor key, so a retried call cannot hold the
// amount twice.
func (o *Orchestrator) Authorize(ctx context.Context, bookingID uuid.UUID, amountCents int64, paymentMethod, attempt string) (*Result, error) {
	key := ProcessorKey(bookingID, "authorize", attempt)
	result, err := o.withRetry(ctx, "authorize", func(c context.Context) (*Result, error) {
		return o.processor.Authorize(c, AuthorizeRequest{
			IdempotencyKey: key,
			BookingID:      bookingID,
			PaymentMethod:  paymentMethod,
			AmountCents:    amountCents,
		})
	})
	if err != nil {
		o.auditPayment(ctx, bookingID, "authorize", "failed", amountCents)
		return nil, err
	}
	err = o.record(ctx, bookingID, func(rec *domain.PaymentRecord) {
		rec.ProcessorReference = result.Reference
		rec.AmountAuthorizedCents = amountCents
		rec.LastProcessorStatus = result.Status
	})
	if err != nil {
		return nil, err
	}
	o.auditPayment(ctx, bookingID, "authorize", result.Status, amountCents)
	return result, nil
}

func (o *Orchestrator) Capture(ctx context.Context, bookingID uuid.UUID, reference string, amountCents int64, attempt string) (*Result, error) {
	key := ProcessorKey(bookingID, "capture", attempt)
	result, err := o.withRetry(ctx, "capture", func(c context.Context) (*Result, error) {
		return o.processor.Capture(c, CaptureRequest{
			IdempotencyKey: key,
			Reference:      reference,
			AmountCents:    amountCents,
		})
	})
	if err != nil {
		o.auditPayment(ctx, bookingID, "capture", "failed", amountCents)
		return nil, err
	}
	err = o.record(ctx, bookingID, func(rec *domain.PaymentRecord) {
		rec.AmountCapturedCents = amountCents
		rec.LastProcessorStatus = result.Status
	})
	if err != nil {
		return nil, err
	}
	o.auditPayment(ctx, bookingID, "capture", result.Status, amountCents)
	return result, nil
}

// Refund returns captured money to the renter. reason doubles as the
// attempt component, so distinct refunds on one booking (cancellation
// refund, deposit release) stay distinct while retries of the same one
// collapse.
func (o *Orchestrator) Refund(ctx context.Context, bookingID uuid.UUID, reference string, amountCents int64, reason string) (*Result, error) {
	key := ProcessorKey(bookingID, "refund", reason)
	result, err := o.withRetry(ctx, "refund", func(c context.Context) (*Result, error) {
		return o.processor.Refund(c, RefundRequest{
			IdempotencyKey: key,
			Reference:      reference,
			AmountCents:    amountCents,
			Reason:         reason,
		})
	})
	if err != nil {
		o.auditPayment(ctx, bookingID, "refund", "failed", amountCents)
		return nil, err
	}
	err = o.record(ctx, bookingID, func(rec *domain.PaymentRecord) {
		rec.AmountRefundedCents += amountCents
		rec.LastProcessorStatus = result.Status
	})
	if err != nil {
		return nil, err
	}
	o.auditPayment(ctx, bookingID, "refund", result.Status, amountCents)
	return result, nil
}

// Transfer pays the owner their net earnings. The amount comes from
// the stamped breakdown, never from processor state.
func (o *Orchestrator) Transfer(ctx context.Context, bookingID uuid.UUID, reference, payoutAccount string, amountCents int64) (*Result, error) {
	key := ProcessorKey(bookingID, "transfer", "owner")
	result, err := o.withRetry(ctx, "transfer", func(c context.Context) (*Result, error) {
		return o.processor.Transfer(c, TransferRequest{
			IdempotencyKey: key,
			Reference:      reference,
			PayoutAccount:  payoutAccount,
			AmountCents:    amountCents,
		})
	})
	if err != nil {
		o.auditPayment(ctx, bookingID, "transfer", "failed", amountCents)
		return nil, err
	}
	err = o.record(ctx, bookingID, func(rec *domain.PaymentRecord) {
		rec.AmountTransferredCents = amountCents
		rec.LastProcessorStatus = result.Status
	})
	if err != nil {
		return nil, err
	}
	o.auditPayment(ctx, bookingID, "transfer", result.Status, amountCents)
	return result, nil
}

// Void releases an authorization that was never captured.
func (o *Orchestrator) Void(ctx context.Context, bookingID uuid.UUID, reference string) (*Result, error) {
	key := ProcessorKey(bookingID, "void", "1")
	result, err := o.withRetry(ctx, "void", func(c context.Context) (*Result, error) {
		return o.processor.Void(c, VoidRequest{
			IdempotencyKey: key,
			Reference:      reference,
		})
	})
	if err != nil {
		o.auditPayment(ctx, bookingID, "void", "failed", 0)
		return nil, err
	}
	err = o.record(ctx, bookingID, func(rec *domain.PaymentRecord) {
		rec.LastProcessorStatus = result.Status
	})
	if err != nil {
		return nil, err
	}
	o.auditPayment(ctx, bookingID, "void", result.Status, 0)
	return result, nil
}

// LookupAuthorization re-queries the processor's authoritative state,
// used when a call timed out and the outcome is unknown.
func (o *Orchestrator) LookupAuthorization(ctx context.Context, reference string) (*Result, error) {
	return o.processor.GetAuthorization(ctx, reference)
}

// TransitionCommand tells the state machine what a reconciled event
// means for the booking. The state machine still applies it through
// the usual compare-and-swap guard.
type TransitionCommand struct {
	BookingID uuid.UUID
	To        domain.Status
}

// Reconcile is the only path by which processor notifications reach
// booking state. Duplicate events are absorbed here: the second
// delivery of an event id returns no command at all.
func (o *Orchestrator) Reconcile(ctx context.Context, event Event) (*TransitionCommand, error) {
	if event.EventID == "" || event.BookingID == uuid.Nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "event missing id or booking")
	}
	fresh, err := o.dedupe.MarkEventSeen(ctx, event.EventID, eventDedupeTTL)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, nil
	}

	switch event.Type {
	case EventPaymentSucceeded:
		err := o.record(ctx, event.BookingID, func(rec *domain.PaymentRecord) {
			if event.Reference != "" {
				rec.ProcessorReference = event.Reference
			}
			if event.AmountCents > 0 {
				rec.AmountCapturedCents = event.AmountCents
			}
			rec.LastProcessorStatus = StatusCaptured
		})
		if err != nil {
			return nil, err
		}
		return &TransitionCommand{BookingID: event.BookingID, To: domain.StatusConfirmed}, nil
	case EventPaymentFailed:
		err := o.record(ctx, event.BookingID, func(rec *domain.PaymentRecord) {
			rec.LastProcessorStatus = StatusDeclined
		})
		if err != nil {
			return nil, err
		}
		return &TransitionCommand{BookingID: event.BookingID, To: domain.StatusAwaitingPayment}, nil
	default:
		o.logger.WithField("event_type", event.Type).Debug("ignoring processor event")
		return nil, nil
	}
}

func (o *Orchestrator) withRetry(ctx context.Context, operation string, call func(context.Context) (*Result, error)) (*Result, error) {
	var lastErr error
	for i := 0; i < o.maxAttempts; i++ {
		result, err := call(ctx)
		if err == nil {
			observability.PaymentAttempts.WithLabelValues(operation, "ok").Inc()
			return result, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrPaymentDeclined) {
			observability.PaymentAttempts.WithLabelValues(operation, "declined").Inc()
			return nil, err
		}
		if !errors.Is(err, domain.ErrPaymentTransient) {
			observability.PaymentAttempts.WithLabelValues(operation, "error").Inc()
			return nil, err
		}
		observability.PaymentAttempts.WithLabelValues(operation, "transient").Inc()
		if i == o.maxAttempts-1 {
			break
		}
		backoff := time.Duration(1<<i) * time.Second
		o.logger.WithField("operation", operation).Warn("processor call failed, backing off", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// record applies a mutation to the booking's payment_records mirror,
// creating it on first touch.
func (o *Orchestrator) record(ctx context.Context, bookingID uuid.UUID, mutate func(*domain.PaymentRecord)) error {
	return o.store.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := o.store.GetPaymentRecordForUpdate(ctx, tx, bookingID)
		if errors.Is(err, domain.ErrNotFound) {
			rec = &domain.PaymentRecord{BookingID: bookingID}
		} else if err != nil {
			return err
		}
		mutate(rec)
		rec.UpdatedAt = time.Now().UTC()
		return o.store.UpsertPaymentRecord(ctx, tx, *rec)
	})
}

func (o *Orchestrator) auditPayment(ctx context.Context, bookingID uuid.UUID, operation, outcome string, amountCents int64) {
	if o.audit == nil {
		return
	}
	if err := o.audit.LogPayment(ctx, bookingID, operation, outcome, amountCents); err != nil {
		o.logger.WithField("booking_id", bookingID).Warn("audit write failed", err)
	}
}
