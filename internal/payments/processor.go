package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Processor is the external payment provider. All amounts are integer
// cents. Every mutating call carries an idempotency key, so replaying
// a call after a network failure cannot move money twice.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error)
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	Transfer(ctx context.Context, req TransferRequest) (*Result, error)
	Void(ctx context.Context, req VoidRequest) (*Result, error)
	GetAuthorization(ctx context.Context, reference string) (*Result, error)
}

type AuthorizeRequest struct {
	IdempotencyKey string    `json:"-"`
	BookingID      uuid.UUID `json:"booking_id"`
	PaymentMethod  string    `json:"payment_method"`
	AmountCents    int64     `json:"amount_cents"`
}

type CaptureRequest struct {
	IdempotencyKey string `json:"-"`
	Reference      string `json:"reference"`
	AmountCents    int64  `json:"amount_cents"`
}

type RefundRequest struct {
	IdempotencyKey string `json:"-"`
	Reference      string `json:"reference"`
	AmountCents    int64  `json:"amount_cents"`
	Reason         string `json:"reason"`
}

type TransferRequest struct {
	IdempotencyKey string `json:"-"`
	Reference      string `json:"reference"`
	PayoutAccount  string `json:"payout_account"`
	AmountCents    int64  `json:"amount_cents"`
}

type VoidRequest struct {
	IdempotencyKey string `json:"-"`
	Reference      string `json:"reference"`
}

type Result struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

const (
	StatusAuthorized  = "AUTHORIZED"
	StatusCaptured    = "CAPTURED"
	StatusRefunded    = "REFUNDED"
	StatusTransferred = "TRANSFERRED"
	StatusVoided      = "VOIDED"
	StatusDeclined    = "DECLINED"
)

// Event is the webhook body the processor posts back. Events, not
// client claims, are what move a booking out of PAYMENT_PROCESSING.
type Event struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	Reference   string    `json:"reference"`
	BookingID   uuid.UUID `json:"booking_id"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// paymentKeyNS namespaces derived idempotency keys so they can never
// collide with keys minted elsewhere.
var paymentKeyNS = uuid.NewSHA1(uuid.NameSpaceOID, []byte("rentals.payments"))

// ProcessorKey derives the idempotency key for one logical processor
// operation. Network retries reuse the key; a genuinely new attempt
// (say, the renter resubmitting with another card) changes the attempt
// component and gets a fresh key.
func ProcessorKey(bookingID uuid.UUID, operation, attempt string) string {
	return uuid.NewSHA1(paymentKeyNS, []byte(bookingID.String()+":"+operation+":"+attempt)).String()
}
