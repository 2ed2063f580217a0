package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/peershare/rental-bookings/internal/adapters/mongo"
	"github.com/peershare/rental-bookings/internal/adapters/postgres"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/observability"
	"github.com/peershare/rental-bookings/internal/payments"
)

// Store is the persistence surface the state machine drives. It is
// satisfied by postgres.Repository.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateBooking(ctx context.Context, tx pgx.Tx, b *domain.Booking) error
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	GetBookingForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*domain.Booking, error)
	TransitionStatus(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to domain.Status, now time.Time) error
	SetHoldExpiry(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, expiresAt time.Time) error
	SetPaymentReference(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, reference string) error
	ReserveRange(ctx context.Context, tx pgx.Tx, listingID, bookingID uuid.UUID, dates domain.DateRange) error
	ConfirmRange(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error
	ReleaseRange(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error
	ReleaseDaysFrom(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from time.Time) error
	QueryAvailability(ctx context.Context, listingID uuid.UUID, dates domain.DateRange) ([]domain.AvailabilityEntry, error)
	BlockDays(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, dates domain.DateRange, reason string) error
	UnblockDays(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, dates domain.DateRange) error
	InsertOutbox(ctx context.Context, tx pgx.Tx, record postgres.OutboxRecord) error
	GetPaymentRecord(ctx context.Context, bookingID uuid.UUID) (*domain.PaymentRecord, error)
	GetExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	ListPaymentProcessing(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error)
}

type Catalog interface {
	GetListing(ctx context.Context, id uuid.UUID) (*mongo.ListingDoc, error)
}

// PaymentOrchestrator is satisfied by payments.Orchestrator.
type PaymentOrchestrator interface {
	Authorize(ctx context.Context, bookingID uuid.UUID, amountCents int64, paymentMethod, attempt string) (*payments.Result, error)
	Capture(ctx context.Context, bookingID uuid.UUID, reference string, amountCents int64, attempt string) (*payments.Result, error)
	Refund(ctx context.Context, bookingID uuid.UUID, reference string, amountCents int64, reason string) (*payments.Result, error)
	Transfer(ctx context.Context, bookingID uuid.UUID, reference, payoutAccount string, amountCents int64) (*payments.Result, error)
	Void(ctx context.Context, bookingID uuid.UUID, reference string) (*payments.Result, error)
	LookupAuthorization(ctx context.Context, reference string) (*payments.Result, error)
	Reconcile(ctx context.Context, event payments.Event) (*payments.TransitionCommand, error)
}

type Auditor interface {
	LogTransition(ctx context.Context, actorID uuid.UUID, event domain.TransitionEvent) error
}

// Service owns the booking lifecycle. Every state change is one
// SERIALIZABLE transaction bundling the compare-and-swap, its calendar
// effect and the outbox event, so no observer ever sees them split.
// Processor calls happen outside transactions; their outcomes re-enter
// through a fresh transaction.
type Service struct {
	store          Store
	catalog        Catalog
	orch           PaymentOrchestrator
	audit          Auditor
	logger         observability.Logger
	rates          domain.RateTable
	approvalWindow time.Duration
	holdWindow     time.Duration
}

func NewService(store Store, catalog Catalog, orch PaymentOrchestrator, audit Auditor, logger observability.Logger, approvalWindow, holdWindow time.Duration) *Service {
	return &Service{
		store:          store,
		catalog:        catalog,
		orch:           orch,
		audit:          audit,
		logger:         logger,
		rates:          domain.RateTableV1,
		approvalWindow: approvalWindow,
		holdWindow:     holdWindow,
	}
}

const txRetries = 3

// inTx retries the closure on serialization failures; everything else
// propagates.
func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for i := 0; i < txRetries; i++ {
		err = s.store.WithTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
		s.logger.Debug("serialization failure, retrying transaction")
	}
	return err
}

type RequestParams struct {
	ListingID        uuid.UUID
	RenterID         uuid.UUID
	Dates            domain.DateRange
	IncludeInsurance bool
	PointsApplied    int64
}

// Request creates a booking in REQUESTED: it stamps the pricing
// breakdown exactly once and places the tentative hold on the calendar
// in the same transaction as the booking row. Losing the calendar race
// surfaces domain.ErrAvailabilityConflict and leaves nothing behind.
func (s *Service) Request(ctx context.Context, p RequestParams) (*domain.Booking, error) {
	now := time.Now().UTC()

	listing, err := s.catalog.GetListing(ctx, p.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.Active {
		return nil, errors.Wrap(domain.ErrInvalidInput, "listing is not active")
	}
	if p.IncludeInsurance && !listing.InsuranceAvailable {
		return nil, errors.Wrap(domain.ErrInvalidInput, "listing has no insurance option")
	}

	pricing, err := domain.ComputeBreakdown(domain.QuoteInput{
		DailyRateCents:       listing.DailyRateCents,
		WeeklyRateCents:      listing.WeeklyRateCents,
		DayCount:             p.Dates.Days(),
		IncludeInsurance:     p.IncludeInsurance,
		SecurityDepositCents: listing.SecurityDepositCents,
		DeliveryFeeCents:     listing.DeliveryFeeCents,
		PointsApplied:        p.PointsApplied,
	}, s.rates)
	if err != nil {
		return nil, err
	}

	b, err := domain.NewBooking(domain.CreateBookingParams{
		ListingID:      p.ListingID,
		RenterID:       p.RenterID,
		OwnerID:        listing.OwnerID,
		Dates:          p.Dates,
		Pricing:        pricing,
		ApprovalWindow: s.approvalWindow,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}

	event := domain.TransitionEvent{BookingID: b.ID, ListingID: b.ListingID, NewStatus: domain.StatusRequested, OccurredAt: now}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.CreateBooking(ctx, tx, b); err != nil {
			return err
		}
		if err := s.store.ReserveRange(ctx, tx, b.ListingID, b.ID, b.Dates); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, event)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAvailabilityConflict) {
			observability.AvailabilityConflicts.Inc()
		}
		return nil, err
	}
	s.finishTransition(ctx, p.RenterID, event)
	return b, nil
}

// Approve is the owner saying yes within the approval window. The
// booking moves to AWAITING_PAYMENT and the renter gets a payment hold
// of holdWindow. An overdue approval is refused; expiring the booking
// is the sweeper's job, not the approver's.
func (s *Service) Approve(ctx context.Context, bookingID, actorID uuid.UUID) (*domain.Booking, error) {
	now := time.Now().UTC()
	var b *domain.Booking
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = s.store.GetBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.OwnerID {
			return domain.ErrUnauthorized
		}
		if b.Status == domain.StatusRequested && now.After(b.ApprovalDeadline) {
			return errors.Wrap(domain.ErrStateConflict, "approval deadline has passed")
		}
		event, err = s.stageTransition(ctx, tx, b, domain.StatusAwaitingPayment, now)
		if err != nil {
			return err
		}
		holdExpiry := now.Add(s.holdWindow)
		if err := s.store.SetHoldExpiry(ctx, tx, b.ID, holdExpiry); err != nil {
			return err
		}
		b.HoldExpiresAt = holdExpiry
		return nil
	})
	if err != nil {
		return nil, s.noteConflict(err)
	}
	s.finishTransition(ctx, actorID, event)
	return b, nil
}

// Decline rejects the request and frees the held dates.
func (s *Service) Decline(ctx context.Context, bookingID, actorID uuid.UUID) (*domain.Booking, error) {
	now := time.Now().UTC()
	var b *domain.Booking
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = s.store.GetBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.OwnerID {
			return domain.ErrUnauthorized
		}
		event, err = s.stageTransition(ctx, tx, b, domain.StatusRejected, now)
		if err != nil {
			return err
		}
		return s.store.ReleaseRange(ctx, tx, b.ID)
	})
	if err != nil {
		return nil, s.noteConflict(err)
	}
	s.finishTransition(ctx, actorID, event)
	return b, nil
}

// SubmitPayment runs the renter's money through the processor. The
// booking enters PAYMENT_PROCESSING first; a declined or definitively
// failed attempt sends it back to AWAITING_PAYMENT without extending
// the hold. A capture whose outcome is unknown leaves the booking in
// PAYMENT_PROCESSING for the event feed or the reconcile pass to
// settle; it is never guessed at here.
func (s *Service) SubmitPayment(ctx context.Context, bookingID, actorID uuid.UUID, paymentMethod, attempt string) (*domain.Booking, error) {
	now := time.Now().UTC()
	if paymentMethod == "" || attempt == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "payment method and attempt are required")
	}

	var b *domain.Booking
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = s.store.GetBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.RenterID {
			return domain.ErrUnauthorized
		}
		if b.Status == domain.StatusAwaitingPayment && !b.HoldExpiresAt.IsZero() && now.After(b.HoldExpiresAt) {
			return errors.Wrap(domain.ErrStateConflict, "payment hold has expired")
		}
		event, err = s.stageTransition(ctx, tx, b, domain.StatusPaymentProcessing, now)
		return err
	})
	if err != nil {
		return nil, s.noteConflict(err)
	}
	s.finishTransition(ctx, actorID, event)

	auth, err := s.orch.Authorize(ctx, b.ID, b.Pricing.RenterTotalCents, paymentMethod, attempt)
	if err != nil {
		// Nothing was captured; same-key retries make this safe to unwind.
		s.recoverToAwaitingPayment(ctx, b, actorID)
		return nil, err
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		return s.store.SetPaymentReference(ctx, tx, b.ID, auth.Reference)
	})
	if err != nil {
		return nil, err
	}
	b.PaymentReference = auth.Reference

	if _, err := s.orch.Capture(ctx, b.ID, auth.Reference, b.Pricing.RenterTotalCents, attempt); err != nil {
		if errors.Is(err, domain.ErrPaymentDeclined) {
			s.recoverToAwaitingPayment(ctx, b, actorID)
			return nil, err
		}
		// Unknown outcome: the capture may have landed.
		return nil, err
	}

	return s.confirmBooking(ctx, b, actorID, now)
}

// HandleProcessorEvent is the webhook entry point. The orchestrator
// deduplicates and translates the event; the resulting command is
// applied through the usual guarded transition, so a replayed or
// already-settled event converges on the same end state.
func (s *Service) HandleProcessorEvent(ctx context.Context, event payments.Event) error {
	cmd, err := s.orch.Reconcile(ctx, event)
	if err != nil {
		return err
	}
	if cmd == nil {
		return nil
	}
	now := time.Now().UTC()

	var lateCapture *domain.Booking
	var fired []domain.TransitionEvent
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		fired = fired[:0]
		lateCapture = nil
		b, err := s.store.GetBookingForUpdate(ctx, tx, cmd.BookingID)
		if err != nil {
			return err
		}

		switch cmd.To {
		case domain.StatusConfirmed:
			switch b.Status {
			case domain.StatusConfirmed, domain.StatusActive, domain.StatusCompleted:
				return nil
			case domain.StatusCancelled, domain.StatusExpired, domain.StatusRejected:
				// Money landed after the booking died; give it back.
				lateCapture = b
				return nil
			case domain.StatusAwaitingPayment:
				// The submit path fell back before the success arrived.
				ev, err := s.stageTransition(ctx, tx, b, domain.StatusPaymentProcessing, now)
				if err != nil {
					return err
				}
				fired = append(fired, ev)
			}
			ev, err := s.stageTransition(ctx, tx, b, domain.StatusConfirmed, now)
			if err != nil {
				return err
			}
			if err := s.store.ConfirmRange(ctx, tx, b.ID); err != nil {
				return err
			}
			if b.PaymentReference == "" && event.Reference != "" {
				if err := s.store.SetPaymentReference(ctx, tx, b.ID, event.Reference); err != nil {
					return err
				}
			}
			fired = append(fired, ev)
			return nil
		case domain.StatusAwaitingPayment:
			if b.Status != domain.StatusPaymentProcessing {
				return nil
			}
			ev, err := s.stageTransition(ctx, tx, b, domain.StatusAwaitingPayment, now)
			if err != nil {
				return err
			}
			fired = append(fired, ev)
			return nil
		default:
			return errors.Newf("unsupported reconcile target %s", cmd.To)
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			observability.TransitionConflicts.Inc()
			s.logger.WithField("booking_id", cmd.BookingID).Debug("reconcile lost compare-and-swap")
			return nil
		}
		return err
	}

	for _, ev := range fired {
		s.finishTransition(ctx, uuid.Nil, ev)
	}
	if lateCapture != nil {
		s.refundLateCapture(ctx, lateCapture, event)
	}
	return nil
}

func (s *Service) refundLateCapture(ctx context.Context, b *domain.Booking, event payments.Event) {
	reference := b.PaymentReference
	if reference == "" {
		reference = event.Reference
	}
	amount := event.AmountCents
	if amount <= 0 {
		amount = b.Pricing.RenterTotalCents
	}
	if reference == "" {
		s.logger.WithField("booking_id", b.ID).Error("late capture with no reference to refund")
		return
	}
	if _, err := s.orch.Refund(ctx, b.ID, reference, amount, "late_capture"); err != nil {
		s.logger.WithField("booking_id", b.ID).Error("late capture refund failed", err)
	}
}

// Activate marks the rental as picked up.
func (s *Service) Activate(ctx context.Context, bookingID, actorID uuid.UUID) (*domain.Booking, error) {
	now := time.Now().UTC()
	var b *domain.Booking
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = s.store.GetBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if !b.Party(actorID) {
			return domain.ErrUnauthorized
		}
		event, err = s.stageTransition(ctx, tx, b, domain.StatusActive, now)
		return err
	})
	if err != nil {
		return nil, s.noteConflict(err)
	}
	s.finishTransition(ctx, actorID, event)
	return b, nil
}

// Complete is the owner confirming the return. It frees the calendar
// and then settles money: owner payout and deposit release. Settlement
// failures leave the booking COMPLETED and are logged for operational
// follow-up; the idempotency keys make a manual re-run safe.
func (s *Service) Complete(ctx context.Context, bookingID, actorID uuid.UUID) (*domain.Booking, error) {
	now := time.Now().UTC()
	var b *domain.Booking
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = s.store.GetBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.OwnerID {
			return domain.ErrUnauthorized
		}
		event, err = s.stageTransition(ctx, tx, b, domain.StatusCompleted, now)
		if err != nil {
			return err
		}
		return s.store.ReleaseRange(ctx, tx, b.ID)
	})
	if err != nil {
		return nil, s.noteConflict(err)
	}
	s.finishTransition(ctx, actorID, event)
	s.settleCompletion(ctx, b)
	return b, nil
}

func (s *Service) settleCompletion(ctx context.Context, b *domain.Booking) {
	if b.PaymentReference == "" {
		s.logger.WithField("booking_id", b.ID).Error("completed booking has no payment reference")
		return
	}
	listing, err := s.catalog.GetListing(ctx, b.ListingID)
	if err != nil {
		s.logger.WithField("booking_id", b.ID).Error("cannot load listing for payout", err)
		return
	}
	if _, err := s.orch.Transfer(ctx, b.ID, b.PaymentReference, listing.PayoutAccount, b.Pricing.OwnerNetCents); err != nil {
		s.logger.WithField("booking_id", b.ID).Error("owner payout failed", err)
	}
	if b.Pricing.SecurityDepositCents > 0 {
		if _, err := s.orch.Refund(ctx, b.ID, b.PaymentReference, b.Pricing.SecurityDepositCents, "deposit_release"); err != nil {
			s.logger.WithField("booking_id", b.ID).Error("deposit release failed", err)
		}
	}
}

// Cancel applies an explicit cancellation by either party. The refund
// split is a decision handed in by the caller, evaluated at call time,
// never re-derived here. An ACTIVE cancellation keeps the consumed days
// on the calendar and frees only the remainder.
func (s *Service) Cancel(ctx context.Context, bookingID, actorID uuid.UUID, decision domain.RefundDecision) (*domain.Booking, error) {
	now := time.Now().UTC()
	if !decision.Valid() {
		return nil, errors.Wrap(domain.ErrInvalidInput, "malformed refund decision")
	}
	var b *domain.Booking
	var from domain.Status
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = s.store.GetBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if !b.Party(actorID) {
			return domain.ErrUnauthorized
		}
		from = b.Status
		event, err = s.stageTransition(ctx, tx, b, domain.StatusCancelled, now)
		if err != nil {
			return err
		}
		if from == domain.StatusActive {
			if rem, ok := b.Dates.RemainingFrom(now); ok {
				return s.store.ReleaseDaysFrom(ctx, tx, b.ID, rem.Start)
			}
			return nil
		}
		return s.store.ReleaseRange(ctx, tx, b.ID)
	})
	if err != nil {
		return nil, s.noteConflict(err)
	}
	s.finishTransition(ctx, actorID, event)
	s.settleCancellation(ctx, b, from, decision)
	return b, nil
}

func (s *Service) settleCancellation(ctx context.Context, b *domain.Booking, from domain.Status, decision domain.RefundDecision) {
	if !from.Booked() {
		// REQUESTED: no money has moved yet.
		return
	}
	rec, err := s.store.GetPaymentRecord(ctx, b.ID)
	if err != nil {
		s.logger.WithField("booking_id", b.ID).Error("cannot load payment record for refund", err)
		return
	}
	deposit := b.Pricing.SecurityDepositCents
	rentalCaptured := rec.AmountCapturedCents - deposit
	if rentalCaptured < 0 {
		rentalCaptured = 0
	}
	if refund := decision.RefundAmount(rentalCaptured); refund > 0 {
		if _, err := s.orch.Refund(ctx, b.ID, rec.ProcessorReference, refund, "cancellation"); err != nil {
			s.logger.WithField("booking_id", b.ID).Error("cancellation refund failed", err)
		}
	}
	if deposit > 0 && rec.AmountCapturedCents >= deposit {
		if _, err := s.orch.Refund(ctx, b.ID, rec.ProcessorReference, deposit, "deposit_release"); err != nil {
			s.logger.WithField("booking_id", b.ID).Error("deposit release failed", err)
		}
	}
}

// Expire forces an overdue booking through the EXPIRED edge and frees
// its dates. A compare-and-swap loss means somebody acted inside the
// window; the caller treats that as a skip, not a failure.
func (s *Service) Expire(ctx context.Context, bookingID uuid.UUID, now time.Time) error {
	var b *domain.Booking
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = s.store.GetBookingForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case domain.StatusRequested:
			if b.ApprovalDeadline.After(now) {
				return errors.Wrap(domain.ErrStateConflict, "approval deadline not reached")
			}
		case domain.StatusAwaitingPayment:
			if b.HoldExpiresAt.IsZero() || b.HoldExpiresAt.After(now) {
				return errors.Wrap(domain.ErrStateConflict, "payment hold not expired")
			}
		default:
			return errors.Wrapf(domain.ErrStateConflict, "booking is %s", b.Status)
		}
		event, err = s.stageTransition(ctx, tx, b, domain.StatusExpired, now)
		if err != nil {
			return err
		}
		return s.store.ReleaseRange(ctx, tx, b.ID)
	})
	if err != nil {
		return s.noteConflict(err)
	}
	s.finishTransition(ctx, uuid.Nil, event)
	if b.PaymentReference != "" {
		if _, err := s.orch.Void(ctx, b.ID, b.PaymentReference); err != nil {
			s.logger.WithField("booking_id", b.ID).Warn("void after expiry failed", err)
		}
	}
	return nil
}

// ReconcileStuck re-queries the processor for bookings parked in
// PAYMENT_PROCESSING longer than olderThan: the cases where a capture
// call timed out and its outcome was never learned.
func (s *Service) ReconcileStuck(ctx context.Context, now time.Time, olderThan time.Duration, limit int) (int, error) {
	stuck, err := s.store.ListPaymentProcessing(ctx, now.Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range stuck {
		b := &stuck[i]
		if err := s.reconcileOne(ctx, b, now); err != nil {
			s.logger.WithField("booking_id", b.ID).Warn("reconcile failed", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (s *Service) reconcileOne(ctx context.Context, b *domain.Booking, now time.Time) error {
	if b.PaymentReference == "" {
		// No authorization was ever recorded, so nothing can have been
		// captured. Send the renter back to try again.
		s.recoverToAwaitingPayment(ctx, b, uuid.Nil)
		return nil
	}
	result, err := s.orch.LookupAuthorization(ctx, b.PaymentReference)
	if err != nil {
		return err
	}
	switch result.Status {
	case payments.StatusCaptured:
		_, err := s.confirmBooking(ctx, b, uuid.Nil, now)
		return err
	case payments.StatusAuthorized:
		// The capture never landed. Void so it cannot land later, then
		// hand the booking back to the renter.
		if _, err := s.orch.Void(ctx, b.ID, b.PaymentReference); err != nil {
			return err
		}
		s.recoverToAwaitingPayment(ctx, b, uuid.Nil)
		return nil
	default:
		s.recoverToAwaitingPayment(ctx, b, uuid.Nil)
		return nil
	}
}

// Get returns a booking with its payment record to its renter or owner.
func (s *Service) Get(ctx context.Context, bookingID, actorID uuid.UUID) (*domain.Booking, *domain.PaymentRecord, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !b.Party(actorID) {
		return nil, nil, domain.ErrUnauthorized
	}
	rec, err := s.store.GetPaymentRecord(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return b, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return b, rec, nil
}

func (s *Service) Availability(ctx context.Context, listingID uuid.UUID, dates domain.DateRange) ([]domain.AvailabilityEntry, error) {
	return s.store.QueryAvailability(ctx, listingID, dates)
}

// BlockDates lets the owner take days off the market.
func (s *Service) BlockDates(ctx context.Context, listingID, actorID uuid.UUID, dates domain.DateRange, reason string) error {
	listing, err := s.catalog.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.OwnerID != actorID {
		return domain.ErrUnauthorized
	}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		return s.store.BlockDays(ctx, tx, listingID, dates, reason)
	})
	if errors.Is(err, domain.ErrAvailabilityConflict) {
		observability.AvailabilityConflicts.Inc()
	}
	return err
}

func (s *Service) UnblockDates(ctx context.Context, listingID, actorID uuid.UUID, dates domain.DateRange) error {
	listing, err := s.catalog.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.OwnerID != actorID {
		return domain.ErrUnauthorized
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return s.store.UnblockDays(ctx, tx, listingID, dates)
	})
}

// recoverToAwaitingPayment returns a booking to AWAITING_PAYMENT after
// a failed payment attempt. The hold expiry is deliberately not
// extended. If the booking settled some other way in the meantime,
// this is a no-op.
func (s *Service) recoverToAwaitingPayment(ctx context.Context, b *domain.Booking, actorID uuid.UUID) {
	now := time.Now().UTC()
	var event domain.TransitionEvent
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		fresh, err := s.store.GetBookingForUpdate(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if fresh.Status != domain.StatusPaymentProcessing {
			event = domain.TransitionEvent{}
			return nil
		}
		event, err = s.stageTransition(ctx, tx, fresh, domain.StatusAwaitingPayment, now)
		return err
	})
	if err != nil {
		s.logger.WithField("booking_id", b.ID).Error("failed to return booking to AWAITING_PAYMENT", err)
		return
	}
	if event.BookingID != uuid.Nil {
		s.finishTransition(ctx, actorID, event)
		b.Status = domain.StatusAwaitingPayment
	}
}

// confirmBooking applies PAYMENT_PROCESSING -> CONFIRMED and firms up
// the calendar. Finding the booking already CONFIRMED is success: the
// event feed got there first.
func (s *Service) confirmBooking(ctx context.Context, b *domain.Booking, actorID uuid.UUID, now time.Time) (*domain.Booking, error) {
	var event domain.TransitionEvent
	var confirmed *domain.Booking
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		fresh, err := s.store.GetBookingForUpdate(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if fresh.Status == domain.StatusConfirmed {
			event = domain.TransitionEvent{}
			confirmed = fresh
			return nil
		}
		event, err = s.stageTransition(ctx, tx, fresh, domain.StatusConfirmed, now)
		if err != nil {
			return err
		}
		if err := s.store.ConfirmRange(ctx, tx, fresh.ID); err != nil {
			return err
		}
		confirmed = fresh
		return nil
	})
	if err != nil {
		return nil, s.noteConflict(err)
	}
	if event.BookingID != uuid.Nil {
		s.finishTransition(ctx, actorID, event)
	}
	return confirmed, nil
}

// stageTransition checks the edge, applies the compare-and-swap and
// stages the outbox event, all against the caller's transaction. The
// passed booking is updated in place on success.
func (s *Service) stageTransition(ctx context.Context, tx pgx.Tx, b *domain.Booking, to domain.Status, now time.Time) (domain.TransitionEvent, error) {
	from := b.Status
	if !domain.CanTransition(from, to) {
		return domain.TransitionEvent{}, errors.Wrapf(domain.ErrStateConflict, "no transition %s to %s", from, to)
	}
	if err := s.store.TransitionStatus(ctx, tx, b.ID, from, to, now); err != nil {
		return domain.TransitionEvent{}, err
	}
	event := domain.TransitionEvent{
		BookingID:      b.ID,
		ListingID:      b.ListingID,
		PreviousStatus: from,
		NewStatus:      to,
		OccurredAt:     now,
	}
	if err := s.insertEvent(ctx, tx, event); err != nil {
		return domain.TransitionEvent{}, err
	}
	b.Status = to
	b.StatusChangedAt = now
	return event, nil
}

func (s *Service) insertEvent(ctx context.Context, tx pgx.Tx, event domain.TransitionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.store.InsertOutbox(ctx, tx, postgres.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   event.BookingID,
		EventType:     event.EventType(),
		Payload:       payload,
		DedupeKey:     fmt.Sprintf("%s:%s>%s", event.BookingID, event.PreviousStatus, event.NewStatus),
	})
}

// finishTransition does the post-commit bookkeeping: metrics and the
// best-effort audit trail.
func (s *Service) finishTransition(ctx context.Context, actorID uuid.UUID, event domain.TransitionEvent) {
	from := string(event.PreviousStatus)
	if from == "" {
		from = "none"
	}
	observability.TransitionsTotal.WithLabelValues(from, string(event.NewStatus)).Inc()
	if s.audit == nil {
		return
	}
	if err := s.audit.LogTransition(ctx, actorID, event); err != nil {
		s.logger.WithField("booking_id", event.BookingID).Warn("audit write failed", err)
	}
}

func (s *Service) noteConflict(err error) error {
	if errors.Is(err, domain.ErrStateConflict) {
		observability.TransitionConflicts.Inc()
	}
	return err
}
