package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRequested         Status = "REQUESTED"
	StatusAwaitingPayment   Status = "AWAITING_PAYMENT"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusConfirmed         Status = "CONFIRMED"
	StatusActive            Status = "ACTIVE"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
	StatusRejected          Status = "REJECTED"
	StatusExpired           Status = "EXPIRED"
)

// legalTransitions is the complete edge set of the booking lifecycle.
// Every status change in the system goes through CanTransition; there is
// no other place where edges are defined.
var legalTransitions = map[Status][]Status{
	StatusRequested:         {StatusAwaitingPayment, StatusRejected, StatusExpired, StatusCancelled},
	StatusAwaitingPayment:   {StatusPaymentProcessing, StatusExpired},
	StatusPaymentProcessing: {StatusConfirmed, StatusAwaitingPayment},
	StatusConfirmed:         {StatusActive, StatusCancelled},
	StatusActive:            {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a booking in this status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// HoldsDates reports whether a booking in this status occupies its date
// range on the listing's calendar.
func (s Status) HoldsDates() bool {
	switch s {
	case StatusRequested, StatusAwaitingPayment, StatusPaymentProcessing, StatusConfirmed, StatusActive:
		return true
	}
	return false
}

// Booked reports whether the hold is a firm reservation rather than a
// tentative one. Tentative holds are reversible until payment confirms.
func (s Status) Booked() bool {
	switch s {
	case StatusConfirmed, StatusActive:
		return true
	}
	return false
}

type Booking struct {
	ID               uuid.UUID
	ListingID        uuid.UUID
	RenterID         uuid.UUID
	OwnerID          uuid.UUID
	Dates            DateRange
	Status           Status
	Pricing          PricingBreakdown
	PaymentReference string
	ApprovalDeadline time.Time
	HoldExpiresAt    time.Time
	CreatedAt        time.Time
	StatusChangedAt  time.Time
}

type CreateBookingParams struct {
	ListingID      uuid.UUID
	RenterID       uuid.UUID
	OwnerID        uuid.UUID
	Dates          DateRange
	Pricing        PricingBreakdown
	ApprovalWindow time.Duration
	Now            time.Time
}

func NewBooking(p CreateBookingParams) (*Booking, error) {
	if p.ListingID == uuid.Nil || p.RenterID == uuid.Nil || p.OwnerID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	if p.RenterID == p.OwnerID {
		return nil, ErrInvalidInput
	}
	if p.Dates.Days() <= 0 {
		return nil, ErrInvalidInput
	}
	now := p.Now.UTC()
	if p.Dates.End.Before(truncateToDay(now)) {
		return nil, ErrInvalidInput
	}
	return &Booking{
		ID:               uuid.New(),
		ListingID:        p.ListingID,
		RenterID:         p.RenterID,
		OwnerID:          p.OwnerID,
		Dates:            p.Dates,
		Status:           StatusRequested,
		Pricing:          p.Pricing,
		ApprovalDeadline: now.Add(p.ApprovalWindow),
		CreatedAt:        now,
		StatusChangedAt:  now,
	}, nil
}

// Party reports whether the given actor is the renter or the owner.
func (b *Booking) Party(actor uuid.UUID) bool {
	return actor == b.RenterID || actor == b.OwnerID
}
