package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecord tracks the money side of one booking, one record per
// booking from authorization onward. Amounts only ever grow:
// captured <= authorized, transferred <= captured - platform revenue.
type PaymentRecord struct {
	BookingID              uuid.UUID
	ProcessorReference     string
	AmountAuthorizedCents  int64
	AmountCapturedCents    int64
	AmountTransferredCents int64
	AmountRefundedCents    int64
	LastProcessorStatus    string
	UpdatedAt              time.Time
}

type AvailabilityStatus string

const (
	AvailabilityHeld    AvailabilityStatus = "HELD"
	AvailabilityBooked  AvailabilityStatus = "BOOKED"
	AvailabilityBlocked AvailabilityStatus = "BLOCKED"
)

// AvailabilityEntry is one non-available day on a listing's calendar.
// Days without an entry are available.
type AvailabilityEntry struct {
	ListingID uuid.UUID
	Day       time.Time
	Status    AvailabilityStatus
	BookingID *uuid.UUID
	Reason    string
}
