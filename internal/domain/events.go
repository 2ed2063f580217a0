package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransitionEvent is emitted for every successful status change and is the
// only contract the notification consumers depend on.
type TransitionEvent struct {
	BookingID      uuid.UUID `json:"booking_id"`
	ListingID      uuid.UUID `json:"listing_id"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventType is the routing key for the event feed, e.g. "booking.confirmed".
func (e TransitionEvent) EventType() string {
	return "booking." + strings.ToLower(string(e.NewStatus))
}
