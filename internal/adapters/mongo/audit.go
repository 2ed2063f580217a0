package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger keeps a who-did-what trail for bookings. It is written
// after commit and best effort: a failed audit write is logged, never
// propagated into the booking flow.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("booking_audit"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	ActorID   uuid.UUID `bson:"actor_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, actorID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogTransition(ctx context.Context, actorID uuid.UUID, event domain.TransitionEvent) error {
	data := map[string]interface{}{
		"booking_id":  event.BookingID,
		"listing_id":  event.ListingID,
		"from_status": event.PreviousStatus,
		"to_status":   event.NewStatus,
		"occurred_at": event.OccurredAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, event.EventType(), actorID, data)
}

func (a *AuditLogger) LogPayment(ctx context.Context, bookingID uuid.UUID, operation, outcome string, amountCents int64) error {
	data := map[string]interface{}{
		"booking_id":   bookingID,
		"operation":    operation,
		"outcome":      outcome,
		"amount_cents": amountCents,
	}
	return a.LogEvent(ctx, "payment."+operation, bookingID, data)
}
