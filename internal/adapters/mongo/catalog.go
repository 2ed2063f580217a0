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

// ListingCatalog reads the rate cards the pricing calculator quotes
// from. Listings are owned by the catalog service; this engine only
// ever writes them in tests.
type ListingCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewListingCatalog(db *mongo.Database, logger observability.Logger) *ListingCatalog {
	return &ListingCatalog{
		coll:   db.Collection("listings"),
		logger: logger,
	}
}

type ListingDoc struct {
	ID                   uuid.UUID `bson:"_id"`
	OwnerID              uuid.UUID `bson:"owner_id"`
	Title                string    `bson:"title"`
	DailyRateCents       int64     `bson:"daily_rate_cents"`
	WeeklyRateCents      int64     `bson:"weekly_rate_cents"`
	SecurityDepositCents int64     `bson:"security_deposit_cents"`
	DeliveryFeeCents     int64     `bson:"delivery_fee_cents"`
	InsuranceAvailable   bool      `bson:"insurance_available"`
	PayoutAccount        string    `bson:"payout_account"`
	Active               bool      `bson:"active"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
}

func (c *ListingCatalog) GetListing(ctx context.Context, id uuid.UUID) (*ListingDoc, error) {
	var listing ListingDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&listing)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get listing", err)
		return nil, err
	}
	return &listing, nil
}

func (c *ListingCatalog) CreateListing(ctx context.Context, listing ListingDoc) error {
	listing.CreatedAt = time.Now()
	listing.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, listing)
	if err != nil {
		c.logger.Error("failed to create listing", err)
		return err
	}
	return nil
}

func (c *ListingCatalog) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"active": active, "updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.Error("failed to update listing", err)
		return err
	}
	return nil
}
