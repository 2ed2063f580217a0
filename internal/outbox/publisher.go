package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/peershare/rental-bookings/internal/adapters/postgres"
	"github.com/peershare/rental-bookings/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]postgres.OutboxRecord, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

const publishRetries = 3

// Publisher drains NEW outbox records into rabbit. A batch is claimed
// and marked inside one transaction; a failed publish rolls the claim
// back, so delivery is at-least-once and consumers dedupe on MessageId.
type Publisher struct {
	store       Store
	broker      Broker
	logger      observability.Logger
	interval    time.Duration
	batchSize   int
	backoffUnit time.Duration
}

func New(store Store, broker Broker, logger observability.Logger, interval time.Duration, batchSize int) *Publisher {
	return &Publisher{
		store:       store,
		broker:      broker,
		logger:      logger,
		interval:    interval,
		batchSize:   batchSize,
		backoffUnit: time.Second,
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil {
				p.logger.Error("outbox drain failed", err)
			}
		}
	}
}

// Drain publishes batches until the backlog is empty.
func (p *Publisher) Drain(ctx context.Context) error {
	for {
		n, err := p.publishBatch(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			observability.OutboxLag.Set(0)
			return nil
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	published := 0
	err := p.store.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := p.store.GetUnpublishedOutbox(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Timestamp:   rec.CreatedAt,
				Body:        rec.Payload,
			}
			if err := p.publishWithRetry(ctx, rec.EventType, msg); err != nil {
				return err
			}
			if err := p.store.MarkPublished(ctx, tx, rec.ID, time.Now().UTC()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

func (p *Publisher) publishWithRetry(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	var lastErr error
	for i := 0; i < publishRetries; i++ {
		if lastErr = p.broker.Publish(ctx, routingKey, msg); lastErr == nil {
			return nil
		}
		if i == publishRetries-1 {
			break
		}
		observability.RabbitPublishRetries.Inc()
		backoff := time.Duration(1<<i) * p.backoffUnit
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
