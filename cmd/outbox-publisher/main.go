package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/peershare/rental-bookings/internal/adapters/postgres"
	"github.com/peershare/rental-bookings/internal/adapters/rabbit"
	"github.com/peershare/rental-bookings/internal/config"
	"github.com/peershare/rental-bookings/internal/observability"
	"github.com/peershare/rental-bookings/internal/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishBatchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger().WithField("component", "outbox-publisher")

	pool, err := pgxpool.New(context.Background(), cfg.PgDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	broker, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to open publish channel: %v", err)
	}

	pub := outbox.New(repo, broker, logger, cfg.OutboxPollInterval, publishBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutdown Publisher ...")
		cancel()
	}()

	logger.WithField("interval", cfg.OutboxPollInterval.String()).Info("outbox publisher started")
	pub.Run(ctx)
	logger.Info("Publisher exiting")
}
