package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mongoadapter "github.com/peershare/rental-bookings/internal/adapters/mongo"
	"github.com/peershare/rental-bookings/internal/adapters/postgres"
	redisadapter "github.com/peershare/rental-bookings/internal/adapters/redis"
	"github.com/peershare/rental-bookings/internal/booking"
	"github.com/peershare/rental-bookings/internal/config"
	"github.com/peershare/rental-bookings/internal/observability"
	"github.com/peershare/rental-bookings/internal/payments"
	"github.com/peershare/rental-bookings/internal/sweeper"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

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

	logger := observability.NewLogger().WithField("component", "sweeper")

	pool, err := pgxpool.New(context.Background(), cfg.PgDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	catalog := mongoadapter.NewListingCatalog(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)

	processor := payments.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout)
	orch := payments.NewOrchestrator(repo, processor, redisCache, audit, logger, cfg.PaymentMaxAttempts)

	svc := booking.NewService(repo, catalog, orch, audit, logger, cfg.ApprovalWindow, cfg.HoldWindow)
	sweep := sweeper.New(repo, svc, logger, cfg.SweepBatchSize, cfg.StuckPaymentAfter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	_, err = c.AddFunc("@every "+cfg.SweepInterval.String(), func() {
		if _, err := sweep.Sweep(ctx, time.Now().UTC()); err != nil {
			logger.WithField("error", err).Error("sweep failed")
		}
	})
	if err != nil {
		log.Fatalf("failed to schedule sweep: %v", err)
	}
	c.Start()
	logger.WithField("interval", cfg.SweepInterval.String()).Info("sweeper started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Sweeper ...")

	cancel()
	<-c.Stop().Done()
	logger.Info("Sweeper exiting")
}
