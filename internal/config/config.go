package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string
	PgDSN     string
	MongoURI  string
	MongoDB   string
	RedisAddr string
	RabbitURL string
	JWTSecret string

	// ApprovalWindow is how long the owner has to answer a request;
	// HoldWindow is how long the renter has to complete payment after
	// approval.
	ApprovalWindow time.Duration
	HoldWindow     time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
	// StuckPaymentAfter is how long a booking may sit in
	// PAYMENT_PROCESSING before the sweeper re-queries the processor.
	StuckPaymentAfter time.Duration
	IdempotencyTTL    time.Duration

	ProcessorBaseURL   string
	ProcessorAPIKey    string
	ProcessorTimeout   time.Duration
	PaymentMaxAttempts int

	OutboxPollInterval time.Duration
	OTLPEndpoint       string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		PgDSN:     os.Getenv("PG_DSN"),
		MongoURI:  os.Getenv("MONGO_URI"),
		MongoDB:   getEnv("MONGO_DB", "rentals"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		RabbitURL: os.Getenv("RABBIT_URL"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		ApprovalWindow:    durationEnv("APPROVAL_WINDOW", 24*time.Hour),
		HoldWindow:        durationEnv("HOLD_WINDOW", 30*time.Minute),
		SweepInterval:     durationEnv("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:    intEnv("SWEEP_BATCH_SIZE", 100),
		StuckPaymentAfter: durationEnv("STUCK_PAYMENT_AFTER", 15*time.Minute),
		IdempotencyTTL:    durationEnv("IDEMPOTENCY_TTL", time.Hour),

		ProcessorBaseURL:   os.Getenv("PROCESSOR_BASE_URL"),
		ProcessorAPIKey:    os.Getenv("PROCESSOR_API_KEY"),
		ProcessorTimeout:   durationEnv("PROCESSOR_TIMEOUT", 10*time.Second),
		PaymentMaxAttempts: intEnv("PAYMENT_MAX_ATTEMPTS", 3),

		OutboxPollInterval: durationEnv("OUTBOX_POLL_INTERVAL", time.Second),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
