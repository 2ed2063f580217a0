package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rb_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rb_transitions_total",
			Help: "Booking status transitions applied",
		},
		[]string{"from", "to"},
	)

	TransitionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rb_transition_conflicts_total",
			Help: "Status transitions rejected by compare-and-swap",
		},
	)

	AvailabilityConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rb_availability_conflicts_total",
			Help: "Date reservations lost to an existing hold or booking",
		},
	)

	PaymentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rb_payment_attempts_total",
			Help: "Processor calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	SweeperExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rb_sweeper_expired_total",
			Help: "Bookings expired by the deadline sweeper",
		},
		[]string{"kind"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rb_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rb_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rb_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rb_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
