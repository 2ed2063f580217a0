package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/peershare/rental-bookings/internal/observability"
	"github.com/peershare/rental-bookings/internal/rateLimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// The processor authenticates by redelivery contract, not by JWT.
	r.Post("/v1/payments/webhook", h.ProcessorWebhook)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(jwtSecret))
		r.Use(RateLimitMiddleware(rl))

		r.With(RequireIdempotencyKey).Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/approve", h.ApproveBooking)
		r.Post("/v1/bookings/{id}/decline", h.DeclineBooking)
		r.With(RequireIdempotencyKey).Post("/v1/bookings/{id}/payment", h.SubmitPayment)
		r.Post("/v1/bookings/{id}/activate", h.ActivateBooking)
		r.Post("/v1/bookings/{id}/complete", h.CompleteBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)

		r.Get("/v1/listings/{id}/availability", h.ListingAvailability)
		r.Post("/v1/listings/{id}/blocks", h.BlockListingDays)
		r.Delete("/v1/listings/{id}/blocks", h.UnblockListingDays)

		r.With(AdminOnly).Post("/v1/admin/sweep", h.TriggerSweep)
	})

	return r
}
