package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Lifecycle is the slice of the booking service the sweeper drives.
type Lifecycle interface {
	Expire(ctx context.Context, bookingID uuid.UUID, now time.Time) error
	ReconcileStuck(ctx context.Context, now time.Time, olderThan time.Duration, limit int) (int, error)
}

type Store interface {
	GetExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
}

const sweepConcurrency = 4

// Sweeper expires bookings whose approval or payment window ran out and
// re-queries the processor for payments stuck in flight. Every booking
// is handled in its own transaction, so a batch survives individual
// losers.
type Sweeper struct {
	store      Store
	svc        Lifecycle
	logger     observability.Logger
	batchSize  int
	stuckAfter time.Duration
}

func New(store Store, svc Lifecycle, logger observability.Logger, batchSize int, stuckAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		svc:        svc,
		logger:     logger,
		batchSize:  batchSize,
		stuckAfter: stuckAfter,
	}
}

type Result struct {
	Expired    int
	Skipped    int
	Reconciled int
}

func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	overdue, err := s.store.GetExpirable(ctx, now, s.batchSize)
	if err != nil {
		return Result{}, err
	}

	var expired, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for i := range overdue {
		b := overdue[i]
		g.Go(func() error {
			err := s.svc.Expire(gctx, b.ID, now)
			switch {
			case err == nil:
				expired.Add(1)
				observability.SweeperExpired.WithLabelValues(expireKind(b.Status)).Inc()
			case errors.Is(err, domain.ErrStateConflict):
				// Somebody acted inside the window; their transition wins.
				skipped.Add(1)
			default:
				s.logger.WithField("booking_id", b.ID).Error("expire failed", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	reconciled, err := s.svc.ReconcileStuck(ctx, now, s.stuckAfter, s.batchSize)
	if err != nil {
		s.logger.Error("stuck payment pass failed", err)
	}

	res := Result{Expired: int(expired.Load()), Skipped: int(skipped.Load()), Reconciled: reconciled}
	s.logger.WithFields(map[string]interface{}{
		"expired":    res.Expired,
		"skipped":    res.Skipped,
		"reconciled": res.Reconciled,
	}).Info("sweep finished")
	return res, nil
}

func expireKind(status domain.Status) string {
	if status == domain.StatusRequested {
		return "request_expired"
	}
	return "hold_expired"
}
