package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/peershare/rental-bookings/internal/adapters/redis"
)

// Idempotency replays stored responses for repeated submission keys and
// fences concurrent first attempts on the same key.
type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}

// Claim marks the key in flight. A second request holding the same key
// is turned away until the first stores its response or dies and the
// claim expires.
func (i *Idempotency) Claim(ctx context.Context, key string) (bool, error) {
	return i.redis.Claim(ctx, key, i.ttl)
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.redis.Release(ctx, key)
}
