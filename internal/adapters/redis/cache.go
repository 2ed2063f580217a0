package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// MarkEventSeen records a processor event id the first time it shows
// up. A false return means the event was already processed and the
// webhook should be acknowledged without effect.
func (c *Cache) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "pevt:"+eventID, 1, ttl)
	return res.Val(), res.Err()
}
