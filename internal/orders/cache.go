package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

// CachedStatus is what the status cache holds per order.
type CachedStatus struct {
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache is a read-through cache of order statuses. Misses and
// cache errors fall back to the store. Every writer of a status event
// sets the new value.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (CachedStatus, bool)
	Set(ctx context.Context, orderID string, s CachedStatus)
}

type RedisStatusCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func (c RedisStatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool) {
	b, err := c.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Bytes()
	if err != nil {
		return CachedStatus{}, false
	}
	var s CachedStatus
	if err := json.Unmarshal(b, &s); err != nil || !s.Status.Valid() {
		return CachedStatus{}, false
	}
	return s, true
}

func (c RedisStatusCache) Set(ctx context.Context, orderID string, s CachedStatus) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = redisx.TTLStatusCache
	}
	_ = c.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID), b, ttl).Err()
}

// NoStatusCache never hits.
type NoStatusCache struct{}

func (NoStatusCache) Get(context.Context, string) (CachedStatus, bool) { return CachedStatus{}, false }
func (NoStatusCache) Set(context.Context, string, CachedStatus)        {}
