package calls

import (
	"context"
	"time"

	"voice-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisCapacityGate enforces a per-tenant concurrent call limit shared by every
// process pointed at the same Redis.
type RedisCapacityGate struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

// NewRedisCapacityGate returns nil when limit is not positive.
func NewRedisCapacityGate(rdb *redis.Client, limit int, ttl time.Duration) *RedisCapacityGate {
	if rdb == nil || limit <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisCapacityGate{rdb: rdb, limit: limit, ttl: ttl}
}

func capacityKey(tenantID string) string { return "voice:active_calls:" + tenantID }

func (g *RedisCapacityGate) Acquire(ctx context.Context, tenantID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, capacityKey(tenantID), g.limit, g.ttl)
}

func (g *RedisCapacityGate) Release(ctx context.Context, tenantID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, capacityKey(tenantID))
}
