package shield

import (
	"context"
	"time"

	"github.com/beaconops/beacon/storage"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/toolkits/pkg/logger"
)

var snapJson = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotCache remembers, per alert, which shield config ids matched on a
// previous evaluation, so steady-state checks skip condition re-evaluation.
// Redis failures degrade to a cache miss, never to a wrong verdict.
type SnapshotCache struct {
	redis storage.Redis
	ttl   time.Duration
}

func NewSnapshotCache(redis storage.Redis, ttlSeconds int64) *SnapshotCache {
	return &SnapshotCache{
		redis: redis,
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

// Get returns the cached config id list. The second return value is false on
// a miss or a redis failure; an empty cached list is a valid hit.
func (sc *SnapshotCache) Get(ctx context.Context, key string) ([]int64, bool) {
	if sc == nil || sc.redis == nil {
		return nil, false
	}

	val, err := sc.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warningf("failed to get shield snapshot %s: %v", key, err)
		}
		return nil, false
	}

	var ids []int64
	if err := snapJson.UnmarshalFromString(val, &ids); err != nil {
		logger.Warningf("failed to decode shield snapshot %s: %v", key, err)
		return nil, false
	}
	return ids, true
}

func (sc *SnapshotCache) Set(ctx context.Context, key string, ids []int64) {
	if sc == nil || sc.redis == nil {
		return
	}

	if ids == nil {
		ids = []int64{}
	}

	val, err := snapJson.MarshalToString(ids)
	if err != nil {
		return
	}

	if err := sc.redis.Set(ctx, key, val, sc.ttl).Err(); err != nil {
		logger.Warningf("failed to set shield snapshot %s: %v", key, err)
	}
}
