package vehiclecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

const latestBatchKey = "sytral-relay/latest-batch"

var ErrNoBatch = errors.New("no vehicle batch cached yet")

// LatestBatch keeps the last batch fanned out to subscribers so a client that
// has just connected can draw the map before the next poll
type LatestBatch struct {
	cache *cache.Cache[string]
}

func New(client *redis.Client, expiration time.Duration) *LatestBatch {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(expiration))

	return &LatestBatch{
		cache: cache.New[string](redisStore),
	}
}

func (l *LatestBatch) ObserveBatch(ctx context.Context, batch ctdf.VehicleBatch) error {
	batchJSON, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	return l.cache.Set(ctx, latestBatchKey, string(batchJSON))
}

func (l *LatestBatch) Latest(ctx context.Context) (ctdf.VehicleBatch, error) {
	cachedValue, err := l.cache.Get(ctx, latestBatchKey)
	if errors.Is(err, store.NotFound{}) {
		return nil, ErrNoBatch
	}
	if err != nil {
		return nil, err
	}

	var batch ctdf.VehicleBatch
	if err := json.Unmarshal([]byte(cachedValue), &batch); err != nil {
		return nil, err
	}

	return batch, nil
}
