package redis_client

import (
	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/travigo/sytral-relay/pkg/config"
)

// NewClient builds a client without touching the network. Errors surface on
// the first command.
func NewClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Password == "" {
		return redis.NewClient(&redis.Options{
			Addr: cfg.Address,
			DB:   cfg.Database,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	})
}

func OpenQueueConnection(client *redis.Client) (rmq.Connection, error) {
	return rmq.OpenConnectionWithRedisClient("sytral-relay", client, nil)
}
