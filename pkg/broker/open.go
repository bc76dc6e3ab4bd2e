package broker

import (
	"fmt"
	"strings"

	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/redis_client"
)

// Broker is a driver that can both publish to and consume from the topic
type Broker interface {
	Producer
	Connector
}

// Open creates the configured driver without connecting. Missing connection
// parameters are reported as ErrMissingBrokerConfig and are not retried, an
// unreachable broker surfaces on Connect or Publish.
func Open(cfg config.BrokerConfig) (Broker, error) {
	if cfg.Address == "" || cfg.Topic == "" || cfg.Group == "" {
		return nil, ErrMissingBrokerConfig
	}

	switch cfg.Driver {
	case config.BrokerDriverRedisStream:
		return &RedisStream{
			Client: redis_client.NewClient(config.RedisConfig{
				Address:  cfg.Address,
				Password: cfg.Password,
			}),
			Stream:    cfg.Topic,
			Group:     cfg.Group,
			BatchSize: cfg.BatchSize,
			FetchWait: cfg.FetchWait,
			MaxLen:    cfg.MaxLen,
		}, nil
	case config.BrokerDriverRMQ:
		return &RMQ{
			Client: redis_client.NewClient(config.RedisConfig{
				Address:  cfg.Address,
				Password: cfg.Password,
			}),
			Queue:     cfg.Topic,
			Group:     cfg.Group,
			BatchSize: cfg.BatchSize,
			FetchWait: cfg.FetchWait,
		}, nil
	case config.BrokerDriverStomp:
		return &Stomp{
			Address:     cfg.Address,
			Username:    cfg.Username,
			Password:    cfg.Password,
			Destination: cfg.Topic,
			BatchSize:   cfg.BatchSize,
			FetchWait:   cfg.FetchWait,
		}, nil
	case config.BrokerDriverKafka:
		return &Kafka{
			Brokers:   strings.Split(cfg.Address, ","),
			Username:  cfg.Username,
			Password:  cfg.Password,
			Topic:     cfg.Topic,
			Group:     cfg.Group,
			BatchSize: cfg.BatchSize,
			FetchWait: cfg.FetchWait,
		}, nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
