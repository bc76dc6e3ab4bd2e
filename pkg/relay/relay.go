package relay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/sytral-relay/pkg/api"
	"github.com/travigo/sytral-relay/pkg/api/routes"
	"github.com/travigo/sytral-relay/pkg/broker"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/database"
	"github.com/travigo/sytral-relay/pkg/elastic_client"
	"github.com/travigo/sytral-relay/pkg/feedpoller"
	"github.com/travigo/sytral-relay/pkg/hub"
	"github.com/travigo/sytral-relay/pkg/redis_client"
	"github.com/travigo/sytral-relay/pkg/vehiclecache"
)

const memoryStoreCapacity = 10000

// Relay is every component of one process. A component whose configuration
// is fatal for it is left nil and the rest still run.
type Relay struct {
	Config *config.Config

	Hub      *hub.Hub
	Store    database.DataStore
	Broker   broker.Broker
	Consumer *broker.Consumer
	Poller   *feedpoller.Poller
	Server   *api.Server

	redisClient *redis.Client
	mongo       *database.MongoInstance
	indexer     *elastic_client.Indexer
}

func Setup(ctx context.Context, cfg *config.Config) *Relay {
	r := &Relay{
		Config: cfg,
		Hub:    hub.New(hub.WithLagBound(cfg.Hub.LagBound)),
	}

	checks := map[string]routes.HealthCheck{}
	var observers []broker.BatchObserver

	redisClient := redis_client.NewClient(cfg.Redis)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("Redis unavailable, latest batch cache retries on every batch")
	}
	r.redisClient = redisClient
	latestBatch := vehiclecache.New(redisClient, 10*time.Minute)
	observers = append(observers, latestBatch)
	checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	if cfg.MongoDB.Connection != "" {
		instance, err := database.ConnectMongoDB(cfg.MongoDB)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to MongoDB, using in-memory store")
		} else {
			r.mongo = instance
			checks["mongodb"] = func(ctx context.Context) error { return instance.Client.Ping(ctx, nil) }
		}
	}
	if r.mongo != nil {
		r.Store = database.NewMongoStore(r.mongo)
	} else {
		log.Info().Int("capacity", memoryStoreCapacity).Msg("Storing vehicle positions in memory")
		r.Store = database.NewMemoryStore(memoryStoreCapacity)
	}

	indexer, err := elastic_client.Connect(cfg.Elasticsearch)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Elasticsearch, indexing disabled")
	} else if indexer != nil {
		r.indexer = indexer
		observers = append(observers, indexer)
	}

	r.Broker, err = broker.Open(cfg.Broker)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Broker.Driver).Msg("Broker refused to start")
	} else {
		publisher := broker.NewPublisher(r.Broker, cfg.Broker.Topic)
		publisher.Timeout = cfg.Broker.PublishTimeout
		publisher.Retries = cfg.Broker.PublishRetries

		r.Consumer, err = broker.NewConsumer(r.Broker, r.Store, r.Hub, observers...)
		if err != nil {
			log.Error().Err(err).Msg("Broker consumer refused to start")
		} else {
			r.Consumer.RetryDelay = cfg.Broker.RetryDelay
		}

		r.Poller, err = feedpoller.New(cfg.Feed, publisher)
		if err != nil {
			log.Error().Err(err).Msg("Feed poller refused to start")
		}
	}

	r.Server = &api.Server{
		Listen: cfg.Listen,
		Hub:    r.Hub,
		Store:  r.Store,
		Latest: latestBatch,
		Broker: cfg.Broker,
		Checks: checks,
		Status: r,
	}
	if queue, ok := r.Broker.(*broker.RMQ); ok {
		r.Server.Queues = queue
	}

	return r
}

// Status is the live state reported by the health endpoint
func (r *Relay) Status() map[string]interface{} {
	status := map[string]interface{}{
		"subscribers":     r.Hub.Count(),
		"feed_poller":     r.Poller != nil,
		"broker_consumer": "disabled",
	}
	if r.Consumer != nil {
		status["broker_consumer"] = r.Consumer.State().String()
	}

	return status
}

// Run starts every enabled loop and blocks until ctx is cancelled or one of
// them fails
func (r *Relay) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()

	if r.Consumer != nil {
		p.Go(r.Consumer.Run)
	}
	if r.Poller != nil {
		p.Go(r.Poller.Run)
	}
	if queue, ok := r.Broker.(*broker.RMQ); ok {
		p.Go(func(ctx context.Context) error {
			return queue.RunCleaner(ctx, broker.DefaultCleanInterval)
		})
	}
	p.Go(r.Server.Run)

	return p.Wait()
}

func (r *Relay) Close(ctx context.Context) {
	if r.Broker != nil {
		if err := r.Broker.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close broker")
		}
	}
	if err := r.indexer.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to flush Elasticsearch indexer")
	}
	if r.mongo != nil {
		if err := r.mongo.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to disconnect MongoDB")
		}
	}
	if r.redisClient != nil {
		r.redisClient.Close()
	}
}
