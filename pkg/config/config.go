package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/travigo/sytral-relay/pkg/util"
	"gopkg.in/yaml.v3"
)

const (
	FeedFormatSiriLite = "siri-lite"
	FeedFormatGTFSRT   = "gtfs-rt"

	BrokerDriverRedisStream = "redis-stream"
	BrokerDriverRMQ         = "rmq"
	BrokerDriverStomp       = "stomp"
	BrokerDriverKafka       = "kafka"
)

const defaultFeedURL = "https://data.grandlyon.com/siri-lite/2.0/vehicle-monitoring.json"

type Config struct {
	Listen string `yaml:"listen"`

	Feed          FeedConfig          `yaml:"feed"`
	Broker        BrokerConfig        `yaml:"broker"`
	Hub           HubConfig           `yaml:"hub"`
	Redis         RedisConfig         `yaml:"redis"`
	MongoDB       MongoDBConfig       `yaml:"mongodb"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
}

type FeedConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Format   string `yaml:"format"`
	Filter   string `yaml:"filter"`

	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type BrokerConfig struct {
	Driver   string `yaml:"driver"`
	Address  string `yaml:"address"`
	Topic    string `yaml:"topic"`
	Group    string `yaml:"group"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	PublishTimeout time.Duration `yaml:"publish_timeout"`
	PublishRetries uint64        `yaml:"publish_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	FetchWait      time.Duration `yaml:"fetch_wait"`
	BatchSize      int64         `yaml:"batch_size"`

	// MaxLen caps the redis stream, trimmed approximately on every publish
	MaxLen int64 `yaml:"max_len"`
}

type HubConfig struct {
	LagBound int `yaml:"lag_bound"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

type MongoDBConfig struct {
	Connection string `yaml:"connection"`
	Database   string `yaml:"database"`
}

type ElasticsearchConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads the optional YAML file at path, then applies TRAVIGO_ environment
// overrides and defaults. Values a single component needs are checked by that
// component so the others can still start.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvironment(util.GetEnvironmentVariables()); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvironment(env map[string]string) error {
	overrides := map[string]*string{
		"TRAVIGO_LISTEN":                 &c.Listen,
		"TRAVIGO_SYTRAL_URL":             &c.Feed.URL,
		"TRAVIGO_SYTRAL_USERNAME":        &c.Feed.Username,
		"TRAVIGO_SYTRAL_PASSWORD":        &c.Feed.Password,
		"TRAVIGO_FEED_FORMAT":            &c.Feed.Format,
		"TRAVIGO_FEED_FILTER":            &c.Feed.Filter,
		"TRAVIGO_BROKER_DRIVER":          &c.Broker.Driver,
		"TRAVIGO_BROKER_ADDRESS":         &c.Broker.Address,
		"TRAVIGO_BROKER_TOPIC":           &c.Broker.Topic,
		"TRAVIGO_BROKER_GROUP":           &c.Broker.Group,
		"TRAVIGO_BROKER_USERNAME":        &c.Broker.Username,
		"TRAVIGO_BROKER_PASSWORD":        &c.Broker.Password,
		"TRAVIGO_REDIS_ADDRESS":          &c.Redis.Address,
		"TRAVIGO_REDIS_PASSWORD":         &c.Redis.Password,
		"TRAVIGO_MONGODB_CONNECTION":     &c.MongoDB.Connection,
		"TRAVIGO_MONGODB_DATABASE":       &c.MongoDB.Database,
		"TRAVIGO_ELASTICSEARCH_ADDRESS":  &c.Elasticsearch.Address,
		"TRAVIGO_ELASTICSEARCH_USERNAME": &c.Elasticsearch.Username,
		"TRAVIGO_ELASTICSEARCH_PASSWORD": &c.Elasticsearch.Password,
	}

	for name, target := range overrides {
		if env[name] != "" {
			*target = env[name]
		}
	}

	if env["TRAVIGO_REDIS_DATABASE"] != "" {
		n, err := strconv.Atoi(env["TRAVIGO_REDIS_DATABASE"])
		if err != nil {
			return fmt.Errorf("TRAVIGO_REDIS_DATABASE: %w", err)
		}
		c.Redis.Database = n
	}

	if env["TRAVIGO_PUBLISH_RETRIES"] != "" {
		n, err := strconv.ParseUint(env["TRAVIGO_PUBLISH_RETRIES"], 10, 64)
		if err != nil {
			return fmt.Errorf("TRAVIGO_PUBLISH_RETRIES: %w", err)
		}
		c.Broker.PublishRetries = n
	}

	if env["TRAVIGO_BROKER_MAX_LEN"] != "" {
		n, err := strconv.ParseInt(env["TRAVIGO_BROKER_MAX_LEN"], 10, 64)
		if err != nil {
			return fmt.Errorf("TRAVIGO_BROKER_MAX_LEN: %w", err)
		}
		c.Broker.MaxLen = n
	}

	if env["TRAVIGO_HUB_LAG_BOUND"] != "" {
		n, err := strconv.Atoi(env["TRAVIGO_HUB_LAG_BOUND"])
		if err != nil {
			return fmt.Errorf("TRAVIGO_HUB_LAG_BOUND: %w", err)
		}
		c.Hub.LagBound = n
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}

	if c.Feed.URL == "" {
		c.Feed.URL = defaultFeedURL
	}
	if c.Feed.Format == "" {
		c.Feed.Format = FeedFormatSiriLite
	}
	if c.Feed.Interval == 0 {
		c.Feed.Interval = 5 * time.Second
	}
	if c.Feed.FetchTimeout == 0 {
		c.Feed.FetchTimeout = 30 * time.Second
	}

	if c.Broker.Driver == "" {
		c.Broker.Driver = BrokerDriverRedisStream
	}
	if c.Broker.PublishTimeout == 0 {
		c.Broker.PublishTimeout = 1 * time.Second
	}
	if c.Broker.RetryDelay == 0 {
		c.Broker.RetryDelay = 5 * time.Second
	}
	if c.Broker.FetchWait == 0 {
		c.Broker.FetchWait = 1 * time.Second
	}
	if c.Broker.BatchSize == 0 {
		c.Broker.BatchSize = 100
	}
	if c.Broker.MaxLen == 0 {
		c.Broker.MaxLen = 10000
	}

	if c.Hub.LagBound == 0 {
		c.Hub.LagBound = 100
	}

	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}

	if c.MongoDB.Database == "" {
		c.MongoDB.Database = "travigo"
	}
}

func (c *Config) validate() error {
	switch c.Feed.Format {
	case FeedFormatSiriLite, FeedFormatGTFSRT:
	default:
		return fmt.Errorf("feed.format %q is not supported", c.Feed.Format)
	}

	switch c.Broker.Driver {
	case BrokerDriverRedisStream, BrokerDriverRMQ, BrokerDriverStomp, BrokerDriverKafka:
	default:
		return fmt.Errorf("broker.driver %q is not supported", c.Broker.Driver)
	}

	if c.Hub.LagBound < 1 {
		return fmt.Errorf("hub.lag_bound must be positive")
	}
	if c.Broker.BatchSize < 1 {
		return fmt.Errorf("broker.batch_size must be positive")
	}
	if c.Broker.MaxLen < 1 {
		return fmt.Errorf("broker.max_len must be positive")
	}

	return nil
}
