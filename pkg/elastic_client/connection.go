package elastic_client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

// Indexer writes every fanned out vehicle into a weekly events index
type Indexer struct {
	Client *elasticsearch.Client

	bulkIndexer esutil.BulkIndexer
	now         func() time.Time
}

// Connect returns a nil Indexer when no address is configured
func Connect(cfg config.ElasticsearchConfig) (*Indexer, error) {
	if cfg.Address == "" {
		log.Info().Msg("Skipping Elasticsearch setup")
		return nil, nil
	}

	// Naughty disable TLS verify on ES endpoint
	tp := http.DefaultTransport.(*http.Transport).Clone()
	if tp.TLSClientConfig == nil {
		tp.TLSClientConfig = &tls.Config{}
	}
	tp.TLSClientConfig.InsecureSkipVerify = true

	retryBackoff := backoff.NewExponentialBackOff()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Address},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: tp,

		RetryOnStatus: []int{502, 503, 504, 429},

		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				retryBackoff.Reset()
			}
			return retryBackoff.NextBackOff()
		},
		MaxRetries: 5,
	})
	if err != nil {
		return nil, err
	}

	if _, err := es.Info(); err != nil {
		return nil, err
	}

	bulkIndexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        es,
		FlushInterval: 15 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("Elasticsearch client setup for %s", cfg.Address)

	return &Indexer{
		Client:      es,
		bulkIndexer: bulkIndexer,
		now:         time.Now,
	}, nil
}

type vehicleEventDocument struct {
	Timestamp  time.Time `json:"Timestamp"`
	ReceivedAt time.Time `json:"ReceivedAt"`

	Line       string `json:"Line,omitempty"`
	VehicleRef string `json:"VehicleRef,omitempty"`
	Direction  string `json:"Direction,omitempty"`

	Location ctdf.Location `json:"Location"`
}

func IndexName(at time.Time) string {
	yearNumber, weekNumber := at.ISOWeek()
	return fmt.Sprintf("vehicle-events-%d-%d", yearNumber, weekNumber)
}

func (i *Indexer) ObserveBatch(ctx context.Context, batch ctdf.VehicleBatch) error {
	if i == nil {
		return nil
	}

	receivedAt := i.now()
	indexName := IndexName(receivedAt)

	for _, vehicle := range batch {
		document := vehicleEventDocument{
			Timestamp:  vehicle.Timestamp,
			ReceivedAt: receivedAt,
			Location:   vehicle.Location(),
		}
		if vehicle.Line != nil {
			document.Line = *vehicle.Line
		}
		if vehicle.VehicleRef != nil {
			document.VehicleRef = *vehicle.VehicleRef
		}
		if vehicle.Direction != nil {
			document.Direction = *vehicle.Direction
		}

		documentJSON, err := json.Marshal(document)
		if err != nil {
			return err
		}

		err = i.bulkIndexer.Add(ctx, esutil.BulkIndexerItem{
			Index:  indexName,
			Action: "index",
			Body:   bytes.NewReader(documentJSON),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					log.Error().Err(err).Str("indexName", indexName).Msg("Failed to index document")
				} else {
					log.Error().Str("type", res.Error.Type).Str("reason", res.Error.Reason).Msg("Failed to index document")
				}
			},
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Close flushes whatever is still queued
func (i *Indexer) Close(ctx context.Context) error {
	if i == nil {
		return nil
	}

	return i.bulkIndexer.Close(ctx)
}
