package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/eventcodec"
	"github.com/travigo/sytral-relay/pkg/metrics"
)

const DefaultRetryDelay = 5 * time.Second

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StatePolling
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateCommitting:
		return "committing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// VehicleStore persists consumed vehicles
type VehicleStore interface {
	Save(ctx context.Context, vehicle ctdf.Vehicle) (*ctdf.VehicleLocationEvent, error)
}

// EventPublisher fans a decoded batch out to live subscribers
type EventPublisher interface {
	Publish(msgType string, message interface{}) error
}

// BatchObserver is told about every decoded batch after it has been fanned out
type BatchObserver interface {
	ObserveBatch(ctx context.Context, batch ctdf.VehicleBatch) error
}

type Consumer struct {
	connector Connector
	store     VehicleStore
	events    EventPublisher
	observers []BatchObserver

	RetryDelay time.Duration

	state atomic.Int32
}

func NewConsumer(connector Connector, store VehicleStore, events EventPublisher, observers ...BatchObserver) (*Consumer, error) {
	if connector == nil {
		return nil, ErrMissingBrokerConfig
	}
	if store == nil || events == nil {
		return nil, fmt.Errorf("consumer needs a vehicle store and an event publisher")
	}

	return &Consumer{
		connector:  connector,
		store:      store,
		events:     events,
		observers:  observers,
		RetryDelay: DefaultRetryDelay,
	}, nil
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(state State) {
	if State(c.state.Swap(int32(state))) != state {
		metrics.BrokerConsumerState.Set(float64(state))
		log.Debug().Str("state", state.String()).Msg("Broker consumer state")
	}
}

// Run consumes until ctx is cancelled. Any connect, fetch or commit failure
// drops back to disconnected and a new session is started after RetryDelay.
func (c *Consumer) Run(ctx context.Context) error {
	retryPolicy := backoff.WithContext(backoff.NewConstantBackOff(c.RetryDelay), ctx)

	err := backoff.RetryNotify(func() error {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, retryPolicy, func(err error, wait time.Duration) {
		metrics.BrokerReconnectsTotal.Inc()
		log.Error().Err(err).Dur("retry", wait).Msg("Broker consumer disconnected")
	})

	c.setState(StateDisconnected)
	return err
}

func (c *Consumer) runSession(ctx context.Context) error {
	c.setState(StateConnecting)

	session, err := c.connector.Connect(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing broker session")
		}
		c.setState(StateDisconnected)
	}()

	log.Info().Msg("Broker consumer connected")

	for {
		c.setState(StatePolling)

		records, err := session.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		if len(records) == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		for _, record := range records {
			c.handleRecord(ctx, record)
		}

		c.setState(StateCommitting)
		if err := session.Commit(ctx, records); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
}

// handleRecord never fails the session. A record that does not decode is
// skipped, the rest of the fetched batch still goes through.
func (c *Consumer) handleRecord(ctx context.Context, record Record) {
	batch, err := eventcodec.Decode(record.Payload)
	if err != nil {
		metrics.BrokerRecordsTotal.WithLabelValues("invalid").Inc()
		log.Error().Err(err).Str("record", record.ID).Msg("Skipping undecodable broker record")
		return
	}
	metrics.BrokerRecordsTotal.WithLabelValues("decoded").Inc()

	for _, vehicle := range batch {
		if _, err := c.store.Save(ctx, vehicle); err != nil {
			metrics.StoreErrorsTotal.Inc()
			log.Error().Err(err).Str("record", record.ID).Msg("Failed to save vehicle position")
		}
	}

	if err := c.events.Publish(ctdf.MsgTypeSytral, batch); err != nil {
		log.Error().Err(err).Str("record", record.ID).Msg("Failed to publish vehicle batch to subscribers")
	}

	for _, observer := range c.observers {
		if err := observer.ObserveBatch(ctx, batch); err != nil {
			log.Error().Err(err).Str("record", record.ID).Msg("Batch observer failed")
		}
	}

	log.Debug().Str("record", record.ID).Int("vehicles", len(batch)).Msg("Consumed vehicle batch")
}
