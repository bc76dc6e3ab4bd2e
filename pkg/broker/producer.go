package broker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/eventcodec"
	"github.com/travigo/sytral-relay/pkg/metrics"
)

const (
	DefaultPublishTimeout = 1 * time.Second
	publishRetryInterval  = 200 * time.Millisecond
)

// Publisher encodes vehicle batches and publishes them with a bounded wait.
// A batch that cannot be published is logged and dropped; Retries allows a
// few extra attempts first.
type Publisher struct {
	Producer Producer
	Topic    string

	Timeout time.Duration
	Retries uint64
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{
		Producer: producer,
		Topic:    topic,
		Timeout:  DefaultPublishTimeout,
	}
}

func (p *Publisher) PublishBatch(ctx context.Context, batch ctdf.VehicleBatch) error {
	payload := eventcodec.Encode(batch)

	retryPolicy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(publishRetryInterval), p.Retries),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		return p.publish(ctx, payload)
	}, retryPolicy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("topic", p.Topic).Dur("wait", wait).Msg("Retrying batch publish")
	})

	if err != nil {
		metrics.BrokerPublishesTotal.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Str("topic", p.Topic).Int("vehicles", len(batch)).Msg("Dropping vehicle batch")
		return err
	}

	metrics.BrokerPublishesTotal.WithLabelValues("ok").Inc()
	log.Debug().Str("topic", p.Topic).Int("vehicles", len(batch)).Int("bytes", len(payload)).Msg("Published vehicle batch")

	return nil
}

// publish bounds the wait even if the driver ignores the context
func (p *Publisher) publish(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- p.Producer.Publish(ctx, p.Topic, payload)
	}()

	select {
	case err := <-result:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrPublishTimeout
		}
		return &PublishError{Topic: p.Topic, Err: err}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &PublishError{Topic: p.Topic, Err: ErrPublishTimeout}
		}
		return &PublishError{Topic: p.Topic, Err: ctx.Err()}
	}
}
