package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/eventcodec"
)

type scriptedProducer struct {
	mutex    sync.Mutex
	calls    int
	results  []error
	block    bool
	payloads [][]byte
}

func (p *scriptedProducer) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mutex.Lock()
	p.calls++
	block := p.block
	var err error
	if len(p.results) > 0 {
		err = p.results[0]
		p.results = p.results[1:]
	}
	if err == nil && !block {
		p.payloads = append(p.payloads, payload)
	}
	p.mutex.Unlock()

	if block {
		// ignores ctx on purpose, the publisher must still give up
		time.Sleep(time.Second)
		return nil
	}
	return err
}

func (p *scriptedProducer) Close() error { return nil }

func (p *scriptedProducer) callCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.calls
}

func testBatch() ctdf.VehicleBatch {
	return ctdf.VehicleBatch{{
		Line:      ctdf.StringRef("C3"),
		Latitude:  45.76,
		Longitude: 4.83,
		Timestamp: time.Date(2025, 7, 30, 9, 0, 0, 0, time.UTC),
	}}
}

func TestPublishBatchEncodesPayload(t *testing.T) {
	producer := &scriptedProducer{}
	publisher := NewPublisher(producer, "vehicles")

	require.NoError(t, publisher.PublishBatch(context.Background(), testBatch()))
	require.Len(t, producer.payloads, 1)

	decoded, err := eventcodec.Decode(producer.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, testBatch(), decoded)
}

func TestPublishBatchTimeoutDropsBatch(t *testing.T) {
	producer := &scriptedProducer{block: true}
	publisher := NewPublisher(producer, "vehicles")
	publisher.Timeout = 50 * time.Millisecond

	start := time.Now()
	err := publisher.PublishBatch(context.Background(), testBatch())

	assert.ErrorIs(t, err, ErrPublishTimeout)
	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "vehicles", publishErr.Topic)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, producer.callCount())
}

func TestPublishBatchNextCallStillPublishes(t *testing.T) {
	producer := &scriptedProducer{results: []error{errors.New("broker unavailable")}}
	publisher := NewPublisher(producer, "vehicles")

	assert.Error(t, publisher.PublishBatch(context.Background(), testBatch()))
	assert.NoError(t, publisher.PublishBatch(context.Background(), testBatch()))
	assert.Len(t, producer.payloads, 1)
}

func TestPublishBatchRetriesWhenConfigured(t *testing.T) {
	producer := &scriptedProducer{results: []error{errors.New("one"), errors.New("two")}}
	publisher := NewPublisher(producer, "vehicles")
	publisher.Retries = 2

	require.NoError(t, publisher.PublishBatch(context.Background(), testBatch()))
	assert.Equal(t, 3, producer.callCount())
}

func TestPublishBatchGivesUpAfterRetries(t *testing.T) {
	failure := errors.New("still down")
	producer := &scriptedProducer{results: []error{failure, failure, failure}}
	publisher := NewPublisher(producer, "vehicles")
	publisher.Retries = 1

	err := publisher.PublishBatch(context.Background(), testBatch())
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 2, producer.callCount())
}
