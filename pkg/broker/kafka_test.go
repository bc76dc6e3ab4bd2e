package broker

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sytral-relay/pkg/config"
)

func TestOpenKafka(t *testing.T) {
	broker, err := Open(config.BrokerConfig{
		Driver:    config.BrokerDriverKafka,
		Address:   "kafka-1:9092,kafka-2:9092",
		Topic:     "sytral",
		Group:     "relay",
		Username:  "relay",
		Password:  "secret",
		BatchSize: 10,
		FetchWait: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer broker.Close()

	require.IsType(t, &Kafka{}, broker)
	queue := broker.(*Kafka)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, queue.Brokers)
	assert.Equal(t, plain.Mechanism{Username: "relay", Password: "secret"}, queue.mechanism())
}

func TestKafkaWithoutCredentialsUsesNoSASL(t *testing.T) {
	queue := &Kafka{Brokers: []string{"localhost:9092"}}
	assert.Nil(t, queue.mechanism())
	assert.NoError(t, queue.Close())
}

func TestKafkaConnectUnreachable(t *testing.T) {
	queue := &Kafka{
		Brokers:   []string{freeAddress(t)},
		Topic:     "sytral",
		Group:     "relay",
		BatchSize: 10,
		FetchWait: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := queue.Connect(ctx)
	assert.Error(t, err)
}

func TestKafkaPublishUnreachableHonoursContext(t *testing.T) {
	queue := &Kafka{Brokers: []string{freeAddress(t)}, Topic: "sytral"}
	defer queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.Error(t, queue.Publish(ctx, "sytral", []byte("[]")))
}

func TestKafkaRecordID(t *testing.T) {
	assert.Equal(t, "3:42", kafkaRecordID(kafka.Message{Partition: 3, Offset: 42}))
}
