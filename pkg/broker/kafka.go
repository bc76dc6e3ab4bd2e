package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const kafkaDialTimeout = 10 * time.Second

// Kafka publishes to and consumes from a Kafka topic. A consumer group with no
// committed offset starts from the first message in each partition.
type Kafka struct {
	Brokers  []string
	Username string
	Password string

	Topic string
	Group string

	BatchSize int64
	FetchWait time.Duration

	writerOnce sync.Once
	writer     *kafka.Writer
}

func (k *Kafka) mechanism() sasl.Mechanism {
	if k.Username == "" {
		return nil
	}
	return plain.Mechanism{Username: k.Username, Password: k.Password}
}

func (k *Kafka) dialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:       kafkaDialTimeout,
		DualStack:     true,
		SASLMechanism: k.mechanism(),
	}
}

func (k *Kafka) getWriter() *kafka.Writer {
	k.writerOnce.Do(func() {
		k.writer = &kafka.Writer{
			Addr:                   kafka.TCP(k.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
			Transport: &kafka.Transport{
				DialTimeout: kafkaDialTimeout,
				SASL:        k.mechanism(),
			},
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Debug().Str("topic", k.Topic).Msgf(msg, args...)
			}),
		}
	})

	return k.writer
}

func (k *Kafka) Publish(ctx context.Context, topic string, payload []byte) error {
	return k.getWriter().WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
	})
}

func (k *Kafka) Close() error {
	// marks the writer as never needed if Publish was not called
	k.writerOnce.Do(func() {})
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Connect checks a broker is reachable before joining the group, as the
// reader itself retries forever in the background
func (k *Kafka) Connect(ctx context.Context) (Session, error) {
	dialer := k.dialer()

	var conn *kafka.Conn
	err := errors.New("no kafka brokers configured")
	for _, address := range k.Brokers {
		conn, err = dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	conn.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.Brokers,
		GroupID:     k.Group,
		Topic:       k.Topic,
		Dialer:      dialer,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     k.FetchWait,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("topic", k.Topic).Str("group", k.Group).Msgf(msg, args...)
		}),
	})
	log.Debug().Str("topic", k.Topic).Str("group", k.Group).Msg("Joined kafka consumer group")

	return &kafkaSession{
		reader:    reader,
		batchSize: k.BatchSize,
		fetchWait: k.FetchWait,
		pending:   map[string]kafka.Message{},
	}, nil
}

type kafkaSession struct {
	reader    *kafka.Reader
	batchSize int64
	fetchWait time.Duration

	pending map[string]kafka.Message
}

func kafkaRecordID(message kafka.Message) string {
	return fmt.Sprintf("%d:%d", message.Partition, message.Offset)
}

// Fetch returns what arrives within fetchWait, up to batchSize messages
func (s *kafkaSession) Fetch(ctx context.Context) ([]Record, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchWait)
	defer cancel()

	var records []Record
	for int64(len(records)) < s.batchSize {
		message, err := s.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() == nil && fetchCtx.Err() != nil {
				break
			}
			return nil, err
		}

		id := kafkaRecordID(message)
		s.pending[id] = message
		records = append(records, Record{ID: id, Payload: message.Value})
	}

	return records, nil
}

func (s *kafkaSession) Commit(ctx context.Context, records []Record) error {
	messages := make([]kafka.Message, 0, len(records))
	for _, record := range records {
		if message, exists := s.pending[record.ID]; exists {
			messages = append(messages, message)
			delete(s.pending, record.ID)
		}
	}

	if len(messages) == 0 {
		return nil
	}
	return s.reader.CommitMessages(ctx, messages...)
}

// Close leaves uncommitted messages to be redelivered to the group
func (s *kafkaSession) Close() error {
	return s.reader.Close()
}
