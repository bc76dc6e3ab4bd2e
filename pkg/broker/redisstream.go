package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const payloadField = "payload"

// RedisStream uses a Redis stream as the topic and a stream consumer group as
// the committed offset. New groups start from the first entry in the stream.
type RedisStream struct {
	Client *redis.Client

	Stream string
	Group  string

	BatchSize int64
	FetchWait time.Duration

	// MaxLen trims the stream on every publish, zero leaves it unbounded
	MaxLen int64

	consumerOnce sync.Once
	consumerName string
}

func (r *RedisStream) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: r.MaxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: payload},
	}).Err()
}

func (r *RedisStream) Close() error {
	return r.Client.Close()
}

func (r *RedisStream) Connect(ctx context.Context) (Session, error) {
	err := r.Client.XGroupCreateMkStream(ctx, r.Stream, r.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, err
	}

	// one consumer name per process so a new session picks up entries the
	// previous one fetched but never acknowledged
	r.consumerOnce.Do(func() {
		r.consumerName = r.Group + "-" + uuid.NewString()
	})
	log.Debug().Str("stream", r.Stream).Str("group", r.Group).Str("consumer", r.consumerName).Msg("Joined stream consumer group")

	return &redisStreamSession{
		stream:   r,
		consumer: r.consumerName,
		position: "0",
	}, nil
}

type redisStreamSession struct {
	stream   *RedisStream
	consumer string

	// "0" replays this consumer's pending entries, ">" reads new ones
	position string
}

func (s *redisStreamSession) Fetch(ctx context.Context) ([]Record, error) {
	streams, err := s.stream.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.stream.Group,
		Consumer: s.consumer,
		Streams:  []string{s.stream.Stream, s.position},
		Count:    s.stream.BatchSize,
		Block:    s.stream.FetchWait,
	}).Result()
	if errors.Is(err, redis.Nil) {
		s.position = ">"
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, stream := range streams {
		for _, message := range stream.Messages {
			record := Record{ID: message.ID}
			if payload, ok := message.Values[payloadField].(string); ok {
				record.Payload = []byte(payload)
			}
			records = append(records, record)
		}
	}

	if len(records) == 0 && s.position != ">" {
		s.position = ">"
	}

	return records, nil
}

func (s *redisStreamSession) Commit(ctx context.Context, records []Record) error {
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}

	return s.stream.Client.XAck(ctx, s.stream.Stream, s.stream.Group, ids...).Err()
}

// Close leaves any unacknowledged entries pending for the group
func (s *redisStreamSession) Close() error {
	return nil
}
