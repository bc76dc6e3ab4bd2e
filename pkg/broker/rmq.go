package broker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/redis_client"
)

// DefaultCleanInterval is how often RunCleaner looks for dead connections
const DefaultCleanInterval = 5 * time.Minute

// RMQ uses an rmq queue on Redis as the topic. Deliveries handed out by Fetch
// are acknowledged on Commit and returned to the queue if the session closes
// before that. The rmq connection is opened on first use.
type RMQ struct {
	Client *redis.Client

	Queue string
	Group string

	BatchSize int64
	FetchWait time.Duration

	connectionMutex sync.Mutex
	connection      rmq.Connection

	queuesMutex sync.Mutex
	queues      map[string]rmq.Queue
}

// Connection returns the rmq connection, opening it if needed. A failed open
// is tried again by the next caller.
func (r *RMQ) Connection() (rmq.Connection, error) {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.connection != nil {
		return r.connection, nil
	}

	connection, err := redis_client.OpenQueueConnection(r.Client)
	if err != nil {
		return nil, err
	}
	r.connection = connection

	return connection, nil
}

func (r *RMQ) openQueue(name string) (rmq.Queue, error) {
	r.queuesMutex.Lock()
	defer r.queuesMutex.Unlock()

	if queue, exists := r.queues[name]; exists {
		return queue, nil
	}

	connection, err := r.Connection()
	if err != nil {
		return nil, err
	}

	queue, err := connection.OpenQueue(name)
	if err != nil {
		return nil, err
	}

	if r.queues == nil {
		r.queues = map[string]rmq.Queue{}
	}
	r.queues[name] = queue

	return queue, nil
}

func (r *RMQ) Publish(ctx context.Context, topic string, payload []byte) error {
	queue, err := r.openQueue(topic)
	if err != nil {
		return err
	}

	return queue.PublishBytes(payload)
}

func (r *RMQ) Close() error {
	r.connectionMutex.Lock()
	connection := r.connection
	r.connectionMutex.Unlock()

	if connection != nil {
		<-connection.StopAllConsuming()
	}

	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *RMQ) Connect(ctx context.Context) (Session, error) {
	connection, err := r.Connection()
	if err != nil {
		return nil, err
	}

	queue, err := connection.OpenQueue(r.Queue)
	if err != nil {
		return nil, err
	}

	if err := queue.StartConsuming(r.BatchSize*2, 100*time.Millisecond); err != nil {
		return nil, err
	}

	session := &rmqSession{
		queue:     queue,
		fetchWait: r.FetchWait,
		batches:   make(chan rmq.Deliveries),
		done:      make(chan struct{}),
	}

	if _, err := queue.AddBatchConsumer(r.Group, r.BatchSize, r.FetchWait, session); err != nil {
		<-queue.StopConsuming()
		return nil, err
	}

	return session, nil
}

// Clean moves deliveries held by connections whose heartbeat expired back to
// the ready list
func (r *RMQ) Clean() (int64, error) {
	connection, err := r.Connection()
	if err != nil {
		return 0, err
	}

	return rmq.NewCleaner(connection).Clean()
}

// RunCleaner calls Clean every interval until ctx is cancelled
func (r *RMQ) RunCleaner(ctx context.Context, interval time.Duration) error {
	log.Info().Str("queue", r.Queue).Msg("Starting rmq queue cleaner")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		returned, err := r.Clean()
		if err != nil {
			log.Error().Err(err).Msg("Failed to clean")
			continue
		}

		if returned != 0 {
			log.Info().Msgf("Cleaned %d deliveries", returned)
		}
	}
}

type rmqSession struct {
	queue     rmq.Queue
	fetchWait time.Duration

	batches chan rmq.Deliveries
	done    chan struct{}
	pending rmq.Deliveries

	closeOnce sync.Once
}

// Consume is called from the rmq consumer goroutine and hands the batch over
// to Fetch
func (s *rmqSession) Consume(batch rmq.Deliveries) {
	select {
	case s.batches <- batch:
	case <-s.done:
		batch.Reject()
	}
}

func (s *rmqSession) Fetch(ctx context.Context) ([]Record, error) {
	timer := time.NewTimer(s.fetchWait)
	defer timer.Stop()

	select {
	case batch := <-s.batches:
		s.pending = batch

		records := make([]Record, len(batch))
		for i, payload := range batch.Payloads() {
			records[i] = Record{
				ID:      strconv.Itoa(i),
				Payload: []byte(payload),
			}
		}
		return records, nil
	case <-timer.C:
		return nil, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *rmqSession) Commit(ctx context.Context, records []Record) error {
	errs := s.pending.Ack()
	s.pending = nil

	if len(errs) > 0 {
		return fmt.Errorf("failed to ack %d of %d deliveries", len(errs), len(records))
	}
	return nil
}

func (s *rmqSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.queue.StopConsuming()

		if len(s.pending) > 0 {
			s.pending.Reject()
			s.pending = nil
		}
	})

	returned, err := s.queue.ReturnRejected(math.MaxInt64)
	if returned > 0 {
		log.Info().Int64("returned", returned).Msg("Returned unacknowledged deliveries to queue")
	}
	return err
}
