package broker

import (
	"context"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog/log"
)

// Stomp publishes to and consumes from a STOMP destination. Messages are
// acknowledged one by one with client-individual ack mode, so anything not
// committed is redelivered by the broker after the session ends.
type Stomp struct {
	Address  string
	Username string
	Password string

	Destination string

	BatchSize int64
	FetchWait time.Duration

	producerMutex sync.Mutex
	producer      *stomp.Conn
}

func (s *Stomp) dial() (*stomp.Conn, error) {
	var stompOptions []func(*stomp.Conn) error = []func(*stomp.Conn) error{
		stomp.ConnOpt.Login(s.Username, s.Password),
	}

	return stomp.Dial("tcp", s.Address, stompOptions...)
}

func (s *Stomp) Publish(ctx context.Context, topic string, payload []byte) error {
	s.producerMutex.Lock()
	defer s.producerMutex.Unlock()

	if s.producer == nil {
		conn, err := s.dial()
		if err != nil {
			return err
		}
		s.producer = conn
	}

	err := s.producer.Send(topic, "application/octet-stream", payload, stomp.SendOpt.Receipt)
	if err != nil {
		// redial on the next publish
		_ = s.producer.Disconnect()
		s.producer = nil
	}

	return err
}

func (s *Stomp) Close() error {
	s.producerMutex.Lock()
	defer s.producerMutex.Unlock()

	if s.producer == nil {
		return nil
	}

	err := s.producer.Disconnect()
	s.producer = nil
	return err
}

func (s *Stomp) Connect(ctx context.Context) (Session, error) {
	conn, err := s.dial()
	if err != nil {
		return nil, err
	}

	subscription, err := conn.Subscribe(s.Destination, stomp.AckClientIndividual)
	if err != nil {
		_ = conn.Disconnect()
		return nil, err
	}

	return &stompSession{
		conn:         conn,
		subscription: subscription,
		batchSize:    int(s.BatchSize),
		fetchWait:    s.FetchWait,
		pending:      map[string]*stomp.Message{},
	}, nil
}

type stompSession struct {
	conn         *stomp.Conn
	subscription *stomp.Subscription

	batchSize int
	fetchWait time.Duration

	pending map[string]*stomp.Message
	err     error
}

// Fetch waits up to fetchWait for the first message then drains whatever
// else is already buffered, up to the batch size
func (s *stompSession) Fetch(ctx context.Context) ([]Record, error) {
	if s.err != nil {
		return nil, s.err
	}

	timer := time.NewTimer(s.fetchWait)
	defer timer.Stop()

	var records []Record

	select {
	case message, ok := <-s.subscription.C:
		if !ok {
			return nil, ErrSessionClosed
		}
		if message.Err != nil {
			return nil, message.Err
		}
		records = append(records, s.track(message))
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(records) < s.batchSize {
		select {
		case message, ok := <-s.subscription.C:
			if !ok {
				s.err = ErrSessionClosed
				return records, nil
			}
			if message.Err != nil {
				s.err = message.Err
				return records, nil
			}
			records = append(records, s.track(message))
		default:
			return records, nil
		}
	}

	return records, nil
}

func (s *stompSession) track(message *stomp.Message) Record {
	id := message.Header.Get("message-id")
	s.pending[id] = message

	return Record{ID: id, Payload: message.Body}
}

func (s *stompSession) Commit(ctx context.Context, records []Record) error {
	for _, record := range records {
		message, exists := s.pending[record.ID]
		if !exists {
			continue
		}

		if err := s.conn.Ack(message); err != nil {
			return err
		}
		delete(s.pending, record.ID)
	}

	return nil
}

func (s *stompSession) Close() error {
	if err := s.subscription.Unsubscribe(); err != nil {
		log.Debug().Err(err).Msg("Unsubscribing from STOMP destination")
	}

	return s.conn.Disconnect()
}
