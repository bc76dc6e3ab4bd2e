package broker

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingBrokerConfig = errors.New("broker address, topic and group must be set")
	ErrPublishTimeout      = errors.New("timed out waiting for broker acknowledgement")
	ErrSessionClosed       = errors.New("broker session closed")
)

// Producer appends one payload to a topic and waits for the broker to
// acknowledge it
type Producer interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

type Record struct {
	ID      string
	Payload []byte
}

// Session is one connected consumer-group membership. Fetch blocks for at
// most the driver's fetch wait and may return no records. Commit marks the
// given records as consumed for the group.
type Session interface {
	Fetch(ctx context.Context) ([]Record, error)
	Commit(ctx context.Context, records []Record) error
	Close() error
}

type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %s", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
