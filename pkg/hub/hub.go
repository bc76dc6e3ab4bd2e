package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/metrics"
)

const DefaultLagBound = 100

// IDGenerator hands out subscriber ids. Ids must be strictly increasing for
// the lifetime of the process.
type IDGenerator interface {
	NextID() uint64
}

// SequenceGenerator counts up from 1
type SequenceGenerator struct {
	last atomic.Uint64
}

func (g *SequenceGenerator) NextID() uint64 {
	return g.last.Add(1)
}

type Subscription struct {
	ID uint64

	send   chan []byte
	lagged chan struct{}

	lagOnce sync.Once
}

// C yields the serialized frames for this subscriber in publish order
func (s *Subscription) C() <-chan []byte {
	return s.send
}

// Lagged is closed once the subscriber has fallen more than the lag bound
// behind. The session must end when this happens.
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lagged
}

func (s *Subscription) markLagged() {
	s.lagOnce.Do(func() {
		close(s.lagged)
		metrics.HubLaggedTotal.Inc()
	})
}

type Hub struct {
	mutex       sync.Mutex
	subscribers map[uint64]*Subscription

	ids      IDGenerator
	lagBound int
	clock    clockwork.Clock
}

type Option func(*Hub)

func WithIDGenerator(ids IDGenerator) Option {
	return func(h *Hub) {
		h.ids = ids
	}
}

func WithLagBound(lagBound int) Option {
	return func(h *Hub) {
		if lagBound > 0 {
			h.lagBound = lagBound
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) {
		h.clock = clock
	}
}

func New(options ...Option) *Hub {
	h := &Hub{
		subscribers: map[uint64]*Subscription{},
		ids:         &SequenceGenerator{},
		lagBound:    DefaultLagBound,
		clock:       clockwork.NewRealClock(),
	}

	for _, option := range options {
		option(h)
	}

	return h
}

func (h *Hub) Register() *Subscription {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	subscription := &Subscription{
		ID:     h.ids.NextID(),
		send:   make(chan []byte, h.lagBound),
		lagged: make(chan struct{}),
	}
	h.subscribers[subscription.ID] = subscription

	metrics.HubSubscribers.Set(float64(len(h.subscribers)))
	log.Debug().Uint64("id", subscription.ID).Int("subscribers", len(h.subscribers)).Msg("Subscriber registered")

	return subscription
}

// Deregister removes the subscriber. Calling it for an unknown or already
// removed id is a no-op.
func (h *Hub) Deregister(id uint64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.subscribers[id]; !exists {
		return
	}
	delete(h.subscribers, id)

	metrics.HubSubscribers.Set(float64(len(h.subscribers)))
	log.Debug().Uint64("id", id).Int("subscribers", len(h.subscribers)).Msg("Subscriber deregistered")
}

func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return len(h.subscribers)
}

// Publish wraps message in a WireEvent and fans it out to every subscriber
func (h *Hub) Publish(msgType string, message interface{}) error {
	frame, err := json.Marshal(ctdf.WireEvent{
		MsgType: msgType,
		Message: message,
	})
	if err != nil {
		return err
	}

	h.broadcast(frame)
	metrics.HubEventsTotal.WithLabelValues("event").Inc()

	return nil
}

// Relay fans client text out to every subscriber, the sender included, as the
// frame it arrived as
func (h *Hub) Relay(text string) {
	h.broadcast([]byte(text))
	metrics.HubEventsTotal.WithLabelValues("relay").Inc()
}

// broadcast never blocks. A subscriber whose buffer is full is flagged as
// lagged rather than waited on.
func (h *Hub) broadcast(frame []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, subscription := range h.subscribers {
		select {
		case subscription.send <- frame:
		default:
			subscription.markLagged()
		}
	}
}
