package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

type fixedGenerator struct {
	ids []uint64
}

func (g *fixedGenerator) NextID() uint64 {
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id
}

func TestRegisterAllocatesIncreasingIDs(t *testing.T) {
	h := New()

	var last uint64
	for i := 0; i < 50; i++ {
		subscription := h.Register()
		assert.Greater(t, subscription.ID, last)
		last = subscription.ID

		if i%2 == 0 {
			h.Deregister(subscription.ID)
		}
	}

	assert.Equal(t, 25, h.Count())
}

func TestRegisterConcurrentIDsAreUnique(t *testing.T) {
	h := New()

	var wg sync.WaitGroup
	ids := make(chan uint64, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- h.Register().ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 200)
	assert.Equal(t, 200, h.Count())
}

func TestInjectedIDGenerator(t *testing.T) {
	h := New(WithIDGenerator(&fixedGenerator{ids: []uint64{10, 20}}))

	assert.Equal(t, uint64(10), h.Register().ID)
	assert.Equal(t, uint64(20), h.Register().ID)
}

func TestDeregisterIsIdempotent(t *testing.T) {
	h := New()
	subscription := h.Register()

	h.Deregister(subscription.ID)
	h.Deregister(subscription.ID)
	h.Deregister(12345)

	assert.Equal(t, 0, h.Count())
}

func TestPublishDeliversInOrderToEverySubscriber(t *testing.T) {
	h := New()
	first := h.Register()
	second := h.Register()

	for _, line := range []string{"A", "B", "C"} {
		require.NoError(t, h.Publish(ctdf.MsgTypeSytral, ctdf.VehicleBatch{{Line: ctdf.StringRef(line)}}))
	}

	for _, subscription := range []*Subscription{first, second} {
		for _, line := range []string{"A", "B", "C"} {
			frame := <-subscription.C()

			var event struct {
				MsgType string                   `json:"msg_type"`
				Message []map[string]interface{} `json:"message"`
			}
			require.NoError(t, json.Unmarshal(frame, &event))
			assert.Equal(t, "sytral", event.MsgType)
			require.Len(t, event.Message, 1)
			assert.Equal(t, line, event.Message[0]["line"])
		}
	}
}

func TestPublishSkipsDeregisteredSubscriber(t *testing.T) {
	h := New()
	gone := h.Register()
	h.Deregister(gone.ID)

	require.NoError(t, h.Publish(ctdf.MsgTypeSytral, ctdf.VehicleBatch{}))

	assert.Len(t, gone.C(), 0)
}

func TestSlowSubscriberIsFlaggedWithoutBlockingOthers(t *testing.T) {
	h := New(WithLagBound(2))
	slow := h.Register()
	fast := h.Register()

	received := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish(ctdf.MsgTypeSytral, ctdf.VehicleBatch{}))

		<-fast.C()
		received++
	}

	assert.Equal(t, 5, received)

	select {
	case <-slow.Lagged():
	default:
		t.Fatal("slow subscriber should be flagged as lagged")
	}

	select {
	case <-fast.Lagged():
		t.Fatal("fast subscriber should not be flagged")
	default:
	}
}

func TestRelayIsVerbatim(t *testing.T) {
	h := New()
	subscription := h.Register()

	h.Relay(`{"msg_type":"message","message":{"text":"hello"}}`)
	h.Relay("plain text")

	assert.Equal(t, `{"msg_type":"message","message":{"text":"hello"}}`, string(<-subscription.C()))
	assert.Equal(t, "plain text", string(<-subscription.C()))
}
