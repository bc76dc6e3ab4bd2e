package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

const feedBody = `{"Siri":{"ServiceDelivery":{"VehicleMonitoringDelivery":[{"VehicleActivity":[
  {"RecordedAtTime":"2025-07-30T09:00:00+02:00","MonitoredVehicleJourney":{
    "LineRef":{"value":"C3"},"VehicleRef":{"value":"TCL:Vehicle::2042"},
    "VehicleLocation":{"Longitude":4.83,"Latitude":45.76}}}
]}]}}}`

func testConfig(t *testing.T, feedURL string, redisAddress string) *config.Config {
	t.Helper()

	return &config.Config{
		Listen: "127.0.0.1:0",
		Feed: config.FeedConfig{
			URL:          feedURL,
			Username:     "sytral",
			Password:     "secret",
			Format:       config.FeedFormatSiriLite,
			Interval:     time.Hour,
			FetchTimeout: time.Second,
		},
		Broker: config.BrokerConfig{
			Driver:         config.BrokerDriverRedisStream,
			Address:        redisAddress,
			Topic:          "vehicles",
			Group:          "relay",
			PublishTimeout: time.Second,
			RetryDelay:     50 * time.Millisecond,
			FetchWait:      20 * time.Millisecond,
			BatchSize:      10,
		},
		Hub:   config.HubConfig{LagBound: 10},
		Redis: config.RedisConfig{Address: redisAddress},
	}
}

func TestRelayFeedToSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedBody))
	}))
	t.Cleanup(feed.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := Setup(ctx, testConfig(t, feed.URL, mr.Addr()))
	defer r.Close(context.Background())

	require.NotNil(t, r.Poller)
	require.NotNil(t, r.Consumer)

	subscription := r.Hub.Register()
	defer r.Hub.Deregister(subscription.ID)

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	var frame []byte
	select {
	case frame = <-subscription.C():
	case <-time.After(3 * time.Second):
		t.Fatal("no batch reached the subscriber")
	}

	var event struct {
		MsgType string            `json:"msg_type"`
		Message ctdf.VehicleBatch `json:"message"`
	}
	require.NoError(t, json.Unmarshal(frame, &event))
	assert.Equal(t, ctdf.MsgTypeSytral, event.MsgType)
	require.Len(t, event.Message, 1)
	assert.Equal(t, "C3", *event.Message[0].Line)

	require.Eventually(t, func() bool {
		count, err := r.Store.Count(context.Background())
		return err == nil && count == 1
	}, time.Second, 10*time.Millisecond)

	status := r.Status()
	assert.Equal(t, 1, status["subscribers"])
	assert.Equal(t, true, status["feed_poller"])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayBrokerDownAtStartupRecovers(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedBody))
	}))
	t.Cleanup(feed.Close)

	cfg := testConfig(t, feed.URL, address)
	cfg.Feed.Interval = 100 * time.Millisecond
	cfg.Broker.PublishTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := Setup(ctx, cfg)
	defer r.Close(context.Background())

	require.NotNil(t, r.Broker)
	require.NotNil(t, r.Consumer)
	require.NotNil(t, r.Poller)

	subscription := r.Hub.Register()
	defer r.Hub.Deregister(subscription.ID)

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	time.Sleep(300 * time.Millisecond)
	assert.NotEqual(t, "polling", r.Status()["broker_consumer"])

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.StartAddr(address))
	t.Cleanup(mr.Close)

	select {
	case frame := <-subscription.C():
		assert.Contains(t, string(frame), `"msg_type":"sytral"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch reached the subscriber after the broker came up")
	}

	// the latest batch cache shares the address and recovers with it
	require.Eventually(t, func() bool {
		batch, err := r.Server.Latest.Latest(context.Background())
		return err == nil && len(batch) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayMissingFeedCredentialsKeepsConsumer(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t, "http://127.0.0.1:1", mr.Addr())
	cfg.Feed.Password = ""

	r := Setup(context.Background(), cfg)
	defer r.Close(context.Background())

	assert.Nil(t, r.Poller)
	assert.NotNil(t, r.Consumer)
	assert.NotNil(t, r.Server)
}

func TestRelayMissingBrokerConfigKeepsServer(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "")
	cfg.Redis.Address = "127.0.0.1:1"

	r := Setup(context.Background(), cfg)
	defer r.Close(context.Background())

	assert.Nil(t, r.Broker)
	assert.Nil(t, r.Consumer)
	assert.Nil(t, r.Poller)
	assert.NotNil(t, r.Server)
	assert.Equal(t, "disabled", r.Status()["broker_consumer"])
}
