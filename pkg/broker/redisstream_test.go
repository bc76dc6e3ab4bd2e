package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/eventcodec"
)

func newTestRedisStream(t *testing.T) (*RedisStream, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &RedisStream{
		Client:    client,
		Stream:    "vehicles",
		Group:     "relay",
		BatchSize: 10,
		FetchWait: 20 * time.Millisecond,
	}, mr
}

func TestRedisStreamPublishFetchCommit(t *testing.T) {
	ctx := context.Background()
	stream, _ := newTestRedisStream(t)

	session, err := stream.Connect(ctx)
	require.NoError(t, err)
	defer session.Close()

	payload := eventcodec.Encode(ctdf.VehicleBatch{vehicleNamed("C3")})
	require.NoError(t, stream.Publish(ctx, "vehicles", payload))

	var records []Record
	require.Eventually(t, func() bool {
		records, err = session.Fetch(ctx)
		return err == nil && len(records) > 0
	}, time.Second, 10*time.Millisecond)

	require.Len(t, records, 1)
	assert.Equal(t, payload, records[0].Payload)
	require.NoError(t, session.Commit(ctx, records))

	pending, err := stream.Client.XPending(ctx, "vehicles", "relay").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestRedisStreamGroupStartsFromEarliest(t *testing.T) {
	ctx := context.Background()
	stream, _ := newTestRedisStream(t)

	// published before the group exists
	require.NoError(t, stream.Publish(ctx, "vehicles", []byte("first")))

	session, err := stream.Connect(ctx)
	require.NoError(t, err)

	var records []Record
	require.Eventually(t, func() bool {
		records, err = session.Fetch(ctx)
		return err == nil && len(records) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("first"), records[0].Payload)
}

func TestRedisStreamUncommittedRecordsAreRedelivered(t *testing.T) {
	ctx := context.Background()
	stream, _ := newTestRedisStream(t)

	first, err := stream.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Publish(ctx, "vehicles", []byte("payload")))

	var records []Record
	require.Eventually(t, func() bool {
		records, err = first.Fetch(ctx)
		return err == nil && len(records) > 0
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close())

	// reconnect without having committed
	second, err := stream.Connect(ctx)
	require.NoError(t, err)

	redelivered, err := second.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, records[0].ID, redelivered[0].ID)
}

func TestOpenRequiresConnectionParameters(t *testing.T) {
	_, err := Open(config.BrokerConfig{
		Driver: config.BrokerDriverRedisStream,
		Topic:  "vehicles",
	})
	assert.ErrorIs(t, err, ErrMissingBrokerConfig)
}

func TestOpenRedisStream(t *testing.T) {
	mr := miniredis.RunT(t)

	broker, err := Open(config.BrokerConfig{
		Driver:    config.BrokerDriverRedisStream,
		Address:   mr.Addr(),
		Topic:     "vehicles",
		Group:     "relay",
		BatchSize: 10,
		FetchWait: 10 * time.Millisecond,
		MaxLen:    500,
	})
	require.NoError(t, err)
	defer broker.Close()

	require.IsType(t, &RedisStream{}, broker)
	assert.Equal(t, int64(500), broker.(*RedisStream).MaxLen)
}

func TestOpenUnreachableBrokerFailsOnUse(t *testing.T) {
	ctx := context.Background()
	address := freeAddress(t)

	broker, err := Open(config.BrokerConfig{
		Driver:    config.BrokerDriverRedisStream,
		Address:   address,
		Topic:     "vehicles",
		Group:     "relay",
		BatchSize: 10,
		FetchWait: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer broker.Close()

	_, err = broker.Connect(ctx)
	assert.Error(t, err)
	assert.Error(t, broker.Publish(ctx, "vehicles", []byte("lost")))

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.StartAddr(address))
	t.Cleanup(mr.Close)

	session, err := broker.Connect(ctx)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, broker.Publish(ctx, "vehicles", []byte("kept")))

	var fetched []Record
	require.Eventually(t, func() bool {
		records, err := session.Fetch(ctx)
		if err != nil || len(records) == 0 {
			return false
		}
		fetched = records
		return true
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, fetched, 1)
	assert.Equal(t, []byte("kept"), fetched[0].Payload)
}

func TestRedisStreamPublishTrimsToMaxLen(t *testing.T) {
	ctx := context.Background()
	stream, _ := newTestRedisStream(t)
	stream.MaxLen = 10

	for i := 0; i < 50; i++ {
		require.NoError(t, stream.Publish(ctx, "vehicles", []byte("batch")))
	}

	length, err := stream.Client.XLen(ctx, "vehicles").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, length, int64(10))
	assert.Positive(t, length)
}

// freeAddress returns a loopback address nothing is listening on
func freeAddress(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	return address
}
