package pubsub_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/pubsub"
)

func receive(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return nil
}

func TestMemory(t *testing.T) {
	t.Parallel()
	bus := pubsub.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := bus.Subscribe(ctx, "createCar")
	require.NoError(t, err)
	b, err := bus.Subscribe(context.Background(), "createCar")
	require.NoError(t, err)
	other, err := bus.Subscribe(context.Background(), "deleteCar")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "createCar", veloql.Item{"id": "1"}))
	assert.Equal(t, veloql.Item{"id": "1"}, receive(t, a))
	assert.Equal(t, veloql.Item{"id": "1"}, receive(t, b))
	assert.Empty(t, other)

	cancel()
	assert.Eventually(t, func() bool { return bus.Subscribers("createCar") == 1 }, time.Second, 5*time.Millisecond)
	_, ok := <-a
	assert.False(t, ok, "cancelled subscription is closed")

	require.NoError(t, bus.Close())
	_, ok = <-b
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(context.Background(), "createCar", nil), pubsub.ErrClosed)
	_, err = bus.Subscribe(context.Background(), "createCar")
	assert.ErrorIs(t, err, pubsub.ErrClosed)
}

func TestMemorySlowSubscriber(t *testing.T) {
	t.Parallel()
	bus := pubsub.NewMemory(pubsub.WithBuffer(1))
	ch, err := bus.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), "t", 1))
	require.NoError(t, bus.Publish(context.Background(), "t", 2))
	assert.Equal(t, 1, receive(t, ch))
	assert.Empty(t, ch)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus, err := pubsub.DialRedis(ctx, addr, pubsub.WithPrefix("veloql-test:"))
	require.NoError(t, err)
	defer bus.Close()

	ch, err := bus.Subscribe(ctx, "createCar")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "createCar", veloql.Item{"id": "1", "mileage": 3, "tags": []any{"a"}}))
	assert.Equal(t, veloql.Item{"id": "1", "mileage": 3, "tags": []any{"a"}}, receive(t, ch))
}
