package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "logistics/pkg/errors"
)

func TestMemoryTransport_RoutesToEveryMatchingQueue(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	tr := NewMemoryTransport(b)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.DeclareExchange(ctx, testExchange))
	require.NoError(t, tr.DeclareQueue(ctx, testExchange, "a", []string{"order.*"}))
	require.NoError(t, tr.DeclareQueue(ctx, testExchange, "b", []string{"order.created", "#"}))
	require.NoError(t, tr.DeclareQueue(ctx, testExchange, "c", []string{"shipment.*"}))

	require.NoError(t, tr.Publish(ctx, testExchange, "order.created", Message{Body: []byte("{}")}))

	assert.Equal(t, 1, b.QueueDepth("a"))
	assert.Equal(t, 1, b.QueueDepth("b"), "a queue bound twice still gets one copy")
	assert.Equal(t, 0, b.QueueDepth("c"))
}

func TestMemoryTransport_UnroutableIsDropped(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	tr := NewMemoryTransport(b)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.DeclareExchange(ctx, testExchange))
	require.NoError(t, tr.DeclareQueue(ctx, testExchange, "a", []string{"order.*"}))

	require.NoError(t, tr.Publish(ctx, testExchange, "inventory.low_stock", Message{Body: []byte("{}")}))
	assert.Equal(t, 0, b.QueueDepth("a"))
}

func TestMemoryTransport_RequiresConnect(t *testing.T) {
	b := NewMemoryBroker()
	tr := NewMemoryTransport(b)

	err := tr.DeclareExchange(context.Background(), testExchange)
	assert.True(t, errors.Is(err, apperrors.ErrNotConnected))

	b.SetReachable(false)
	err = tr.Connect(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrConnection))
}

func TestMemoryTransport_NackRequeuesAtHead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker()
	tr := NewMemoryTransport(b)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.DeclareQueue(ctx, "", "q", nil))
	require.NoError(t, tr.PublishToQueue(ctx, "q", "a.one", Message{MessageID: "1"}))
	require.NoError(t, tr.PublishToQueue(ctx, "q", "a.two", Message{MessageID: "2"}))

	deliveries, err := tr.Consume(ctx, "q", 1)
	require.NoError(t, err)

	first := <-deliveries
	assert.Equal(t, "1", first.MessageID)
	assert.False(t, first.Redelivered)
	require.NoError(t, first.Nack(true))

	again := <-deliveries
	assert.Equal(t, "1", again.MessageID)
	assert.True(t, again.Redelivered)
	require.NoError(t, again.Ack())

	next := <-deliveries
	assert.Equal(t, "2", next.MessageID)
	require.NoError(t, next.Ack())
}

func TestMemoryTransport_PrefetchBoundsUnsettled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker()
	tr := NewMemoryTransport(b)
	require.NoError(t, tr.Connect(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.PublishToQueue(ctx, "q", "a.b", Message{}))
	}

	deliveries, err := tr.Consume(ctx, "q", 2)
	require.NoError(t, err)

	d1 := <-deliveries
	<-deliveries

	select {
	case <-deliveries:
		t.Fatal("third delivery arrived before any ack")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, d1.Ack())
	select {
	case <-deliveries:
	case <-time.After(time.Second):
		t.Fatal("delivery did not arrive after ack freed a slot")
	}
}
