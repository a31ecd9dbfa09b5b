package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/envelope"
	"logistics/internal/logger"
	apperrors "logistics/pkg/errors"
)

func TestPublisher_PublishBeforeConnect(t *testing.T) {
	p := NewPublisher(NewMemoryTransport(NewMemoryBroker()), "test", fastRetry(1), logger.NopLogger())

	err := p.Publish(context.Background(), "order.created", map[string]interface{}{"order_id": "ORD-1"})
	assert.True(t, errors.Is(err, apperrors.ErrNotConnected))
	assert.Equal(t, StateDisconnected, p.State())
}

func TestPublisher_ConnectUnreachable(t *testing.T) {
	b := NewMemoryBroker()
	b.SetReachable(false)
	p := NewPublisher(NewMemoryTransport(b), "test", fastRetry(2), logger.NopLogger())

	err := p.Connect(context.Background(), testExchange)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConnection))
	assert.False(t, p.Connected())
}

func TestPublisher_ConnectIsIdempotent(t *testing.T) {
	p := newTestPublisher(t, NewMemoryBroker())

	require.NoError(t, p.Connect(context.Background(), testExchange))
	assert.Equal(t, StateConnected, p.State())
}

func TestPublisher_RejectsMalformedKey(t *testing.T) {
	p := newTestPublisher(t, NewMemoryBroker())

	for _, key := range []string{"", "order..created", ".order", "order."} {
		err := p.Publish(context.Background(), key, nil)
		assert.True(t, errors.Is(err, apperrors.ErrMalformedKey), "key %q", key)
	}
}

func TestPublisher_WritesEnvelope(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	p := newTestPublisher(t, b)

	tr := NewMemoryTransport(b)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.DeclareQueue(ctx, testExchange, "orders", []string{"order.*"}))

	require.NoError(t, p.Publish(ctx, "order.created", map[string]interface{}{
		"order_id": "ORD-20240101120000-0000000A",
		"quantity": 2,
	}))

	msgs := b.Peek("orders")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Persistent)
	assert.Equal(t, envelope.ContentType, msgs[0].ContentType)
	assert.NotEmpty(t, msgs[0].MessageID)

	env, err := envelope.Decode(msgs[0].Body, "order.created")
	require.NoError(t, err)
	assert.Equal(t, "order.created", env.RoutingKey)
	assert.Equal(t, msgs[0].MessageID, env.MessageID)
	assert.False(t, env.PublishedAt.IsZero())
	assert.Equal(t, "ORD-20240101120000-0000000A", env.String("order_id"))
}

func TestPublisher_CloseDisconnects(t *testing.T) {
	p := newTestPublisher(t, NewMemoryBroker())
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), "order.created", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotConnected))
}
