//go:build integration

package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
	"logistics/internal/envelope"
	"logistics/internal/logger"
	"logistics/internal/testinfra"
)

const brokerWait = 60 * time.Second

// testTransportContract publishes through one transport and consumes through
// others, the way separate services share a real broker.
func testTransportContract(t *testing.T, newTransport func() Transport) {
	ctx := context.Background()

	pub := NewPublisher(newTransport(), "it", fastRetry(5), logger.NopLogger())
	require.NoError(t, pub.Connect(ctx, testExchange))
	t.Cleanup(func() { _ = pub.Close() })

	newConsumer := func(queue string, patterns []string, retryAttempts int) *Consumer {
		c := NewConsumer(newTransport(), queue, ConsumerConfig{
			ServiceName:    "it",
			Prefetch:       4,
			HandlerTimeout: 5 * time.Second,
			Retry:          fastRetry(retryAttempts),
			ConnectRetry:   fastRetry(5),
		}, logger.NopLogger())
		require.NoError(t, c.Connect(ctx, testExchange, patterns))
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	orders := newConsumer("it.orders", []string{"order.*"}, 3)
	shipments := newConsumer("it.shipments", []string{"shipment.#"}, 3)

	orderRec, shipmentRec := &recorder{}, &recorder{}
	require.NoError(t, orders.RegisterHandler("order.*", func(ctx context.Context, env envelope.Envelope) error {
		orderRec.add(env.RoutingKey + ":" + env.String("order_number"))
		return nil
	}))
	require.NoError(t, shipments.RegisterHandler("shipment.#", func(ctx context.Context, env envelope.Envelope) error {
		shipmentRec.add(env.RoutingKey)
		return nil
	}))
	require.NoError(t, orders.StartConsuming(ctx))
	require.NoError(t, shipments.StartConsuming(ctx))

	require.NoError(t, pub.Publish(ctx, "order.created", map[string]interface{}{"order_number": "ORD-1"}))
	require.NoError(t, pub.Publish(ctx, "shipment.created", map[string]interface{}{"tracking_number": "TRK-1"}))
	require.NoError(t, pub.Publish(ctx, "inventory.low_stock", map[string]interface{}{"sku": "A"}))

	assert.Eventually(t, func() bool { return orderRec.len() == 1 && shipmentRec.len() == 1 }, brokerWait, 50*time.Millisecond)
	assert.Equal(t, []string{"order.created:ORD-1"}, orderRec.snapshot())
	assert.Equal(t, []string{"shipment.created"}, shipmentRec.snapshot())

	t.Run("failing handler ends in the dead letter queue", func(t *testing.T) {
		failing := newConsumer("it.failing", []string{"payment.failed"}, 2)
		var calls int32
		require.NoError(t, failing.RegisterHandler("payment.failed", func(ctx context.Context, env envelope.Envelope) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("downstream unavailable")
		}))
		require.NoError(t, failing.StartConsuming(ctx))

		dlqTransport := newTransport()
		require.NoError(t, dlqTransport.Connect(ctx))
		t.Cleanup(func() { _ = dlqTransport.Close() })
		require.NoError(t, dlqTransport.DeclareQueue(ctx, "", failing.DeadLetterQueue(), nil))

		consumeCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		deliveries, err := dlqTransport.Consume(consumeCtx, failing.DeadLetterQueue(), 1)
		require.NoError(t, err)

		require.NoError(t, pub.Publish(ctx, "payment.failed", map[string]interface{}{"order_number": "ORD-9"}))

		select {
		case d := <-deliveries:
			require.NoError(t, d.Ack())
			env, err := envelope.Decode(d.Body, d.RoutingKey)
			require.NoError(t, err)
			assert.Equal(t, "ORD-9", env.String("order_number"))
			assert.Contains(t, env.DeadLetterReason, "downstream unavailable")
		case <-time.After(brokerWait):
			t.Fatal("no dead-lettered message")
		}
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}

func TestRabbitMQTransport_Contract(t *testing.T) {
	url := testinfra.RabbitMQ(t)
	testTransportContract(t, func() Transport {
		return NewRabbitMQTransport(url, fastRetry(5), logger.NopLogger())
	})
}

func TestKafkaTransport_Contract(t *testing.T) {
	brokers := testinfra.Kafka(t)
	testTransportContract(t, func() Transport {
		return NewKafkaTransport(config.KafkaConfig{
			Brokers:           brokers,
			AutoCreateTopics:  true,
			Partitions:        1,
			ReplicationFactor: 1,
		}, logger.NopLogger())
	})
}
