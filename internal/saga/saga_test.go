package saga

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/broker"
	"logistics/internal/config"
	"logistics/internal/inventory"
	"logistics/internal/logger"
	"logistics/internal/notifications"
	"logistics/internal/orders"
	"logistics/internal/tracking"
	"logistics/pkg/retry"
)

const exchange = "logistics.events"

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

// system runs every service against one in-memory broker.
type system struct {
	orders        *orders.Service
	inventory     *inventory.Service
	inventoryRepo *inventory.MemoryRepository
	tracking      *tracking.Service
	notifications *notifications.Service
	outbox        *notifications.MemoryStore
	publisher     *broker.Publisher
}

func newPublisher(t *testing.T, b *broker.MemoryBroker, service string) *broker.Publisher {
	t.Helper()
	p := broker.NewPublisher(broker.NewMemoryTransport(b), service, fastRetry(2), logger.NopLogger())
	require.NoError(t, p.Connect(context.Background(), exchange))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func subscribe(t *testing.T, b *broker.MemoryBroker, service string, binding Binding, handlers map[string]broker.Handler) {
	t.Helper()
	c := broker.NewConsumer(broker.NewMemoryTransport(b), binding.Queue, broker.ConsumerConfig{
		ServiceName:  service,
		Prefetch:     4,
		Retry:        fastRetry(3),
		ConnectRetry: fastRetry(2),
	}, logger.NopLogger())
	require.NoError(t, Subscribe(context.Background(), c, exchange, binding, handlers))
	t.Cleanup(func() { _ = c.Close() })
}

func newSystem(t *testing.T, alerts config.InventoryConfig) *system {
	t.Helper()
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	log := logger.NopLogger()

	s := &system{
		inventoryRepo: inventory.NewMemoryRepository(),
		outbox:        notifications.NewMemoryStore(),
		publisher:     newPublisher(t, b, "test-driver"),
	}
	s.orders = orders.NewService(orders.NewMemoryRepository(), newPublisher(t, b, "order-service"), log)
	s.inventory = inventory.NewService(s.inventoryRepo, newPublisher(t, b, "inventory-service"), alerts, log)
	s.tracking = tracking.NewService(tracking.NewMemoryRepository(), newPublisher(t, b, "tracking-service"), log)
	s.notifications = notifications.NewService(s.outbox, notifications.NewLogSender(log), log)
	require.NoError(t, s.notifications.SeedTemplates(ctx))

	subscribe(t, b, "inventory-service", InventoryBinding, map[string]broker.Handler{
		OrderCreated:       s.inventory.HandleOrderCreated,
		OrderStatusChanged: s.inventory.HandleOrderStatusChanged,
		OrderCancelled:     s.inventory.HandleOrderCancelled,
	})
	subscribe(t, b, "tracking-service", TrackingBinding, map[string]broker.Handler{
		OrderCreated: s.tracking.HandleOrderCreated,
	})
	notify := map[string]broker.Handler{}
	for _, p := range NotificationBinding.Patterns {
		notify[p] = s.notifications.HandleEvent
	}
	subscribe(t, b, "notification-service", NotificationBinding, notify)

	wh, err := s.inventory.CreateWarehouse(ctx, inventory.CreateWarehouseRequest{
		WarehouseCode: "WH-1", Name: "Main", Location: "Leeds", Capacity: 1000,
	})
	require.NoError(t, err)
	for sku, qty := range map[string]int{"A": 10, "B": 5} {
		_, err := s.inventory.CreateItem(ctx, inventory.CreateItemRequest{
			WarehouseID: wh.ID, SKU: sku, ItemName: "Item " + sku, Quantity: qty,
		})
		require.NoError(t, err)
	}
	return s
}

func (s *system) reserved(t *testing.T, sku string) int {
	items, err := s.inventoryRepo.ItemsBySKU(context.Background(), sku)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0].Reserved
}

func (s *system) txTypes(t *testing.T, orderNumber string) []string {
	txs, err := s.inventory.Transactions(context.Background(), orderNumber)
	require.NoError(t, err)
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Type)
	}
	return out
}

func (s *system) subjects(t *testing.T) []string {
	list, _, err := s.outbox.List(context.Background(), notifications.ListFilter{})
	require.NoError(t, err)
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.Subject)
	}
	return out
}

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestOrderCreatedPropagates(t *testing.T) {
	s := newSystem(t, config.InventoryConfig{})
	ctx := context.Background()

	require.NoError(t, s.publisher.Publish(ctx, OrderCreated, map[string]interface{}{
		"order_number":   "ORD-1",
		"items":          []interface{}{map[string]interface{}{"sku": "A", "quantity": 2}},
		"customer_email": "a@b.com",
		"origin_address": "X",
	}))

	require.Eventually(t, func() bool { return s.reserved(t, "A") == 2 }, waitFor, tick)
	assert.Equal(t, []string{inventory.TxReserve}, s.txTypes(t, "ORD-1"))

	require.Eventually(t, func() bool {
		_, err := s.tracking.GetByOrder(ctx, "ORD-1")
		return err == nil
	}, waitFor, tick)
	shipment, err := s.tracking.GetByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "X", shipment.CurrentLocation)

	require.Eventually(t, func() bool {
		subjects := s.subjects(t)
		return hasPrefix(subjects, "Order Confirmation - ORD-1") &&
			hasPrefix(subjects, "Shipment Created - "+shipment.TrackingNumber)
	}, waitFor, tick)
}

func TestInsufficientStockDoesNotReserve(t *testing.T) {
	s := newSystem(t, config.InventoryConfig{})
	ctx := context.Background()

	require.NoError(t, s.publisher.Publish(ctx, OrderCreated, map[string]interface{}{
		"order_number": "ORD-2",
		"items":        []interface{}{map[string]interface{}{"sku": "B", "quantity": 100}},
	}))

	// tracking acts on the same event, so its shipment marks completion
	require.Eventually(t, func() bool {
		_, err := s.tracking.GetByOrder(ctx, "ORD-2")
		return err == nil
	}, waitFor, tick)
	assert.Equal(t, 0, s.reserved(t, "B"))
	assert.Empty(t, s.txTypes(t, "ORD-2"))
}

func TestCancellationReleasesAndOtherStatusesDoNot(t *testing.T) {
	s := newSystem(t, config.InventoryConfig{})
	ctx := context.Background()

	order, err := s.orders.Create(ctx, orders.CreateOrderRequest{
		CustomerName:       "Ada",
		CustomerEmail:      "a@b.com",
		OriginAddress:      "X",
		DestinationAddress: "Y",
		PackageWeight:      1,
		Items:              []orders.CreateItemRequest{{ItemName: "Widget", Quantity: 2, SKU: "A"}},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.reserved(t, "A") == 2 }, waitFor, tick)

	_, err = s.orders.UpdateStatus(ctx, order.OrderNumber, orders.StatusShipped)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return hasPrefix(s.subjects(t), "Order Status Update - "+order.OrderNumber)
	}, waitFor, tick)
	assert.Equal(t, 2, s.reserved(t, "A"))

	_, err = s.orders.Cancel(ctx, order.OrderNumber)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.reserved(t, "A") == 0 }, waitFor, tick)
	assert.Equal(t, []string{inventory.TxReserve, inventory.TxRelease}, s.txTypes(t, order.OrderNumber))
}

func TestLowStockAlertReachesOperations(t *testing.T) {
	s := newSystem(t, config.InventoryConfig{LowStockAlerts: true, AlertRecipient: "ops@example.com"})

	require.NoError(t, s.publisher.Publish(context.Background(), OrderCreated, map[string]interface{}{
		"order_number": "ORD-3",
		"items":        []interface{}{map[string]interface{}{"sku": "B", "quantity": 1}},
	}))

	require.Eventually(t, func() bool {
		return hasPrefix(s.subjects(t), "Low Stock Alert - Item B")
	}, waitFor, tick)
}

func TestSubscribeRequiresHandlerPerPattern(t *testing.T) {
	b := broker.NewMemoryBroker()
	c := broker.NewConsumer(broker.NewMemoryTransport(b), TrackingBinding.Queue, broker.ConsumerConfig{
		ServiceName: "tracking-service", ConnectRetry: fastRetry(1),
	}, logger.NopLogger())
	t.Cleanup(func() { _ = c.Close() })

	err := Subscribe(context.Background(), c, exchange, TrackingBinding, map[string]broker.Handler{})
	assert.Error(t, err)
	assert.False(t, c.Connected())
}
