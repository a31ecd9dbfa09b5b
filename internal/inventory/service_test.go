package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
	"logistics/internal/envelope"
	"logistics/internal/logger"
	pkgerrors "logistics/pkg/errors"
)

type publishedEvent struct {
	key     string
	payload map[string]interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, key string, payload map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{key: key, payload: payload})
	return nil
}

type fixture struct {
	svc  *Service
	repo *MemoryRepository
	pub  *fakePublisher
}

// newFixture stocks warehouse WH-1 with the given sku -> quantity pairs.
func newFixture(t *testing.T, alerts config.InventoryConfig, stock map[string]int) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := NewMemoryRepository()
	pub := &fakePublisher{}
	svc := NewService(repo, pub, alerts, logger.NopLogger())

	wh, err := svc.CreateWarehouse(ctx, CreateWarehouseRequest{
		WarehouseCode: "WH-1", Name: "Main", Location: "Leeds", Capacity: 1000,
	})
	require.NoError(t, err)

	for sku, qty := range stock {
		_, err := svc.CreateItem(ctx, CreateItemRequest{
			WarehouseID: wh.ID, SKU: sku, ItemName: "Item " + sku, Quantity: qty,
		})
		require.NoError(t, err)
	}
	return &fixture{svc: svc, repo: repo, pub: pub}
}

func (f *fixture) item(t *testing.T, sku string) Item {
	t.Helper()
	items, err := f.repo.ItemsBySKU(context.Background(), sku)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func (f *fixture) txs(t *testing.T, orderNumber string) []Transaction {
	t.Helper()
	txs, err := f.repo.Transactions(context.Background(), orderNumber)
	require.NoError(t, err)
	return txs
}

func orderCreated(orderNumber string, items ...map[string]interface{}) envelope.Envelope {
	list := make([]interface{}, 0, len(items))
	for _, it := range items {
		list = append(list, it)
	}
	return envelope.Envelope{
		RoutingKey: "order.created",
		Payload: map[string]interface{}{
			"order_number":   orderNumber,
			"customer_email": "a@b.com",
			"origin_address": "X",
			"items":          list,
		},
	}
}

func statusChanged(orderNumber, newStatus string) envelope.Envelope {
	return envelope.Envelope{
		RoutingKey: "order.status_changed",
		Payload: map[string]interface{}{
			"order_number": orderNumber,
			"old_status":   "pending",
			"new_status":   newStatus,
		},
	}
}

func line(sku string, qty int) map[string]interface{} {
	return map[string]interface{}{"sku": sku, "quantity": qty, "item_name": "thing"}
}

func TestHandleOrderCreated_ReservesStock(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})

	require.NoError(t, f.svc.HandleOrderCreated(context.Background(), orderCreated("ORD-1", line("A", 2))))

	assert.Equal(t, 2, f.item(t, "A").Reserved)
	txs := f.txs(t, "ORD-1")
	require.Len(t, txs, 1)
	assert.Equal(t, TxReserve, txs[0].Type)
	assert.Equal(t, 2, txs[0].Quantity)
}

func TestHandleOrderCreated_InsufficientStockIsSkipped(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"B": 5})

	err := f.svc.HandleOrderCreated(context.Background(), orderCreated("ORD-2", line("B", 100)))
	require.NoError(t, err)

	assert.Equal(t, 0, f.item(t, "B").Reserved)
	assert.Empty(t, f.txs(t, "ORD-2"))
}

func TestHandleOrderCreated_PartialReservation(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10, "B": 1})

	err := f.svc.HandleOrderCreated(context.Background(), orderCreated("ORD-3", line("A", 3), line("B", 4)))
	require.NoError(t, err)

	assert.Equal(t, 3, f.item(t, "A").Reserved)
	assert.Equal(t, 0, f.item(t, "B").Reserved)
}

func TestHandleOrderCreated_RedeliveryDoesNotDoubleReserve(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})
	env := orderCreated("ORD-1", line("A", 2))

	require.NoError(t, f.svc.HandleOrderCreated(context.Background(), env))
	require.NoError(t, f.svc.HandleOrderCreated(context.Background(), env))

	assert.Equal(t, 2, f.item(t, "A").Reserved)
	assert.Len(t, f.txs(t, "ORD-1"), 1)
}

func TestHandleOrderCreated_AggregatesRepeatedSKUs(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})

	err := f.svc.HandleOrderCreated(context.Background(), orderCreated("ORD-4", line("A", 2), line("A", 3)))
	require.NoError(t, err)

	assert.Equal(t, 5, f.item(t, "A").Reserved)
	assert.Len(t, f.txs(t, "ORD-4"), 1)
}

func TestHandleOrderCreated_IgnoresIncompleteEvents(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})

	tests := []struct {
		name string
		env  envelope.Envelope
	}{
		{"no order number", orderCreated("", line("A", 1))},
		{"no items", orderCreated("ORD-5")},
		{"no sku", orderCreated("ORD-6", map[string]interface{}{"item_name": "loose", "quantity": 1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, f.svc.HandleOrderCreated(context.Background(), tt.env))
		})
	}
	assert.Equal(t, 0, f.item(t, "A").Reserved)
}

func TestHandleOrderCreated_MalformedPayloadIsFatal(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, nil)
	env := envelope.Envelope{
		RoutingKey: "order.created",
		Payload:    map[string]interface{}{"order_number": "ORD-1", "items": "not a list"},
	}

	err := f.svc.HandleOrderCreated(context.Background(), env)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsFatal(err))
}

func TestHandleOrderStatusChanged_CancelledReleases(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})
	ctx := context.Background()
	require.NoError(t, f.svc.HandleOrderCreated(ctx, orderCreated("ORD-1", line("A", 2))))
	require.Equal(t, 2, f.item(t, "A").Reserved)

	require.NoError(t, f.svc.HandleOrderStatusChanged(ctx, statusChanged("ORD-1", "cancelled")))

	assert.Equal(t, 0, f.item(t, "A").Reserved)
	txs := f.txs(t, "ORD-1")
	require.Len(t, txs, 2)
	assert.Equal(t, TxRelease, txs[1].Type)
	assert.Equal(t, 2, txs[1].Quantity)
}

func TestHandleOrderStatusChanged_OtherStatusIsNoop(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})
	ctx := context.Background()
	require.NoError(t, f.svc.HandleOrderCreated(ctx, orderCreated("ORD-1", line("A", 2))))

	for _, status := range []string{"processing", "shipped", "delivered"} {
		require.NoError(t, f.svc.HandleOrderStatusChanged(ctx, statusChanged("ORD-1", status)))
	}

	assert.Equal(t, 2, f.item(t, "A").Reserved)
	assert.Len(t, f.txs(t, "ORD-1"), 1)
}

func TestRelease_IsIdempotent(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})
	ctx := context.Background()
	require.NoError(t, f.svc.HandleOrderCreated(ctx, orderCreated("ORD-1", line("A", 2))))

	cancelled := envelope.Envelope{RoutingKey: "order.cancelled", Payload: map[string]interface{}{"order_number": "ORD-1"}}
	require.NoError(t, f.svc.HandleOrderCancelled(ctx, cancelled))
	require.NoError(t, f.svc.HandleOrderCancelled(ctx, cancelled))
	require.NoError(t, f.svc.HandleOrderStatusChanged(ctx, statusChanged("ORD-1", "cancelled")))

	assert.Equal(t, 0, f.item(t, "A").Reserved)
	assert.Len(t, f.txs(t, "ORD-1"), 2)
}

func TestHandleOrderCreated_AfterCancellationReservesNothing(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{LowStockAlerts: true}, map[string]int{"A": 10, "B": 10})
	ctx := context.Background()

	require.NoError(t, f.svc.HandleOrderStatusChanged(ctx, statusChanged("ORD-1", "cancelled")))
	require.NoError(t, f.svc.HandleOrderCreated(ctx, orderCreated("ORD-1", line("A", 2), line("B", 9))))

	assert.Equal(t, 0, f.item(t, "A").Reserved)
	assert.Equal(t, 0, f.item(t, "B").Reserved)
	assert.Empty(t, f.txs(t, "ORD-1"))
	assert.Empty(t, f.pub.events)

	outcomes, err := f.svc.Reserve(ctx, "ORD-1", []StockLine{{SKU: "A", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, Cancelled, outcomes["A"])
}

func TestRelease_WithoutReservationsIsNoop(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})

	released, err := f.svc.Release(context.Background(), "ORD-404")
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestReserve_PublishesLowStockAlert(t *testing.T) {
	alerts := config.InventoryConfig{LowStockAlerts: true, AlertRecipient: "ops@example.com"}
	f := newFixture(t, alerts, map[string]int{"A": 12})

	require.NoError(t, f.svc.HandleOrderCreated(context.Background(), orderCreated("ORD-1", line("A", 2))))

	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	assert.Equal(t, EventLowStock, ev.key)
	assert.Equal(t, "A", ev.payload["sku"])
	assert.Equal(t, "Item A", ev.payload["product_name"])
	assert.Equal(t, 10, ev.payload["current_quantity"])
	assert.Equal(t, 10, ev.payload["threshold"])
	assert.Equal(t, "ops@example.com", ev.payload["recipient"])
}

func TestReserve_NoAlertAboveThresholdOrWhenDisabled(t *testing.T) {
	enabled := newFixture(t, config.InventoryConfig{LowStockAlerts: true}, map[string]int{"A": 50})
	require.NoError(t, enabled.svc.HandleOrderCreated(context.Background(), orderCreated("ORD-1", line("A", 2))))
	assert.Empty(t, enabled.pub.events)

	disabled := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 5})
	require.NoError(t, disabled.svc.HandleOrderCreated(context.Background(), orderCreated("ORD-1", line("A", 2))))
	assert.Empty(t, disabled.pub.events)
}

func TestCheck_SumsAcrossWarehouses(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 4})
	ctx := context.Background()
	wh, err := f.svc.CreateWarehouse(ctx, CreateWarehouseRequest{WarehouseCode: "WH-2", Name: "Overflow", Location: "York", Capacity: 10})
	require.NoError(t, err)
	_, err = f.svc.CreateItem(ctx, CreateItemRequest{WarehouseID: wh.ID, SKU: "A", ItemName: "Item A", Quantity: 3})
	require.NoError(t, err)

	resp, err := f.svc.Check(ctx, []StockLine{{SKU: "A", Quantity: 6}, {SKU: "Z", Quantity: 1}})
	require.NoError(t, err)

	assert.False(t, resp.Available)
	require.Len(t, resp.Details, 2)
	assert.Equal(t, CheckDetail{SKU: "A", Required: 6, Available: 7, Sufficient: true}, resp.Details[0])
	assert.Equal(t, CheckDetail{SKU: "Z", Required: 1, Available: 0, Sufficient: false}, resp.Details[1])
}

func TestAdjust(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 4})
	ctx := context.Background()

	item, err := f.svc.Adjust(ctx, AdjustRequest{SKU: "A", WarehouseCode: "WH-1", Quantity: 20, Notes: "restock"})
	require.NoError(t, err)
	assert.Equal(t, 24, item.Quantity)

	_, err = f.svc.Adjust(ctx, AdjustRequest{SKU: "A", WarehouseCode: "WH-9", Quantity: 1})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	_, err = f.svc.Adjust(ctx, AdjustRequest{SKU: "A", WarehouseCode: "WH-1", Quantity: 0})
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
}

func TestCreateItem_DefaultsAndConflicts(t *testing.T) {
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 4})
	ctx := context.Background()

	assert.Equal(t, defaultReorderLevel, f.item(t, "A").ReorderLevel)

	_, err := f.svc.CreateItem(ctx, CreateItemRequest{WarehouseID: 1, SKU: "A", ItemName: "dup"})
	assert.ErrorIs(t, err, pkgerrors.ErrConflict)

	_, err = f.svc.CreateItem(ctx, CreateItemRequest{WarehouseID: 7, SKU: "Q", ItemName: "orphan"})
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}
