// Package saga describes how the services are choreographed over the event
// exchange: which queue each consumer owns and which routing keys it binds.
package saga

import (
	"context"
	"fmt"

	"logistics/internal/broker"
)

// Routing keys exchanged between the services.
const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderCancelled     = "order.cancelled"

	ShipmentCreated       = "shipment.created"
	ShipmentUpdated       = "shipment.updated"
	ShipmentStatusChanged = "shipment.status_changed"
	TrackingEventAdded    = "tracking.event_added"

	InventoryLowStock = "inventory.low_stock"
)

type Binding struct {
	Queue    string
	Patterns []string
}

var (
	InventoryBinding = Binding{
		Queue:    "inventory.queue",
		Patterns: []string{OrderCreated, OrderStatusChanged, OrderCancelled},
	}
	TrackingBinding = Binding{
		Queue:    "tracking.order_events",
		Patterns: []string{OrderCreated},
	}
	NotificationBinding = Binding{
		Queue:    "notification_service_queue",
		Patterns: []string{OrderCreated, OrderStatusChanged, ShipmentCreated, ShipmentUpdated, InventoryLowStock},
	}
)

// Subscribe connects the consumer with the binding's patterns, registers one
// handler per pattern and starts consuming. Every bound pattern needs a handler.
func Subscribe(ctx context.Context, c *broker.Consumer, exchange string, b Binding, handlers map[string]broker.Handler) error {
	for _, p := range b.Patterns {
		if _, ok := handlers[p]; !ok {
			return fmt.Errorf("no handler for pattern %q of queue %s", p, b.Queue)
		}
	}
	if err := c.Connect(ctx, exchange, b.Patterns); err != nil {
		return err
	}
	for _, p := range b.Patterns {
		if err := c.RegisterHandler(p, handlers[p]); err != nil {
			return err
		}
	}
	return c.StartConsuming(ctx)
}
