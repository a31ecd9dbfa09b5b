package notifications

import (
	"fmt"
	"strings"
)

// templateForEvent maps a routing key to the template rendered for it.
// tracking.event_added is absent on purpose: it is emitted together with
// shipment.updated for the same checkpoint.
var templateForEvent = map[string]string{
	"order.created":        "order_confirmation",
	"order.status_changed": "order_status_update",
	"shipment.created":     "shipment_created",
	"shipment.updated":     "shipment_tracking_update",
	"inventory.low_stock":  "inventory_low_stock_alert",
}

// SubscribedKeys returns the routing keys that produce a notification.
func SubscribedKeys() []string {
	return []string{
		"order.created",
		"order.status_changed",
		"shipment.created",
		"shipment.updated",
		"inventory.low_stock",
	}
}

// eventFields lists the payload fields each event contributes beyond the
// common ones, with their fallback values.
var eventFields = map[string]map[string]interface{}{
	"order.created": {
		"origin_address":      "",
		"destination_address": "",
	},
	"order.status_changed": {
		"old_status": "",
		"new_status": "",
	},
	"shipment.created": {
		"carrier":            "",
		"current_location":   "",
		"estimated_delivery": "",
	},
	"shipment.updated": {
		"carrier":            "",
		"current_location":   "",
		"estimated_delivery": "",
	},
	"inventory.low_stock": {
		"sku":              "",
		"product_name":     "",
		"current_quantity": 0,
		"threshold":        0,
	},
}

// templateVars builds the substitution variables for an event payload.
// Absent or null fields fall back to their defaults.
func templateVars(routingKey string, payload map[string]interface{}) map[string]string {
	vars := map[string]string{
		"customer_name":   lookup(payload, "customer_name", "Customer"),
		"customer_email":  lookup(payload, "customer_email", ""),
		"order_number":    lookup(payload, "order_number", "N/A"),
		"tracking_number": lookup(payload, "tracking_number", "N/A"),
	}
	for key, fallback := range eventFields[routingKey] {
		vars[key] = lookup(payload, key, fallback)
	}
	return vars
}

func lookup(payload map[string]interface{}, key string, fallback interface{}) string {
	v, ok := payload[key]
	if !ok || v == nil {
		v = fallback
	}
	return fmt.Sprint(v)
}

// render replaces every {{name}} with its variable in a single pass, so
// substituted values are never expanded again. Unknown placeholders are left
// as they are.
func render(text string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// recipientOf prefers the customer address and falls back to an explicit
// recipient, as used by operational alerts.
func recipientOf(payload map[string]interface{}) string {
	for _, key := range []string{"customer_email", "recipient"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func DefaultTemplates() []Template {
	return []Template{
		{
			Name:            "order_confirmation",
			SubjectTemplate: "Order Confirmation - {{order_number}}",
			BodyTemplate: `Dear {{customer_name}},

Thank you for your order! Your order {{order_number}} has been received and is being processed.

Order Details:
- From: {{origin_address}}
- To: {{destination_address}}

We will notify you once your order is shipped.

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "order_status_update",
			SubjectTemplate: "Order Status Update - {{order_number}}",
			BodyTemplate: `Dear {{customer_name}},

Your order {{order_number}} status has been updated.

Previous Status: {{old_status}}
New Status: {{new_status}}

You can track your order using the order number above.

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "shipment_created",
			SubjectTemplate: "Shipment Created - {{tracking_number}}",
			BodyTemplate: `Dear {{customer_name}},

Your order {{order_number}} has been shipped!

Tracking Number: {{tracking_number}}
Carrier: {{carrier}}
Estimated Delivery: {{estimated_delivery}}

You can track your shipment using the tracking number.

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "shipment_tracking_update",
			SubjectTemplate: "Shipment Update - {{tracking_number}}",
			BodyTemplate: `Dear {{customer_name}},

Your shipment {{tracking_number}} has been updated.

Current Location: {{current_location}}
Estimated Delivery: {{estimated_delivery}}

Best regards,
Logistics Team`,
			Channel: ChannelEmail,
		},
		{
			Name:            "inventory_low_stock_alert",
			SubjectTemplate: "Low Stock Alert - {{product_name}}",
			BodyTemplate: `Alert: Low Stock

Product: {{product_name}}
SKU: {{sku}}
Current Quantity: {{current_quantity}}
Threshold: {{threshold}}

Please reorder inventory as soon as possible.

Logistics System`,
			Channel: ChannelEmail,
		},
	}
}
