package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/envelope"
	"logistics/internal/logger"
	"logistics/pkg/cel"
	pkgerrors "logistics/pkg/errors"
)

type recordingSender struct {
	sent []Notification
	err  error
}

func (s *recordingSender) Send(ctx context.Context, n Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, seed bool) (*Service, *MemoryStore, *recordingSender) {
	t.Helper()
	store := NewMemoryStore()
	sender := &recordingSender{}
	svc := NewService(store, sender, logger.NopLogger())
	svc.now = func() time.Time { return fixedNow }
	if seed {
		require.NoError(t, svc.SeedTemplates(context.Background()))
	}
	return svc, store, sender
}

func event(key string, payload map[string]interface{}) envelope.Envelope {
	return envelope.Envelope{RoutingKey: key, Payload: payload}
}

func TestSeedTemplates_IsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t, true)
	require.NoError(t, svc.SeedTemplates(context.Background()))

	templates, err := store.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 5)
	assert.Equal(t, "inventory_low_stock_alert", templates[0].Name)
}

func TestHandleEvent_OrderConfirmation(t *testing.T) {
	svc, store, sender := newTestService(t, true)

	err := svc.HandleEvent(context.Background(), event("order.created", map[string]interface{}{
		"order_number":        "ORD-1",
		"customer_name":       "Ada",
		"customer_email":      "a@b.com",
		"origin_address":      "X",
		"destination_address": "Y",
	}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	n := sender.sent[0]
	assert.Equal(t, "a@b.com", n.Recipient)
	assert.Equal(t, "Order Confirmation - ORD-1", n.Subject)
	assert.Contains(t, n.Message, "Dear Ada,")
	assert.Contains(t, n.Message, "- From: X")
	assert.Contains(t, n.Message, "- To: Y")
	assert.Equal(t, "order.created", n.Type)
	assert.Equal(t, "ORD-1", n.OrderNumber)

	stored, err := store.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)
	require.NotNil(t, stored.SentAt)
	assert.Equal(t, fixedNow, *stored.SentAt)
}

func TestHandleEvent_Defaults(t *testing.T) {
	svc, _, sender := newTestService(t, true)

	err := svc.HandleEvent(context.Background(), event("shipment.created", map[string]interface{}{
		"customer_email": "a@b.com",
		"carrier":        "Standard Carrier",
	}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	n := sender.sent[0]
	assert.Equal(t, "Shipment Created - N/A", n.Subject)
	assert.Contains(t, n.Message, "Dear Customer,")
	assert.Contains(t, n.Message, "Your order N/A has been shipped!")
	assert.Contains(t, n.Message, "Carrier: Standard Carrier")
	assert.Contains(t, n.Message, "Estimated Delivery: \n")
}

func TestHandleEvent_LowStockUsesRecipient(t *testing.T) {
	svc, _, sender := newTestService(t, true)

	err := svc.HandleEvent(context.Background(), event("inventory.low_stock", map[string]interface{}{
		"sku":              "A",
		"product_name":     "Widget",
		"current_quantity": float64(3),
		"threshold":        float64(10),
		"recipient":        "ops@example.com",
	}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	n := sender.sent[0]
	assert.Equal(t, "ops@example.com", n.Recipient)
	assert.Equal(t, "Low Stock Alert - Widget", n.Subject)
	assert.Contains(t, n.Message, "Current Quantity: 3\n")
	assert.Contains(t, n.Message, "Threshold: 10\n")
}

func TestHandleEvent_Skips(t *testing.T) {
	tests := []struct {
		name string
		seed bool
		env  envelope.Envelope
	}{
		{"unmapped key", true, event("tracking.event_added", map[string]interface{}{"customer_email": "a@b.com"})},
		{"missing template", false, event("order.created", map[string]interface{}{"customer_email": "a@b.com"})},
		{"missing recipient", true, event("order.status_changed", map[string]interface{}{"order_number": "ORD-1"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, sender := newTestService(t, tt.seed)

			require.NoError(t, svc.HandleEvent(context.Background(), tt.env))
			assert.Empty(t, sender.sent)
			_, total, err := store.List(context.Background(), ListFilter{})
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestHandleEvent_SendFailureIsRecorded(t *testing.T) {
	svc, store, sender := newTestService(t, true)
	sender.err = errors.New("smtp down")

	err := svc.HandleEvent(context.Background(), event("order.status_changed", map[string]interface{}{
		"order_number":   "ORD-1",
		"customer_email": "a@b.com",
		"old_status":     "pending",
		"new_status":     "shipped",
	}))
	require.NoError(t, err)

	failed, total, err := store.List(context.Background(), ListFilter{Status: StatusFailed})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Nil(t, failed[0].SentAt)
	assert.Contains(t, failed[0].Message, "New Status: shipped")
}

func TestRender(t *testing.T) {
	vars := map[string]string{"a": "1", "b": "{{a}}"}

	assert.Equal(t, "1 {{a}} {{c}}", render("{{a}} {{b}} {{c}}", vars))
	assert.Equal(t, "x=1", render("x={{a}}", vars))
	assert.Equal(t, "{{ a }}", render("{{ a }}", vars))
}

func TestList_FiltersAndPaginates(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Send(ctx, SendRequest{Type: "manual", Recipient: "a@b.com", Subject: "s", Message: "m"})
		require.NoError(t, err)
	}

	page, total, err := svc.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	_, _, err = svc.List(ctx, ListFilter{Status: "bounced"})
	assert.Error(t, err)
}

func newConditionalService(t *testing.T) (*Service, *recordingSender) {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	sender := &recordingSender{}
	svc := NewService(NewMemoryStore(), sender, logger.NopLogger(), WithConditions(eval))
	svc.now = func() time.Time { return fixedNow }
	return svc, sender
}

func TestCreateTemplate_Condition(t *testing.T) {
	svc, _ := newConditionalService(t)
	ctx := context.Background()

	tmpl, err := svc.CreateTemplate(ctx, CreateTemplateRequest{
		Name:            "order_status_update",
		SubjectTemplate: "Order {{order_number}}",
		BodyTemplate:    "Now {{new_status}}",
		Condition:       `event.new_status == "delivered"`,
	})
	require.NoError(t, err)
	assert.Equal(t, `event.new_status == "delivered"`, tmpl.Condition)
	assert.Equal(t, ChannelEmail, tmpl.Channel)

	_, err = svc.CreateTemplate(ctx, CreateTemplateRequest{
		Name:            "broken",
		SubjectTemplate: "s",
		BodyTemplate:    "b",
		Condition:       `event.new_status ==`,
	})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestCreateTemplate_ConditionWithoutEvaluator(t *testing.T) {
	svc, _, _ := newTestService(t, false)

	_, err := svc.CreateTemplate(context.Background(), CreateTemplateRequest{
		Name:            "order_status_update",
		SubjectTemplate: "s",
		BodyTemplate:    "b",
		Condition:       `routing_key == "order.status_changed"`,
	})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestHandleEvent_Condition(t *testing.T) {
	svc, sender := newConditionalService(t)
	ctx := context.Background()

	_, err := svc.CreateTemplate(ctx, CreateTemplateRequest{
		Name:            "order_status_update",
		SubjectTemplate: "Order {{order_number}}",
		BodyTemplate:    "Now {{new_status}}",
		Condition:       `has(event.new_status) && event.new_status == "delivered"`,
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandleEvent(ctx, event("order.status_changed", map[string]interface{}{
		"order_number":   "ORD-1",
		"customer_email": "a@b.com",
		"new_status":     "in_transit",
	})))
	assert.Empty(t, sender.sent)

	require.NoError(t, svc.HandleEvent(ctx, event("order.status_changed", map[string]interface{}{
		"order_number":   "ORD-1",
		"customer_email": "a@b.com",
		"new_status":     "delivered",
	})))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Now delivered", sender.sent[0].Message)
}

// flakyStatusStore fails the first SetStatus call, leaving the stored
// notification pending.
type flakyStatusStore struct {
	*MemoryStore
	failures int
}

func (s *flakyStatusStore) SetStatus(ctx context.Context, id string, status Status, sentAt *time.Time) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("write timeout")
	}
	return s.MemoryStore.SetStatus(ctx, id, status, sentAt)
}

func TestHandleEvent_RedeliveryResumesStoredNotification(t *testing.T) {
	store := &flakyStatusStore{MemoryStore: NewMemoryStore(), failures: 1}
	sender := &recordingSender{}
	svc := NewService(store, sender, logger.NopLogger())
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()
	require.NoError(t, svc.SeedTemplates(ctx))

	env := event("order.created", map[string]interface{}{
		"order_number":   "ORD-1",
		"customer_email": "a@b.com",
	})
	env.MessageID = "msg-1"

	require.Error(t, svc.HandleEvent(ctx, env))
	require.NoError(t, svc.HandleEvent(ctx, env))

	list, total, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, StatusSent, list[0].Status)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, sender.sent[0].ID, sender.sent[1].ID)

	// once settled, further copies are dropped
	require.NoError(t, svc.HandleEvent(ctx, env))
	assert.Len(t, sender.sent, 2)
	_, total, err = store.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestHandleEvent_DistinctMessagesAreDistinctNotifications(t *testing.T) {
	svc, store, sender := newTestService(t, true)
	ctx := context.Background()

	for _, id := range []string{"msg-1", "msg-2"} {
		env := event("order.created", map[string]interface{}{"order_number": "ORD-1", "customer_email": "a@b.com"})
		env.MessageID = id
		require.NoError(t, svc.HandleEvent(ctx, env))
	}

	_, total, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, sender.sent, 2)
}

func TestNotificationID(t *testing.T) {
	a := event("order.created", map[string]interface{}{"order_number": "ORD-1", "x": "1"})
	b := event("order.created", map[string]interface{}{"x": "1", "order_number": "ORD-1"})
	assert.Equal(t, notificationID(a, "order_confirmation"), notificationID(b, "order_confirmation"))
	assert.NotEqual(t, notificationID(a, "order_confirmation"), notificationID(a, "other"))

	a.MessageID = "msg-1"
	assert.NotEqual(t, notificationID(a, "order_confirmation"), notificationID(b, "order_confirmation"))
}
