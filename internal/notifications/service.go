package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"logistics/internal/constants"
	"logistics/internal/envelope"
	"logistics/internal/logger"
	"logistics/pkg/cel"
	pkgerrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
)

var notificationNamespace = uuid.MustParse("6f1c4a52-8d3e-4b7a-9f0e-2c5d7a1b3e90")

type Service struct {
	store      Store
	sender     Sender
	conditions *cel.Evaluator
	logger     logger.Logger
	now        func() time.Time
}

type ServiceOption func(*Service)

// WithConditions enables per-template send conditions. Without it templates
// carrying a condition are rejected on create and always match on delivery.
func WithConditions(eval *cel.Evaluator) ServiceOption {
	return func(s *Service) {
		s.conditions = eval
	}
}

func NewService(store Store, sender Sender, log logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		sender: sender,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedTemplates stores the default templates that are not present yet.
func (s *Service) SeedTemplates(ctx context.Context) error {
	for _, t := range DefaultTemplates() {
		_, err := s.store.GetTemplate(ctx, t.Name)
		if err == nil {
			continue
		}
		if !pkgerrors.IsNotFound(err) {
			return fmt.Errorf("failed to look up template %s: %w", t.Name, err)
		}

		tmpl := t
		if err := s.createTemplate(ctx, &tmpl); err != nil && !pkgerrors.IsConflict(err) {
			return fmt.Errorf("failed to seed template %s: %w", t.Name, err)
		}
		s.logger.Infow("Template seeded", "template_name", t.Name)
	}
	return nil
}

func (s *Service) createTemplate(ctx context.Context, t *Template) error {
	now := s.now().UTC()
	t.ID = uuid.New().String()
	if t.Channel == "" {
		t.Channel = ChannelEmail
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return s.store.CreateTemplate(ctx, t)
}

func (s *Service) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*Template, error) {
	t := &Template{
		Name:            req.Name,
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
		Channel:         req.Channel,
		Condition:       req.Condition,
	}
	if t.Condition != "" {
		if s.conditions == nil {
			return nil, pkgerrors.ErrValidation.WithDetail("message", "template conditions are not enabled")
		}
		if err := s.conditions.Validate(t.Condition); err != nil {
			return nil, pkgerrors.ErrValidation.WithDetail("message", err.Error())
		}
	}
	if err := s.createTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	return s.store.ListTemplates(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Notification, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Notification, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown status '%s'", filter.Status))
	}
	if filter.Limit <= 0 {
		filter.Limit = constants.DefaultLimit
	}
	if filter.Limit > constants.MaxLimit {
		filter.Limit = constants.MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.List(ctx, filter)
}

// Send persists the notification as pending, hands it to the sender and
// records the outcome.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Notification, error) {
	channel := req.Channel
	if channel == "" {
		channel = ChannelEmail
	}
	n := &Notification{
		ID:             uuid.New().String(),
		Type:           req.Type,
		Recipient:      req.Recipient,
		Subject:        req.Subject,
		Message:        req.Message,
		Channel:        channel,
		Status:         StatusPending,
		OrderNumber:    req.OrderNumber,
		TrackingNumber: req.TrackingNumber,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return nil, err
	}
	return n, s.deliver(ctx, n, req.Type)
}

func (s *Service) deliver(ctx context.Context, n *Notification, label string) error {
	if err := s.sender.Send(ctx, *n); err != nil {
		s.logger.ErrorwCtx(ctx, "Notification send failed", "notification_id", n.ID, "error", err)
		n.Status = StatusFailed
		metrics.NotificationsTotal.WithLabelValues(label, string(StatusFailed)).Inc()
		return s.store.SetStatus(ctx, n.ID, StatusFailed, nil)
	}

	sentAt := s.now().UTC()
	n.Status = StatusSent
	n.SentAt = &sentAt
	metrics.NotificationsTotal.WithLabelValues(label, string(StatusSent)).Inc()
	return s.store.SetStatus(ctx, n.ID, StatusSent, &sentAt)
}

// HandleEvent renders the template mapped to the routing key and sends it.
// Events without a mapping, template or recipient are logged and skipped.
func (s *Service) HandleEvent(ctx context.Context, env envelope.Envelope) error {
	name, ok := templateForEvent[env.RoutingKey]
	if !ok {
		s.logger.WarnwCtx(ctx, "No template for event", "routing_key", env.RoutingKey)
		return nil
	}

	tmpl, err := s.store.GetTemplate(ctx, name)
	if pkgerrors.IsNotFound(err) {
		s.logger.WarnwCtx(ctx, "Template not found", "template_name", name)
		return nil
	}
	if err != nil {
		return err
	}

	if !s.conditionHolds(ctx, tmpl, env) {
		metrics.NotificationsTotal.WithLabelValues(name, "skipped").Inc()
		return nil
	}

	recipient := recipientOf(env.Payload)
	if recipient == "" {
		s.logger.WarnwCtx(ctx, "No recipient in event", "routing_key", env.RoutingKey)
		metrics.NotificationsTotal.WithLabelValues(name, "skipped").Inc()
		return nil
	}

	id := notificationID(env, name)
	existing, err := s.store.Get(ctx, id)
	switch {
	case err == nil && existing.Status != StatusPending:
		s.logger.InfowCtx(ctx, "Notification already handled",
			"notification_id", id, "status", existing.Status)
		return nil
	case err == nil:
		// a previous attempt stored it but did not settle the status
		return s.deliver(ctx, existing, name)
	case !pkgerrors.IsNotFound(err):
		return err
	}

	vars := templateVars(env.RoutingKey, env.Payload)
	n := &Notification{
		ID:             id,
		Type:           env.RoutingKey,
		Recipient:      recipient,
		Subject:        render(tmpl.SubjectTemplate, vars),
		Message:        render(tmpl.BodyTemplate, vars),
		Channel:        tmpl.Channel,
		Status:         StatusPending,
		OrderNumber:    env.String("order_number"),
		TrackingNumber: env.String("tracking_number"),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Insert(ctx, n); err != nil {
		if pkgerrors.IsConflict(err) {
			s.logger.InfowCtx(ctx, "Notification is being handled by another delivery", "notification_id", id)
			return nil
		}
		return err
	}
	return s.deliver(ctx, n, name)
}

// notificationID is stable across redeliveries of one event, so a retried
// event resumes the notification it already stored. It is also handed to the
// sender, which can use it as an idempotency key.
func notificationID(env envelope.Envelope, templateName string) string {
	key := env.MessageID
	if key == "" {
		// encoding/json sorts map keys, so equal payloads give equal bytes
		raw, _ := json.Marshal(env.Payload)
		key = env.RoutingKey + ":" + string(raw)
	}
	return uuid.NewSHA1(notificationNamespace, []byte(key+"/"+templateName)).String()
}

// conditionHolds reports whether the template's condition accepts the event.
// Evaluation errors count as a miss.
func (s *Service) conditionHolds(ctx context.Context, tmpl *Template, env envelope.Envelope) bool {
	if tmpl.Condition == "" || s.conditions == nil {
		return true
	}
	ok, err := s.conditions.Match(ctx, tmpl.Condition, env.RoutingKey, env.Payload)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Template condition failed",
			"template_name", tmpl.Name, "routing_key", env.RoutingKey, "error", err)
		return false
	}
	if !ok {
		s.logger.DebugwCtx(ctx, "Template condition not met", "template_name", tmpl.Name, "routing_key", env.RoutingKey)
	}
	return ok
}
