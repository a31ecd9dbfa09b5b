package tracking

import (
	"context"
	"fmt"
	"time"

	"logistics/internal/constants"
	"logistics/internal/envelope"
	"logistics/internal/ids"
	"logistics/internal/logger"
	pkgerrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
)

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload map[string]interface{}) error
}

type Service struct {
	repo      Repository
	publisher EventPublisher
	ids       *ids.Generator
	logger    logger.Logger
	now       func() time.Time
}

func NewService(repo Repository, publisher EventPublisher, log logger.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		ids:       ids.NewGenerator(ids.PrefixTracking),
		logger:    log,
		now:       time.Now,
	}
}

func (s *Service) Create(ctx context.Context, req CreateShipmentRequest) (*Shipment, error) {
	now := s.now().UTC()
	shipment := &Shipment{
		TrackingNumber:    s.ids.Next(),
		OrderNumber:       req.OrderNumber,
		Carrier:           req.Carrier,
		CurrentLocation:   req.CurrentLocation,
		Status:            StatusInTransit,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		EstimatedDelivery: req.EstimatedDelivery,
		CreatedAt:         now,
		UpdatedAt:         now,
		Events:            []Event{},
	}
	if err := s.repo.Create(ctx, shipment); err != nil {
		if pkgerrors.IsConflict(err) {
			metrics.ShipmentsTotal.WithLabelValues("duplicate").Inc()
		} else {
			metrics.ShipmentsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.ShipmentsTotal.WithLabelValues("created").Inc()

	s.logger.InfowCtx(ctx, "Shipment created",
		"tracking_number", shipment.TrackingNumber,
		"order_number", shipment.OrderNumber,
		"carrier", shipment.Carrier,
	)
	s.publish(ctx, EventShipmentCreated, shipment.basePayload())
	return shipment, nil
}

func (s *Service) Get(ctx context.Context, trackingNumber string) (*Shipment, error) {
	return s.repo.GetByTrackingNumber(ctx, trackingNumber)
}

func (s *Service) GetByOrder(ctx context.Context, orderNumber string) (*Shipment, error) {
	return s.repo.GetByOrderNumber(ctx, orderNumber)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Shipment, int, error) {
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
	return s.repo.List(ctx, filter)
}

// AddEvent records a checkpoint and announces it both as a tracking event and
// as a shipment update.
func (s *Service) AddEvent(ctx context.Context, trackingNumber string, req AddEventRequest) (*Event, error) {
	ev := &Event{
		Location:    req.Location,
		EventType:   req.EventType,
		Description: req.Description,
		Timestamp:   s.now().UTC(),
	}
	shipment, err := s.repo.AddEvent(ctx, trackingNumber, ev)
	if err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Tracking event recorded",
		"tracking_number", trackingNumber,
		"event_type", ev.EventType,
		"location", ev.Location,
	)
	payload := shipment.eventPayload(ev)
	s.publish(ctx, EventTrackingAdded, payload)
	s.publish(ctx, EventShipmentUpdated, payload)
	return ev, nil
}

func (s *Service) UpdateStatus(ctx context.Context, trackingNumber string, req UpdateStatusRequest) (*Shipment, error) {
	if !req.Status.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown status '%s'", req.Status))
	}
	shipment, old, err := s.repo.UpdateStatus(ctx, trackingNumber, req.Status, req.Location)
	if err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Shipment status updated",
		"tracking_number", trackingNumber,
		"old_status", old,
		"new_status", shipment.Status,
	)
	s.publish(ctx, EventShipmentStatusChanged, shipment.statusPayload(old))
	return shipment, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// HandleOrderCreated opens a shipment for a new order unless one exists.
func (s *Service) HandleOrderCreated(ctx context.Context, env envelope.Envelope) error {
	var ev orderCreated
	if err := env.Bind(&ev); err != nil {
		return err
	}
	if ev.OrderNumber == "" {
		s.logger.WarnwCtx(ctx, "Order event without order number", "routing_key", env.RoutingKey)
		return nil
	}

	if _, err := s.repo.GetByOrderNumber(ctx, ev.OrderNumber); err == nil {
		metrics.ShipmentsTotal.WithLabelValues("duplicate").Inc()
		s.logger.InfowCtx(ctx, "Shipment already exists", "order_number", ev.OrderNumber)
		return nil
	} else if !pkgerrors.IsNotFound(err) {
		return err
	}

	location := ev.OriginAddress
	if location == "" {
		location = defaultLocation
	}
	shipment, err := s.Create(ctx, CreateShipmentRequest{
		OrderNumber:       ev.OrderNumber,
		Carrier:           defaultCarrier,
		CurrentLocation:   location,
		CustomerName:      ev.CustomerName,
		CustomerEmail:     ev.CustomerEmail,
		EstimatedDelivery: parseTime(ev.EstimatedDelivery),
	})
	if pkgerrors.IsConflict(err) {
		// a concurrent delivery won the insert
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.InfowCtx(ctx, "Shipment auto-created",
		"order_number", ev.OrderNumber, "tracking_number", shipment.TrackingNumber)
	return nil
}

func (s *Service) publish(ctx context.Context, key string, payload map[string]interface{}) {
	if err := s.publisher.Publish(ctx, key, payload); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish event", "routing_key", key, "error", err)
	}
}

// parseTime accepts RFC 3339 and returns nil for anything else.
func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
