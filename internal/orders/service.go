package orders

import (
	"context"
	"fmt"
	"time"

	"logistics/internal/constants"
	"logistics/internal/ids"
	"logistics/internal/logger"
	pkgerrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
)

const estimatedDeliveryDelay = 3 * 24 * time.Hour

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload map[string]interface{}) error
}

type Service struct {
	repo      Repository
	publisher EventPublisher
	checker   AvailabilityChecker
	ids       *ids.Generator
	logger    logger.Logger
	now       func() time.Time
}

type ServiceOption func(*Service)

// WithAvailabilityChecker enables the pre-create stock check.
func WithAvailabilityChecker(checker AvailabilityChecker) ServiceOption {
	return func(s *Service) {
		s.checker = checker
	}
}

func NewService(repo Repository, publisher EventPublisher, log logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		publisher: publisher,
		ids:       ids.NewGenerator(ids.PrefixOrder),
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "order must have at least one item")
	}

	if s.checker != nil {
		var lines []StockLine
		for _, it := range req.Items {
			if it.SKU != "" {
				lines = append(lines, StockLine{SKU: it.SKU, Quantity: it.Quantity})
			}
		}
		if len(lines) > 0 && !s.checker.Check(ctx, lines) {
			// Reservation is best effort downstream, so the order is still accepted.
			s.logger.WarnwCtx(ctx, "Inventory reports insufficient stock", "items", lines)
		}
	}

	now := s.now().UTC()
	eta := now.Add(estimatedDeliveryDelay)
	order := &Order{
		OrderNumber:        s.ids.Next(),
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		OriginAddress:      req.OriginAddress,
		DestinationAddress: req.DestinationAddress,
		PackageWeight:      req.PackageWeight,
		PackageDimensions:  req.PackageDimensions,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
		EstimatedDelivery:  &eta,
	}
	for _, it := range req.Items {
		order.Items = append(order.Items, Item{ItemName: it.ItemName, Quantity: it.Quantity, SKU: it.SKU})
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(StatusPending)).Inc()

	s.logger.InfowCtx(ctx, "Order created",
		"order_number", order.OrderNumber,
		"customer", order.CustomerName,
		"items_count", len(order.Items),
	)

	s.publish(ctx, EventOrderCreated, order.createdPayload())
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderNumber string) (*Order, error) {
	return s.repo.GetByNumber(ctx, orderNumber)
}

func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	if filter.Limit <= 0 {
		filter.Limit = constants.DefaultLimit
	}
	if filter.Limit > constants.MaxLimit {
		filter.Limit = constants.MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown status '%s'", filter.Status))
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []Order{}
	}
	return &ListResponse{Orders: orders, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// UpdateStatus persists the status and announces the transition.
func (s *Service) UpdateStatus(ctx context.Context, orderNumber string, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown status '%s'", status))
	}

	order, old, err := s.repo.UpdateStatus(ctx, orderNumber, status)
	if err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(status)).Inc()

	s.logger.InfowCtx(ctx, "Order status updated",
		"order_number", orderNumber,
		"old_status", old,
		"new_status", status,
	)

	s.publish(ctx, EventOrderStatusChanged, order.statusChangedPayload(old, status))
	return order, nil
}

// Cancel moves the order to cancelled. Inventory releases its reservations
// when it sees the status change.
func (s *Service) Cancel(ctx context.Context, orderNumber string) (*Order, error) {
	return s.UpdateStatus(ctx, orderNumber, StatusCancelled)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// publish logs failures instead of returning them: the local change is
// already committed.
func (s *Service) publish(ctx context.Context, routingKey string, payload map[string]interface{}) {
	if err := s.publisher.Publish(ctx, routingKey, payload); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish order event",
			"routing_key", routingKey,
			"order_number", payload["order_number"],
			"error", err,
		)
	}
}
