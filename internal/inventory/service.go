package inventory

import (
	"context"
	"fmt"

	"logistics/internal/config"
	"logistics/internal/envelope"
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
	alerts    config.InventoryConfig
	logger    logger.Logger
}

func NewService(repo Repository, publisher EventPublisher, alerts config.InventoryConfig, log logger.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		alerts:    alerts,
		logger:    log,
	}
}

func (s *Service) CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*Warehouse, error) {
	w := &Warehouse{
		WarehouseCode: req.WarehouseCode,
		Name:          req.Name,
		Location:      req.Location,
		Capacity:      req.Capacity,
	}
	if err := s.repo.CreateWarehouse(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

func (s *Service) CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error) {
	reorder := defaultReorderLevel
	if req.ReorderLevel != nil {
		reorder = *req.ReorderLevel
	}
	item := &Item{
		WarehouseID:  req.WarehouseID,
		SKU:          req.SKU,
		ItemName:     req.ItemName,
		Quantity:     req.Quantity,
		ReorderLevel: reorder,
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) ListItems(ctx context.Context, warehouseID int64) ([]Item, error) {
	return s.repo.ListItems(ctx, warehouseID)
}

func (s *Service) LowStock(ctx context.Context) ([]Item, error) {
	return s.repo.LowStock(ctx)
}

func (s *Service) Transactions(ctx context.Context, orderNumber string) ([]Transaction, error) {
	return s.repo.Transactions(ctx, orderNumber)
}

// Check sums available stock across warehouses for every requested line.
func (s *Service) Check(ctx context.Context, lines []StockLine) (*CheckResponse, error) {
	resp := &CheckResponse{Available: true, Details: []CheckDetail{}}
	for _, line := range aggregate(lines) {
		items, err := s.repo.ItemsBySKU(ctx, line.SKU)
		if err != nil {
			return nil, err
		}
		total := 0
		for _, it := range items {
			total += it.Available()
		}
		sufficient := total >= line.Quantity
		if !sufficient {
			resp.Available = false
		}
		resp.Details = append(resp.Details, CheckDetail{
			SKU:        line.SKU,
			Required:   line.Quantity,
			Available:  total,
			Sufficient: sufficient,
		})
	}
	return resp, nil
}

// Reserve reserves each line on a best-effort basis. Lines without stock are
// skipped; the returned map holds the outcome per SKU.
func (s *Service) Reserve(ctx context.Context, orderNumber string, lines []StockLine) (map[string]ReserveOutcome, error) {
	outcomes := make(map[string]ReserveOutcome, len(lines))
	for _, line := range aggregate(lines) {
		res, err := s.repo.Reserve(ctx, orderNumber, line.SKU, line.Quantity)
		if err != nil {
			metrics.InventoryOperationsTotal.WithLabelValues("reserve", "error").Inc()
			return outcomes, fmt.Errorf("failed to reserve %s for order %s: %w", line.SKU, orderNumber, err)
		}
		outcomes[line.SKU] = res.Outcome
		metrics.InventoryOperationsTotal.WithLabelValues("reserve", string(res.Outcome)).Inc()

		switch res.Outcome {
		case Reserved:
			s.logger.InfowCtx(ctx, "Reserved stock",
				"order_number", orderNumber, "sku", line.SKU, "quantity", line.Quantity)
			s.checkLowStock(ctx, res.Item)
		case Duplicate:
			s.logger.DebugwCtx(ctx, "Reservation already recorded", "order_number", orderNumber, "sku", line.SKU)
		case Insufficient:
			s.logger.WarnwCtx(ctx, "Insufficient stock, skipping item",
				"order_number", orderNumber, "sku", line.SKU, "quantity", line.Quantity)
		case Cancelled:
			s.logger.InfowCtx(ctx, "Order already cancelled, skipping reservation", "order_number", orderNumber)
			return outcomes, nil
		}
	}
	return outcomes, nil
}

func (s *Service) Release(ctx context.Context, orderNumber string) ([]Transaction, error) {
	released, err := s.repo.Release(ctx, orderNumber)
	if err != nil {
		metrics.InventoryOperationsTotal.WithLabelValues("release", "error").Inc()
		return nil, fmt.Errorf("failed to release order %s: %w", orderNumber, err)
	}
	if len(released) == 0 {
		metrics.InventoryOperationsTotal.WithLabelValues("release", "noop").Inc()
		s.logger.DebugwCtx(ctx, "Nothing to release", "order_number", orderNumber)
		return released, nil
	}
	metrics.InventoryOperationsTotal.WithLabelValues("release", "released").Inc()
	for _, t := range released {
		s.logger.InfowCtx(ctx, "Released reservation",
			"order_number", orderNumber, "sku", t.SKU, "quantity", t.Quantity)
	}
	return released, nil
}

func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*Item, error) {
	if req.Quantity == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "quantity must be non-zero")
	}
	item, err := s.repo.Adjust(ctx, req.SKU, req.WarehouseCode, req.Quantity, req.Notes)
	if err != nil {
		return nil, err
	}
	metrics.InventoryOperationsTotal.WithLabelValues("adjust", "ok").Inc()
	s.checkLowStock(ctx, item)
	return item, nil
}

func (s *Service) checkLowStock(ctx context.Context, item *Item) {
	if item == nil || !s.alerts.LowStockAlerts || !item.LowOnStock() {
		return
	}
	payload := map[string]interface{}{
		"sku":              item.SKU,
		"product_name":     item.ItemName,
		"current_quantity": item.Available(),
		"threshold":        item.ReorderLevel,
		"recipient":        s.alerts.AlertRecipient,
	}
	if err := s.publisher.Publish(ctx, EventLowStock, payload); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish low stock alert", "sku", item.SKU, "error", err)
	}
}

// HandleOrderCreated reserves the SKU-bearing items of a new order.
func (s *Service) HandleOrderCreated(ctx context.Context, env envelope.Envelope) error {
	var ev orderEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	if ev.OrderNumber == "" || len(ev.Items) == 0 {
		s.logger.WarnwCtx(ctx, "Order event without order number or items", "routing_key", env.RoutingKey)
		return nil
	}

	var lines []StockLine
	for _, it := range ev.Items {
		if it.SKU != "" && it.Quantity > 0 {
			lines = append(lines, it)
		}
	}
	_, err := s.Reserve(ctx, ev.OrderNumber, lines)
	return err
}

// HandleOrderStatusChanged releases stock only when the order was cancelled.
func (s *Service) HandleOrderStatusChanged(ctx context.Context, env envelope.Envelope) error {
	var ev orderEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	if ev.NewStatus != "cancelled" {
		return nil
	}
	return s.releaseFor(ctx, ev.OrderNumber)
}

func (s *Service) HandleOrderCancelled(ctx context.Context, env envelope.Envelope) error {
	var ev orderEvent
	if err := env.Bind(&ev); err != nil {
		return err
	}
	return s.releaseFor(ctx, ev.OrderNumber)
}

func (s *Service) releaseFor(ctx context.Context, orderNumber string) error {
	if orderNumber == "" {
		s.logger.WarnwCtx(ctx, "Cancellation without order number")
		return nil
	}
	_, err := s.Release(ctx, orderNumber)
	return err
}

// aggregate merges repeated SKUs and drops lines without one, keeping the
// order of first appearance.
func aggregate(lines []StockLine) []StockLine {
	index := map[string]int{}
	out := make([]StockLine, 0, len(lines))
	for _, l := range lines {
		if l.SKU == "" {
			continue
		}
		if i, ok := index[l.SKU]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.SKU] = len(out)
		out = append(out, l)
	}
	return out
}
