package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"logistics/internal/constants"
	pkgerrors "logistics/pkg/errors"
)

type Repository interface {
	// Create fails with ErrConflict when the order already has a shipment.
	Create(ctx context.Context, s *Shipment) error
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*Shipment, error)
	List(ctx context.Context, filter ListFilter) ([]Shipment, int, error)
	// AddEvent stores the event and moves the shipment to its location.
	AddEvent(ctx context.Context, trackingNumber string, e *Event) (*Shipment, error)
	UpdateStatus(ctx context.Context, trackingNumber string, status Status, location string) (*Shipment, Status, error)
	Stats(ctx context.Context) (Stats, error)
}

func notFound(trackingNumber string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("shipment '%s' not found", trackingNumber))
}

func duplicateOrder(orderNumber string) *pkgerrors.Error {
	return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("order '%s' already has a shipment", orderNumber))
}

type MemoryRepository struct {
	mu        sync.RWMutex
	shipments map[string]*Shipment
	byOrder   map[string]string
	nextID    int64
	nextEvent int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		shipments: make(map[string]*Shipment),
		byOrder:   make(map[string]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOrder[s.OrderNumber]; ok {
		return duplicateOrder(s.OrderNumber)
	}
	if _, ok := r.shipments[s.TrackingNumber]; ok {
		return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("shipment '%s' already exists", s.TrackingNumber))
	}
	r.nextID++
	s.ID = r.nextID
	if s.Events == nil {
		s.Events = []Event{}
	}
	r.shipments[s.TrackingNumber] = cloneShipment(s)
	r.byOrder[s.OrderNumber] = s.TrackingNumber
	return nil
}

func (r *MemoryRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.shipments[trackingNumber]
	if !ok {
		return nil, notFound(trackingNumber)
	}
	return cloneShipment(s), nil
}

func (r *MemoryRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*Shipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tn, ok := r.byOrder[orderNumber]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("no shipment for order '%s'", orderNumber))
	}
	return cloneShipment(r.shipments[tn]), nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Shipment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Shipment, 0, len(r.shipments))
	for _, s := range r.shipments {
		if filter.Status == "" || s.Status == filter.Status {
			matched = append(matched, *cloneShipment(s))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if filter.Offset >= total {
		return []Shipment{}, total, nil
	}
	end := filter.Offset + limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (r *MemoryRepository) AddEvent(ctx context.Context, trackingNumber string, e *Event) (*Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.shipments[trackingNumber]
	if !ok {
		return nil, notFound(trackingNumber)
	}
	r.nextEvent++
	e.ID = r.nextEvent
	e.ShipmentID = s.ID
	// newest first
	s.Events = append([]Event{*e}, s.Events...)
	s.CurrentLocation = e.Location
	s.UpdatedAt = e.Timestamp
	return cloneShipment(s), nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, trackingNumber string, status Status, location string) (*Shipment, Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.shipments[trackingNumber]
	if !ok {
		return nil, "", notFound(trackingNumber)
	}
	old := s.Status
	s.Status = status
	if location != "" {
		s.CurrentLocation = location
	}
	s.UpdatedAt = time.Now().UTC()
	return cloneShipment(s), old, nil
}

func (r *MemoryRepository) Stats(ctx context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{}
	for _, s := range r.shipments {
		stats[s.Status]++
	}
	return stats, nil
}

func cloneShipment(s *Shipment) *Shipment {
	c := *s
	c.Events = append([]Event{}, s.Events...)
	if s.EstimatedDelivery != nil {
		t := *s.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	return &c
}
