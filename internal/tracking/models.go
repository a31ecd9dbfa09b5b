package tracking

import "time"

type Status string

const (
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInTransit, StatusOutForDelivery, StatusDelivered:
		return true
	}
	return false
}

const (
	EventShipmentCreated       = "shipment.created"
	EventShipmentUpdated       = "shipment.updated"
	EventShipmentStatusChanged = "shipment.status_changed"
	EventTrackingAdded         = "tracking.event_added"

	defaultCarrier  = "Standard Carrier"
	defaultLocation = "Warehouse"
)

type Shipment struct {
	ID                int64      `json:"id"`
	TrackingNumber    string     `json:"tracking_number"`
	OrderNumber       string     `json:"order_number"`
	Carrier           string     `json:"carrier"`
	CurrentLocation   string     `json:"current_location,omitempty"`
	Status            Status     `json:"status"`
	CustomerName      string     `json:"customer_name,omitempty"`
	CustomerEmail     string     `json:"customer_email,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Events            []Event    `json:"events"`
}

type Event struct {
	ID          int64     `json:"id"`
	ShipmentID  int64     `json:"shipment_id"`
	Location    string    `json:"location"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

type CreateShipmentRequest struct {
	OrderNumber     string `json:"order_number" binding:"required,max=50"`
	Carrier         string `json:"carrier" binding:"required,max=100"`
	CurrentLocation string `json:"current_location" binding:"max=500"`
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email" binding:"omitempty,email"`

	EstimatedDelivery *time.Time `json:"estimated_delivery"`
}

type AddEventRequest struct {
	Location    string `json:"location" binding:"required,max=500"`
	EventType   string `json:"event_type" binding:"required,max=100"`
	Description string `json:"description" binding:"required"`
}

type UpdateStatusRequest struct {
	Status   Status `json:"status" binding:"required"`
	Location string `json:"location" binding:"max=500"`
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type ListResponse struct {
	Shipments []Shipment `json:"shipments"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}

type Stats map[Status]int

// orderCreated is the subset of order.created used to open a shipment.
type orderCreated struct {
	OrderNumber       string `json:"order_number"`
	CustomerName      string `json:"customer_name"`
	CustomerEmail     string `json:"customer_email"`
	OriginAddress     string `json:"origin_address"`
	EstimatedDelivery string `json:"estimated_delivery"`
}

func (s *Shipment) basePayload() map[string]interface{} {
	p := map[string]interface{}{
		"tracking_number":  s.TrackingNumber,
		"order_number":     s.OrderNumber,
		"carrier":          s.Carrier,
		"status":           string(s.Status),
		"current_location": s.CurrentLocation,
	}
	if s.CustomerName != "" {
		p["customer_name"] = s.CustomerName
	}
	if s.CustomerEmail != "" {
		p["customer_email"] = s.CustomerEmail
	}
	if s.EstimatedDelivery != nil {
		p["estimated_delivery"] = s.EstimatedDelivery.UTC().Format(time.RFC3339)
	}
	return p
}

func (s *Shipment) eventPayload(e *Event) map[string]interface{} {
	p := s.basePayload()
	p["event_type"] = e.EventType
	p["location"] = e.Location
	p["description"] = e.Description
	p["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	return p
}

func (s *Shipment) statusPayload(old Status) map[string]interface{} {
	p := s.basePayload()
	p["old_status"] = string(old)
	p["new_status"] = string(s.Status)
	return p
}
