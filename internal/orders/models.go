package orders

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type Order struct {
	ID                 int64      `json:"id"`
	OrderNumber        string     `json:"order_number"`
	CustomerName       string     `json:"customer_name"`
	CustomerEmail      string     `json:"customer_email"`
	OriginAddress      string     `json:"origin_address"`
	DestinationAddress string     `json:"destination_address"`
	PackageWeight      float64    `json:"package_weight"`
	PackageDimensions  string     `json:"package_dimensions,omitempty"`
	Status             Status     `json:"status"`
	Items              []Item     `json:"items"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	EstimatedDelivery  *time.Time `json:"estimated_delivery,omitempty"`
}

type Item struct {
	ID       int64  `json:"id"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
	SKU      string `json:"sku,omitempty"`
}

type CreateOrderRequest struct {
	CustomerName       string              `json:"customer_name" binding:"required,max=255"`
	CustomerEmail      string              `json:"customer_email" binding:"required,email"`
	OriginAddress      string              `json:"origin_address" binding:"required,max=500"`
	DestinationAddress string              `json:"destination_address" binding:"required,max=500"`
	PackageWeight      float64             `json:"package_weight" binding:"required,gt=0"`
	PackageDimensions  string              `json:"package_dimensions" binding:"max=50"`
	Items              []CreateItemRequest `json:"items" binding:"required,min=1,dive"`
}

type CreateItemRequest struct {
	ItemName string `json:"item_name" binding:"required,max=255"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
	SKU      string `json:"sku" binding:"max=100"`
}

type UpdateStatusRequest struct {
	Status Status `json:"status" binding:"required"`
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type ListResponse struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Stats counts orders per status.
type Stats map[Status]int

// createdPayload is the order.created event body.
func (o *Order) createdPayload() map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]interface{}{
			"item_name": it.ItemName,
			"quantity":  it.Quantity,
			"sku":       it.SKU,
		})
	}
	p := map[string]interface{}{
		"order_number":        o.OrderNumber,
		"customer_name":       o.CustomerName,
		"customer_email":      o.CustomerEmail,
		"items":               items,
		"origin_address":      o.OriginAddress,
		"destination_address": o.DestinationAddress,
		"package_weight":      o.PackageWeight,
	}
	if o.EstimatedDelivery != nil {
		p["estimated_delivery"] = o.EstimatedDelivery.UTC().Format(time.RFC3339)
	}
	return p
}

func (o *Order) statusChangedPayload(oldStatus, newStatus Status) map[string]interface{} {
	return map[string]interface{}{
		"order_number":   o.OrderNumber,
		"customer_name":  o.CustomerName,
		"customer_email": o.CustomerEmail,
		"old_status":     string(oldStatus),
		"new_status":     string(newStatus),
	}
}
