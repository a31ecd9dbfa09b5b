package inventory

import "time"

const (
	EventLowStock = "inventory.low_stock"

	TxReserve = "reserve"
	TxRelease = "release"
	TxAdjust  = "adjust"

	defaultReorderLevel = 10
)

type Warehouse struct {
	ID            int64     `json:"id"`
	WarehouseCode string    `json:"warehouse_code"`
	Name          string    `json:"name"`
	Location      string    `json:"location"`
	Capacity      int       `json:"capacity"`
	CreatedAt     time.Time `json:"created_at"`
}

type Item struct {
	ID           int64     `json:"id"`
	WarehouseID  int64     `json:"warehouse_id"`
	SKU          string    `json:"sku"`
	ItemName     string    `json:"item_name"`
	Quantity     int       `json:"quantity"`
	Reserved     int       `json:"reserved_quantity"`
	ReorderLevel int       `json:"reorder_level"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (i Item) Available() int {
	return i.Quantity - i.Reserved
}

// LowOnStock reports whether available stock reached the reorder level.
func (i Item) LowOnStock() bool {
	return i.Available() <= i.ReorderLevel
}

type Transaction struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"inventory_item_id"`
	SKU         string    `json:"sku"`
	Type        string    `json:"transaction_type"`
	Quantity    int       `json:"quantity"`
	OrderNumber string    `json:"order_number,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ReserveOutcome string

const (
	Reserved     ReserveOutcome = "reserved"
	Insufficient ReserveOutcome = "insufficient"
	Duplicate    ReserveOutcome = "duplicate"
	// Cancelled means the order was released before it was reserved.
	Cancelled ReserveOutcome = "cancelled"
)

type ReserveResult struct {
	Outcome ReserveOutcome
	// Item is the record the quantity was taken from, after the update.
	Item *Item
}

type CreateWarehouseRequest struct {
	WarehouseCode string `json:"warehouse_code" binding:"required,max=50"`
	Name          string `json:"name" binding:"required,max=255"`
	Location      string `json:"location" binding:"required,max=255"`
	Capacity      int    `json:"capacity" binding:"required,gt=0"`
}

type CreateItemRequest struct {
	WarehouseID  int64  `json:"warehouse_id" binding:"required"`
	SKU          string `json:"sku" binding:"required,max=100"`
	ItemName     string `json:"item_name" binding:"required,max=255"`
	Quantity     int    `json:"quantity" binding:"gte=0"`
	ReorderLevel *int   `json:"reorder_level" binding:"omitempty,gte=0"`
}

type StockLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type CheckRequest struct {
	Items []StockLine `json:"items" binding:"required"`
}

type CheckDetail struct {
	SKU        string `json:"sku"`
	Required   int    `json:"required"`
	Available  int    `json:"available"`
	Sufficient bool   `json:"sufficient"`
}

type CheckResponse struct {
	Available bool          `json:"available"`
	Details   []CheckDetail `json:"details"`
}

type ReserveRequest struct {
	OrderNumber string      `json:"order_number" binding:"required"`
	Items       []StockLine `json:"items" binding:"required,min=1"`
}

type AdjustRequest struct {
	SKU           string `json:"sku" binding:"required"`
	WarehouseCode string `json:"warehouse_code" binding:"required"`
	Quantity      int    `json:"quantity" binding:"required"`
	Notes         string `json:"notes"`
}

// orderEvent covers order.created, order.status_changed and order.cancelled.
type orderEvent struct {
	OrderNumber string      `json:"order_number"`
	NewStatus   string      `json:"new_status"`
	Items       []StockLine `json:"items"`
}
