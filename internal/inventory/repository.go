package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pkgerrors "logistics/pkg/errors"
)

type Repository interface {
	CreateWarehouse(ctx context.Context, w *Warehouse) error
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	CreateItem(ctx context.Context, item *Item) error
	// ListItems returns every item, or the items of one warehouse when
	// warehouseID is positive.
	ListItems(ctx context.Context, warehouseID int64) ([]Item, error)
	ItemsBySKU(ctx context.Context, sku string) ([]Item, error)
	LowStock(ctx context.Context) ([]Item, error)

	// Reserve takes quantity of sku for the order from the first record with
	// enough available stock. A second reservation of the same (order, sku)
	// reports Duplicate and changes nothing. An order that was already
	// released reports Cancelled.
	Reserve(ctx context.Context, orderNumber, sku string, quantity int) (ReserveResult, error)
	// Release returns every outstanding reservation of the order and records
	// one release transaction per item. The order is remembered as cancelled
	// even when nothing was reserved yet.
	Release(ctx context.Context, orderNumber string) ([]Transaction, error)
	Adjust(ctx context.Context, sku, warehouseCode string, delta int, notes string) (*Item, error)
	Transactions(ctx context.Context, orderNumber string) ([]Transaction, error)
}

type MemoryRepository struct {
	mu         sync.Mutex
	warehouses []Warehouse
	items      []*Item
	txs        []Transaction
	cancelled  map[string]time.Time
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{cancelled: make(map[string]time.Time), now: time.Now}
}

func (r *MemoryRepository) CreateWarehouse(ctx context.Context, w *Warehouse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.warehouses {
		if existing.WarehouseCode == w.WarehouseCode {
			return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("warehouse '%s' already exists", w.WarehouseCode))
		}
	}
	w.ID = int64(len(r.warehouses) + 1)
	w.CreatedAt = r.now().UTC()
	r.warehouses = append(r.warehouses, *w)
	return nil
}

func (r *MemoryRepository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Warehouse{}, r.warehouses...), nil
}

func (r *MemoryRepository) CreateItem(ctx context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.WarehouseID < 1 || int(item.WarehouseID) > len(r.warehouses) {
		return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("warehouse %d not found", item.WarehouseID))
	}
	for _, existing := range r.items {
		if existing.WarehouseID == item.WarehouseID && existing.SKU == item.SKU {
			return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("sku '%s' already stocked in warehouse %d", item.SKU, item.WarehouseID))
		}
	}
	item.ID = int64(len(r.items) + 1)
	item.UpdatedAt = r.now().UTC()
	stored := *item
	r.items = append(r.items, &stored)
	return nil
}

func (r *MemoryRepository) ListItems(ctx context.Context, warehouseID int64) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Item{}
	for _, it := range r.items {
		if warehouseID > 0 && it.WarehouseID != warehouseID {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

func (r *MemoryRepository) ItemsBySKU(ctx context.Context, sku string) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Item{}
	for _, it := range r.items {
		if it.SKU == sku {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *MemoryRepository) LowStock(ctx context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Item{}
	for _, it := range r.items {
		if it.LowOnStock() {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *MemoryRepository) appendTx(item *Item, typ string, quantity int, orderNumber, notes string) {
	r.txs = append(r.txs, Transaction{
		ID:          int64(len(r.txs) + 1),
		ItemID:      item.ID,
		SKU:         item.SKU,
		Type:        typ,
		Quantity:    quantity,
		OrderNumber: orderNumber,
		Notes:       notes,
		CreatedAt:   r.now().UTC(),
	})
}

func (r *MemoryRepository) Reserve(ctx context.Context, orderNumber, sku string, quantity int) (ReserveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cancelled[orderNumber]; ok {
		return ReserveResult{Outcome: Cancelled}, nil
	}
	for _, tx := range r.txs {
		if tx.Type == TxReserve && tx.OrderNumber == orderNumber && tx.SKU == sku {
			return ReserveResult{Outcome: Duplicate}, nil
		}
	}

	for _, it := range r.items {
		if it.SKU != sku || it.Available() < quantity {
			continue
		}
		it.Reserved += quantity
		it.UpdatedAt = r.now().UTC()
		r.appendTx(it, TxReserve, quantity, orderNumber, fmt.Sprintf("Reserved for order %s", orderNumber))
		item := *it
		return ReserveResult{Outcome: Reserved, Item: &item}, nil
	}
	return ReserveResult{Outcome: Insufficient}, nil
}

func (r *MemoryRepository) Release(ctx context.Context, orderNumber string) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cancelled[orderNumber]; !ok {
		r.cancelled[orderNumber] = r.now().UTC()
	}

	outstanding := map[int64]int{}
	for _, tx := range r.txs {
		if tx.OrderNumber != orderNumber {
			continue
		}
		switch tx.Type {
		case TxReserve:
			outstanding[tx.ItemID] += tx.Quantity
		case TxRelease:
			outstanding[tx.ItemID] -= tx.Quantity
		}
	}

	ids := make([]int64, 0, len(outstanding))
	for id, n := range outstanding {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	released := []Transaction{}
	for _, id := range ids {
		it := r.items[id-1]
		n := outstanding[id]
		it.Reserved -= n
		if it.Reserved < 0 {
			it.Reserved = 0
		}
		it.UpdatedAt = r.now().UTC()
		r.appendTx(it, TxRelease, n, orderNumber, fmt.Sprintf("Released from cancelled order %s", orderNumber))
		released = append(released, r.txs[len(r.txs)-1])
	}
	return released, nil
}

func (r *MemoryRepository) Adjust(ctx context.Context, sku, warehouseCode string, delta int, notes string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var warehouseID int64
	for _, w := range r.warehouses {
		if w.WarehouseCode == warehouseCode {
			warehouseID = w.ID
		}
	}
	if warehouseID == 0 {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("warehouse '%s' not found", warehouseCode))
	}

	for _, it := range r.items {
		if it.WarehouseID != warehouseID || it.SKU != sku {
			continue
		}
		it.Quantity += delta
		if it.Quantity < 0 {
			it.Quantity = 0
		}
		it.UpdatedAt = r.now().UTC()
		r.appendTx(it, TxAdjust, delta, "", notes)
		item := *it
		return &item, nil
	}
	return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("sku '%s' not found in warehouse '%s'", sku, warehouseCode))
}

func (r *MemoryRepository) Transactions(ctx context.Context, orderNumber string) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []Transaction{}
	for _, tx := range r.txs {
		if orderNumber == "" || tx.OrderNumber == orderNumber {
			out = append(out, tx)
		}
	}
	return out, nil
}
