package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"logistics/internal/constants"
	pkgerrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(constants.ServiceInventory, constants.StoreTypePostgres, operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceInventory, constants.StoreTypePostgres, operation, time.Since(start))
}

func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *PostgresRepository) CreateWarehouse(ctx context.Context, w *Warehouse) (err error) {
	defer observe("create_warehouse", time.Now(), &err)

	w.CreatedAt = time.Now().UTC()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO warehouses (warehouse_code, name, location, capacity, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, w.WarehouseCode, w.Name, w.Location, w.Capacity, w.CreatedAt).Scan(&w.ID)
	if isUniqueViolation(err) {
		return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("warehouse '%s' already exists", w.WarehouseCode))
	}
	if err != nil {
		return fmt.Errorf("failed to insert warehouse: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListWarehouses(ctx context.Context) (out []Warehouse, err error) {
	defer observe("list_warehouses", time.Now(), &err)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, warehouse_code, name, location, capacity, created_at FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouses: %w", err)
	}
	defer rows.Close()

	out = []Warehouse{}
	for rows.Next() {
		var w Warehouse
		if err = rows.Scan(&w.ID, &w.WarehouseCode, &w.Name, &w.Location, &w.Capacity, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateItem(ctx context.Context, item *Item) (err error) {
	defer observe("create_item", time.Now(), &err)

	item.UpdatedAt = time.Now().UTC()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO inventory_items (warehouse_id, sku, item_name, quantity, reserved_quantity, reorder_level, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING id
	`, item.WarehouseID, item.SKU, item.ItemName, item.Quantity, item.ReorderLevel, item.UpdatedAt).Scan(&item.ID)
	if isUniqueViolation(err) {
		return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("sku '%s' already stocked in warehouse %d", item.SKU, item.WarehouseID))
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return pkgerrors.ErrNotFound.WithCause(err).WithDetail("message", fmt.Sprintf("warehouse %d not found", item.WarehouseID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert inventory item: %w", err)
	}
	return nil
}

const itemColumns = `id, warehouse_id, sku, item_name, quantity, reserved_quantity, reorder_level, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.WarehouseID, &it.SKU, &it.ItemName,
		&it.Quantity, &it.Reserved, &it.ReorderLevel, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *PostgresRepository) queryItems(ctx context.Context, query string, args ...interface{}) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory items: %w", err)
	}
	defer rows.Close()

	out := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListItems(ctx context.Context, warehouseID int64) (out []Item, err error) {
	defer observe("list_items", time.Now(), &err)
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM inventory_items
		WHERE ($1 = 0 OR warehouse_id = $1) ORDER BY id`, warehouseID)
}

func (r *PostgresRepository) ItemsBySKU(ctx context.Context, sku string) (out []Item, err error) {
	defer observe("items_by_sku", time.Now(), &err)
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE sku = $1 ORDER BY id`, sku)
}

func (r *PostgresRepository) LowStock(ctx context.Context) (out []Item, err error) {
	defer observe("low_stock", time.Now(), &err)
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM inventory_items
		WHERE quantity - reserved_quantity <= reorder_level ORDER BY id`)
}

// lockOrder serialises concurrent deliveries touching the same order.
func lockOrder(ctx context.Context, tx *sql.Tx, orderNumber string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderNumber); err != nil {
		return fmt.Errorf("failed to lock order %s: %w", orderNumber, err)
	}
	return nil
}

func insertTx(ctx context.Context, tx *sql.Tx, t *Transaction) error {
	t.CreatedAt = time.Now().UTC()
	err := tx.QueryRowContext(ctx, `
		INSERT INTO inventory_transactions (inventory_item_id, transaction_type, quantity, order_number, notes, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING id
	`, t.ItemID, t.Type, t.Quantity, t.OrderNumber, t.Notes, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to record %s transaction: %w", t.Type, err)
	}
	return nil
}

func (r *PostgresRepository) Reserve(ctx context.Context, orderNumber, sku string, quantity int) (res ReserveResult, err error) {
	defer observe("reserve", time.Now(), &err)

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockOrder(ctx, tx, orderNumber); err != nil {
			return err
		}

		var cancelled bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cancelled_orders WHERE order_number = $1)`,
			orderNumber).Scan(&cancelled); err != nil {
			return fmt.Errorf("failed to check cancellation: %w", err)
		}
		if cancelled {
			res = ReserveResult{Outcome: Cancelled}
			return nil
		}

		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM inventory_transactions t
				JOIN inventory_items i ON i.id = t.inventory_item_id
				WHERE t.order_number = $1 AND i.sku = $2 AND t.transaction_type = 'reserve'
			)`, orderNumber, sku).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check existing reservation: %w", err)
		}
		if exists {
			res = ReserveResult{Outcome: Duplicate}
			return nil
		}

		item, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items
			WHERE sku = $1 AND quantity - reserved_quantity >= $2
			ORDER BY id LIMIT 1 FOR UPDATE`, sku, quantity))
		if errors.Is(err, sql.ErrNoRows) {
			res = ReserveResult{Outcome: Insufficient}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock inventory item: %w", err)
		}

		item, err = scanItem(tx.QueryRowContext(ctx, `UPDATE inventory_items
			SET reserved_quantity = reserved_quantity + $2, updated_at = $3
			WHERE id = $1
			RETURNING `+itemColumns, item.ID, quantity, time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("failed to reserve stock: %w", err)
		}

		if err := insertTx(ctx, tx, &Transaction{
			ItemID:      item.ID,
			SKU:         sku,
			Type:        TxReserve,
			Quantity:    quantity,
			OrderNumber: orderNumber,
			Notes:       fmt.Sprintf("Reserved for order %s", orderNumber),
		}); err != nil {
			return err
		}
		res = ReserveResult{Outcome: Reserved, Item: item}
		return nil
	})
	return res, err
}

func (r *PostgresRepository) Release(ctx context.Context, orderNumber string) (released []Transaction, err error) {
	defer observe("release", time.Now(), &err)

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockOrder(ctx, tx, orderNumber); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO cancelled_orders (order_number, cancelled_at)
			VALUES ($1, $2) ON CONFLICT (order_number) DO NOTHING`, orderNumber, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to mark order cancelled: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT t.inventory_item_id, i.sku,
				SUM(CASE t.transaction_type WHEN 'reserve' THEN t.quantity ELSE -t.quantity END)
			FROM inventory_transactions t
			JOIN inventory_items i ON i.id = t.inventory_item_id
			WHERE t.order_number = $1 AND t.transaction_type IN ('reserve', 'release')
			GROUP BY t.inventory_item_id, i.sku
			HAVING SUM(CASE t.transaction_type WHEN 'reserve' THEN t.quantity ELSE -t.quantity END) > 0
			ORDER BY t.inventory_item_id
		`, orderNumber)
		if err != nil {
			return fmt.Errorf("failed to load reservations: %w", err)
		}
		var pending []Transaction
		for rows.Next() {
			t := Transaction{Type: TxRelease, OrderNumber: orderNumber,
				Notes: fmt.Sprintf("Released from cancelled order %s", orderNumber)}
			if err := rows.Scan(&t.ItemID, &t.SKU, &t.Quantity); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan reservation: %w", err)
			}
			pending = append(pending, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range pending {
			t := &pending[i]
			if _, err := tx.ExecContext(ctx, `UPDATE inventory_items
				SET reserved_quantity = GREATEST(reserved_quantity - $2, 0), updated_at = $3
				WHERE id = $1`, t.ItemID, t.Quantity, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to release stock: %w", err)
			}
			if err := insertTx(ctx, tx, t); err != nil {
				return err
			}
		}
		released = pending
		return nil
	})
	if released == nil && err == nil {
		released = []Transaction{}
	}
	return released, err
}

func (r *PostgresRepository) Adjust(ctx context.Context, sku, warehouseCode string, delta int, notes string) (item *Item, err error) {
	defer observe("adjust", time.Now(), &err)

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var scanErr error
		item, scanErr = scanItem(tx.QueryRowContext(ctx, `UPDATE inventory_items i
			SET quantity = GREATEST(i.quantity + $3, 0), updated_at = $4
			FROM warehouses w
			WHERE w.id = i.warehouse_id AND i.sku = $1 AND w.warehouse_code = $2
			RETURNING i.id, i.warehouse_id, i.sku, i.item_name, i.quantity, i.reserved_quantity, i.reorder_level, i.updated_at`,
			sku, warehouseCode, delta, time.Now().UTC()))
		if errors.Is(scanErr, sql.ErrNoRows) {
			return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("sku '%s' not found in warehouse '%s'", sku, warehouseCode))
		}
		if scanErr != nil {
			return fmt.Errorf("failed to adjust stock: %w", scanErr)
		}
		return insertTx(ctx, tx, &Transaction{ItemID: item.ID, SKU: sku, Type: TxAdjust, Quantity: delta, Notes: notes})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *PostgresRepository) Transactions(ctx context.Context, orderNumber string) (out []Transaction, err error) {
	defer observe("list_transactions", time.Now(), &err)

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.inventory_item_id, i.sku, t.transaction_type, t.quantity,
			COALESCE(t.order_number, ''), COALESCE(t.notes, ''), t.created_at
		FROM inventory_transactions t
		JOIN inventory_items i ON i.id = t.inventory_item_id
		WHERE ($1 = '' OR t.order_number = $1)
		ORDER BY t.id
	`, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out = []Transaction{}
	for rows.Next() {
		var t Transaction
		if err = rows.Scan(&t.ID, &t.ItemID, &t.SKU, &t.Type, &t.Quantity, &t.OrderNumber, &t.Notes, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
