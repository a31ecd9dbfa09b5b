package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"logistics/internal/constants"
	pkgerrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
)

type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByNumber(ctx context.Context, orderNumber string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
	// UpdateStatus stores the new status and returns the previous one.
	UpdateStatus(ctx context.Context, orderNumber string, status Status) (*Order, Status, error)
	Stats(ctx context.Context) (Stats, error)
}

func notFound(orderNumber string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("order '%s' not found", orderNumber))
}

type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	orders map[string]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*Order)}
}

func (r *MemoryRepository) Create(ctx context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.OrderNumber]; ok {
		return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("order '%s' already exists", order.OrderNumber))
	}
	r.nextID++
	order.ID = r.nextID
	for i := range order.Items {
		order.Items[i].ID = int64(i + 1)
	}
	stored := cloneOrder(order)
	r.orders[order.OrderNumber] = stored
	return nil
}

func (r *MemoryRepository) GetByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[orderNumber]
	if !ok {
		return nil, notFound(orderNumber)
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Order
	for _, o := range r.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, *cloneOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if filter.Offset >= total {
		return []Order{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, orderNumber string, status Status) (*Order, Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderNumber]
	if !ok {
		return nil, "", notFound(orderNumber)
	}
	old := o.Status
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), old, nil
}

func (r *MemoryRepository) Stats(ctx context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{}
	for _, o := range r.orders {
		stats[o.Status]++
	}
	return stats, nil
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return &c
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func observe(operation string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(constants.ServiceOrder, constants.StoreTypePostgres, operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceOrder, constants.StoreTypePostgres, operation, time.Since(start))
}

func (r *PostgresRepository) Create(ctx context.Context, order *Order) (err error) {
	defer observe("create_order", time.Now(), &err)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (order_number, customer_name, customer_email, origin_address,
			destination_address, package_weight, package_dimensions, status,
			created_at, updated_at, estimated_delivery)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		order.OrderNumber, order.CustomerName, order.CustomerEmail, order.OriginAddress,
		order.DestinationAddress, order.PackageWeight, order.PackageDimensions, string(order.Status),
		order.CreatedAt, order.UpdatedAt, order.EstimatedDelivery,
	).Scan(&order.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("order '%s' already exists", order.OrderNumber))
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		it := &order.Items[i]
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, item_name, quantity, sku, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5)
			RETURNING id
		`, order.ID, it.ItemName, it.Quantity, it.SKU, order.CreatedAt).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

const orderColumns = `id, order_number, customer_name, customer_email, origin_address,
	destination_address, package_weight, COALESCE(package_dimensions, ''), status,
	created_at, updated_at, estimated_delivery`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*Order, error) {
	var o Order
	var status string
	var eta sql.NullTime
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerName, &o.CustomerEmail, &o.OriginAddress,
		&o.DestinationAddress, &o.PackageWeight, &o.PackageDimensions, &status,
		&o.CreatedAt, &o.UpdatedAt, &eta,
	); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if eta.Valid {
		t := eta.Time
		o.EstimatedDelivery = &t
	}
	return &o, nil
}

func (r *PostgresRepository) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_name, quantity, COALESCE(sku, '')
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	o.Items = o.Items[:0]
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ItemName, &it.Quantity, &it.SKU); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *PostgresRepository) GetByNumber(ctx context.Context, orderNumber string) (o *Order, err error) {
	defer observe("get_order", time.Now(), &err)

	o, err = scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(orderNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if err = r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) (out []Order, total int, err error) {
	defer observe("list_orders", time.Now(), &err)

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}

	if err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`, string(filter.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan order: %w", scanErr)
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range out {
		if err = r.loadItems(ctx, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, orderNumber string, status Status) (o *Order, old Status, err error) {
	defer observe("update_order_status", time.Now(), &err)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var prev string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE order_number = $1 FOR UPDATE`, orderNumber).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		err = notFound(orderNumber)
		return nil, "", err
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to lock order: %w", err)
	}

	o, err = scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE order_number = $1
		RETURNING `+orderColumns, orderNumber, string(status), time.Now().UTC()))
	if err != nil {
		return nil, "", fmt.Errorf("failed to update order status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit status update: %w", err)
	}
	if err = r.loadItems(ctx, o); err != nil {
		return nil, "", err
	}
	return o, Status(prev), nil
}

func (r *PostgresRepository) Stats(ctx context.Context) (stats Stats, err error) {
	defer observe("order_stats", time.Now(), &err)

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders by status: %w", err)
	}
	defer rows.Close()

	stats = Stats{}
	for rows.Next() {
		var status string
		var n int
		if err = rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan order stats: %w", err)
		}
		stats[Status(status)] = n
	}
	return stats, rows.Err()
}
