package tracking

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
	metrics.IncDatabaseQuery(constants.ServiceTracking, constants.StoreTypePostgres, operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceTracking, constants.StoreTypePostgres, operation, time.Since(start))
}

const shipmentColumns = `id, tracking_number, order_number, carrier, COALESCE(current_location, ''), status,
	COALESCE(customer_name, ''), COALESCE(customer_email, ''), estimated_delivery, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanShipment(row scanner) (*Shipment, error) {
	var s Shipment
	var status string
	var eta sql.NullTime
	if err := row.Scan(&s.ID, &s.TrackingNumber, &s.OrderNumber, &s.Carrier, &s.CurrentLocation, &status,
		&s.CustomerName, &s.CustomerEmail, &eta, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	if eta.Valid {
		t := eta.Time
		s.EstimatedDelivery = &t
	}
	s.Events = []Event{}
	return &s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *Shipment) (err error) {
	defer observe("create_shipment", time.Now(), &err)

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO shipments (tracking_number, order_number, carrier, current_location, status,
			customer_name, customer_email, estimated_delivery, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
		RETURNING id
	`, s.TrackingNumber, s.OrderNumber, s.Carrier, s.CurrentLocation, string(s.Status),
		s.CustomerName, s.CustomerEmail, s.EstimatedDelivery, s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return duplicateOrder(s.OrderNumber).WithCause(err)
		}
		return fmt.Errorf("failed to insert shipment: %w", err)
	}
	if s.Events == nil {
		s.Events = []Event{}
	}
	return nil
}

func (r *PostgresRepository) loadEvents(ctx context.Context, s *Shipment) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, shipment_id, location, event_type, description, timestamp
		FROM tracking_events
		WHERE shipment_id = $1
		ORDER BY timestamp DESC, id DESC
	`, s.ID)
	if err != nil {
		return fmt.Errorf("failed to load tracking events: %w", err)
	}
	defer rows.Close()

	s.Events = []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.Location, &e.EventType, &e.Description, &e.Timestamp); err != nil {
			return fmt.Errorf("failed to scan tracking event: %w", err)
		}
		s.Events = append(s.Events, e)
	}
	return rows.Err()
}

func (r *PostgresRepository) getBy(ctx context.Context, column, value string) (*Shipment, error) {
	s, err := scanShipment(r.db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE `+column+` = $1`, value))
	if err != nil {
		return nil, err
	}
	if err := r.loadEvents(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (s *Shipment, err error) {
	defer observe("get_shipment", time.Now(), &err)

	s, err = r.getBy(ctx, "tracking_number", trackingNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(trackingNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (s *Shipment, err error) {
	defer observe("get_shipment_by_order", time.Now(), &err)

	s, err = r.getBy(ctx, "order_number", orderNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("no shipment for order '%s'", orderNumber))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) (out []Shipment, total int, err error) {
	defer observe("list_shipments", time.Now(), &err)

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}

	if err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shipments WHERE ($1 = '' OR status = $1)`, string(filter.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count shipments: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+shipmentColumns+`
		FROM shipments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list shipments: %w", err)
	}
	defer rows.Close()

	out = []Shipment{}
	for rows.Next() {
		s, scanErr := scanShipment(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan shipment: %w", scanErr)
			return nil, 0, err
		}
		out = append(out, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if err = r.loadEvents(ctx, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (r *PostgresRepository) AddEvent(ctx context.Context, trackingNumber string, e *Event) (s *Shipment, err error) {
	defer observe("add_tracking_event", time.Now(), &err)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	s, err = scanShipment(tx.QueryRowContext(ctx, `
		UPDATE shipments SET current_location = $2, updated_at = $3
		WHERE tracking_number = $1
		RETURNING `+shipmentColumns, trackingNumber, e.Location, e.Timestamp))
	if errors.Is(err, sql.ErrNoRows) {
		err = notFound(trackingNumber)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to move shipment: %w", err)
	}

	e.ShipmentID = s.ID
	if err = tx.QueryRowContext(ctx, `
		INSERT INTO tracking_events (shipment_id, location, event_type, description, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.ShipmentID, e.Location, e.EventType, e.Description, e.Timestamp).Scan(&e.ID); err != nil {
		return nil, fmt.Errorf("failed to insert tracking event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tracking event: %w", err)
	}
	if err = r.loadEvents(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, trackingNumber string, status Status, location string) (s *Shipment, old Status, err error) {
	defer observe("update_shipment_status", time.Now(), &err)

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
		`SELECT status FROM shipments WHERE tracking_number = $1 FOR UPDATE`, trackingNumber).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		err = notFound(trackingNumber)
		return nil, "", err
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to lock shipment: %w", err)
	}

	s, err = scanShipment(tx.QueryRowContext(ctx, `
		UPDATE shipments
		SET status = $2, current_location = COALESCE(NULLIF($3, ''), current_location), updated_at = $4
		WHERE tracking_number = $1
		RETURNING `+shipmentColumns, trackingNumber, string(status), location, time.Now().UTC()))
	if err != nil {
		return nil, "", fmt.Errorf("failed to update shipment status: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit status update: %w", err)
	}
	if err = r.loadEvents(ctx, s); err != nil {
		return nil, "", err
	}
	return s, Status(prev), nil
}

func (r *PostgresRepository) Stats(ctx context.Context) (stats Stats, err error) {
	defer observe("shipment_stats", time.Now(), &err)

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM shipments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count shipments by status: %w", err)
	}
	defer rows.Close()

	stats = Stats{}
	for rows.Next() {
		var status string
		var n int
		if err = rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan shipment stats: %w", err)
		}
		stats[Status(status)] = n
	}
	return stats, rows.Err()
}
