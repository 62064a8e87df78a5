package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/resto-order-engine/internal/events"
	"github.com/noah-isme/resto-order-engine/internal/order"
)

// ErrDuplicateOrder is returned when an order id is already taken within the tenant.
var ErrDuplicateOrder = errors.New("postgres: order already exists")

const orderColumns = `id, tenant_id, order_type, customer_id, source, doc, invoice_number, invoice_date, created_at`

// CreateOrder inserts the order document and its outbox events in one transaction.
func (s *Store) CreateOrder(ctx context.Context, rec order.Record, outbox ...events.Event) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := insertOrder(ctx, tx, rec); err != nil {
			return err
		}
		return insertEvents(ctx, tx, outbox...)
	})
}

func insertOrder(ctx context.Context, q querier, rec order.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	source := rec.Source
	if source == "" {
		source = order.SourceCheckout
	}
	_, err := q.Exec(ctx, `
		INSERT INTO orders (tenant_id, id, order_type, customer_id, source, doc, invoice_number, invoice_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		rec.TenantID, rec.ID, rec.OrderType, rec.CustomerID, source, []byte(rec.Doc), rec.InvoiceNumber, rec.InvoiceDate, createdAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, rec.ID)
	}
	return err
}

// ImportOrder stores a legacy document verbatim. It reports false when the id already exists.
func (s *Store) ImportOrder(ctx context.Context, rec order.Record) (bool, error) {
	rec.Source = order.SourceLegacy
	err := insertOrder(ctx, s.Pool, rec)
	if errors.Is(err, ErrDuplicateOrder) {
		return false, nil
	}
	return err == nil, err
}

// GetOrder loads one order.
func (s *Store) GetOrder(ctx context.Context, tenantID, id string) (order.Record, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	rec, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Record{}, order.ErrNotFound
	}
	return rec, err
}

// ListOrders returns orders newest first with the total matching count. A zero Limit returns all.
func (s *Store) ListOrders(ctx context.Context, tenantID string, f order.ListFilter) ([]order.Record, int64, error) {
	from, to := optionalTime(f.From), optionalTime(f.To)
	const where = `WHERE tenant_id = $1
		AND ($2::timestamptz IS NULL OR created_at >= $2)
		AND ($3::timestamptz IS NULL OR created_at <= $3)`
	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM orders `+where, tenantID, from, to).Scan(&total); err != nil {
		return nil, 0, err
	}
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+`
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`, tenantID, from, to, limit, max(f.Offset, 0))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []order.Record
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func scanOrder(row pgx.Row) (order.Record, error) {
	var rec order.Record
	var doc []byte
	var number *string
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.OrderType, &rec.CustomerID, &rec.Source, &doc, &number, &rec.InvoiceDate, &rec.CreatedAt); err != nil {
		return order.Record{}, err
	}
	rec.Doc = doc
	if number != nil {
		rec.InvoiceNumber = *number
	}
	return rec, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
