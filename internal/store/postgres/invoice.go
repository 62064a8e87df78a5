package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/resto-order-engine/internal/events"
	"github.com/noah-isme/resto-order-engine/internal/invoice"
)

// RunInTx runs fn in a repeatable-read transaction. Serialization failures, lost conditional
// writes and numbers committed concurrently by another transaction surface as invoice.ErrConflict
// so the issuer retries. Numbers already visible in the snapshot are reported by SetOrderInvoice.
func (s *Store) RunInTx(ctx context.Context, tenantID string, fn func(context.Context, invoice.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		return fn(ctx, &invoiceTx{tx: tx, tenantID: tenantID})
	})
	if err != nil && !errors.Is(err, invoice.ErrConflict) && isConflict(err) {
		return fmt.Errorf("%w: %v", invoice.ErrConflict, err)
	}
	return err
}

type invoiceTx struct {
	tx       pgx.Tx
	tenantID string
}

func (t *invoiceTx) GetOrderInvoice(ctx context.Context, orderID string) (string, time.Time, error) {
	var number *string
	var date *time.Time
	err := t.tx.QueryRow(ctx, `SELECT invoice_number, invoice_date FROM orders WHERE tenant_id = $1 AND id = $2`,
		t.tenantID, orderID).Scan(&number, &date)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, invoice.ErrOrderNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if number == nil {
		return "", time.Time{}, nil
	}
	var at time.Time
	if date != nil {
		at = date.UTC()
	}
	return *number, at, nil
}

func (t *invoiceTx) GetCounter(ctx context.Context) (int64, bool, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `SELECT next FROM invoice_counters WHERE tenant_id = $1`, t.tenantID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return next, true, nil
}

func (t *invoiceTx) PutCounter(ctx context.Context, expected int64, exists bool, next int64) error {
	var sql string
	var args []any
	if exists {
		sql = `UPDATE invoice_counters SET next = $3, updated_at = now() WHERE tenant_id = $1 AND next = $2`
		args = []any{t.tenantID, expected, next}
	} else {
		sql = `INSERT INTO invoice_counters (tenant_id, next) VALUES ($1, $2) ON CONFLICT (tenant_id) DO NOTHING`
		args = []any{t.tenantID, next}
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return invoice.ErrConflict
	}
	return nil
}

func (t *invoiceTx) SetOrderInvoice(ctx context.Context, orderID, number string, date time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET invoice_number = $3, invoice_date = $4
		WHERE tenant_id = $1 AND id = $2 AND invoice_number IS NULL
		  AND NOT EXISTS (SELECT 1 FROM orders WHERE tenant_id = $1 AND invoice_number = $3)`,
		t.tenantID, orderID, number, date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		var taken bool
		err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE tenant_id = $1 AND invoice_number = $2)`,
			t.tenantID, number).Scan(&taken)
		if err != nil {
			return err
		}
		if taken {
			return invoice.ErrNumberTaken
		}
		return invoice.ErrConflict
	}
	ev, err := events.New(t.tenantID, events.TopicInvoiceIssued, orderID, map[string]any{
		"orderId":       orderID,
		"invoiceNumber": number,
		"invoiceDate":   date,
	})
	if err != nil {
		return err
	}
	return insertEvents(ctx, t.tx, ev)
}

// InvoiceConfig loads the tenant's numbering configuration. Tenants without settings have
// numbering disabled.
func (s *Store) InvoiceConfig(ctx context.Context, tenantID string) (invoice.Config, error) {
	var raw []byte
	err := s.Pool.QueryRow(ctx, `SELECT invoice_config FROM tenant_settings WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return invoice.Config{}, nil
	}
	if err != nil {
		return invoice.Config{}, err
	}
	var cfg invoice.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return invoice.Config{}, fmt.Errorf("decode invoice config: %w", err)
	}
	return cfg, nil
}

// PutInvoiceConfig replaces the tenant's numbering configuration.
func (s *Store) PutInvoiceConfig(ctx context.Context, tenantID string, cfg invoice.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, invoice_config) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET invoice_config = EXCLUDED.invoice_config, updated_at = now()`,
		tenantID, raw)
	return err
}

// AdvanceInvoiceCounter moves the tenant's counter to at least next. It never moves it back.
func (s *Store) AdvanceInvoiceCounter(ctx context.Context, tenantID string, next int64) error {
	if next < 1 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO invoice_counters (tenant_id, next) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET next = GREATEST(invoice_counters.next, EXCLUDED.next), updated_at = now()`,
		tenantID, next)
	return err
}
