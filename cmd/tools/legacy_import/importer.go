package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/invoice"
	"github.com/noah-isme/resto-order-engine/internal/obs"
	"github.com/noah-isme/resto-order-engine/internal/order"
	"github.com/noah-isme/resto-order-engine/internal/reconcile"
	"github.com/noah-isme/resto-order-engine/internal/store/legacymongo"
)

// Target stores imported documents and keeps invoice counters ahead of imported numbers.
type Target interface {
	// ImportOrder reports false for ids that already exist.
	ImportOrder(ctx context.Context, rec order.Record) (bool, error)
	InvoiceConfig(ctx context.Context, tenantID string) (invoice.Config, error)
	AdvanceInvoiceCounter(ctx context.Context, tenantID string, next int64) error
}

// Stats summarises one run.
type Stats struct {
	Imported   int
	Skipped    int
	Unreadable int
	Shapes     map[string]int
	// Foreign counts imported invoice numbers that do not follow the tenant's current format.
	Foreign int
	// Counters holds, per tenant, the counter value set after the run.
	Counters map[string]int64
}

type importer struct {
	Target          Target
	DefaultCurrency string
	DefaultTenant   string
	DryRun          bool
	Logger          zerolog.Logger
	Stats           Stats

	configs map[string]invoice.Config
	highest map[string]int64
}

// legacyHeader holds the columns lifted out of a legacy document. Every field is raw so one
// oddly typed value cannot hide the others.
type legacyHeader struct {
	OrderType     json.RawMessage `json:"orderType"`
	Type          json.RawMessage `json:"type"`
	CustomerID    json.RawMessage `json:"customerId"`
	UserID        json.RawMessage `json:"userId"`
	InvoiceNumber json.RawMessage `json:"invoiceNumber"`
	InvoiceDate   json.RawMessage `json:"invoiceDate"`
}

// Import reconciles one document and, unless running dry, stores it. Documents the reconciler
// cannot read are counted and skipped rather than aborting the run.
func (imp *importer) Import(ctx context.Context, doc legacymongo.Document) error {
	if imp.Stats.Shapes == nil {
		imp.Stats.Shapes = map[string]int{}
	}
	totals, shape, err := reconcile.ReconcileJSON(doc.JSON, imp.DefaultCurrency)
	if err != nil {
		imp.Stats.Unreadable++
		obs.CountOutcome(obs.LegacyShapeTotal, "unreadable")
		imp.Logger.Warn().Err(err).Str("order_id", doc.ID).Msg("unreadable legacy order")
		return nil
	}
	imp.Stats.Shapes[shape.Name()]++
	obs.CountOutcome(obs.LegacyShapeTotal, shape.Name())

	rec, err := imp.record(doc)
	if err != nil {
		imp.Stats.Skipped++
		imp.Logger.Warn().Err(err).Str("order_id", doc.ID).Msg("legacy order skipped")
		return nil
	}
	imp.Logger.Debug().
		Str("tenant_id", rec.TenantID).
		Str("order_id", rec.ID).
		Str("shape", shape.Name()).
		Int64("grand_total_cents", totals.GrandTotalCents).
		Str("currency", totals.Currency).
		Msg("legacy order reconciled")
	if imp.DryRun || imp.Target == nil {
		return nil
	}
	created, err := imp.Target.ImportOrder(ctx, rec)
	if err != nil {
		return fmt.Errorf("import order %s: %w", rec.ID, err)
	}
	if !created {
		imp.Stats.Skipped++
		return nil
	}
	imp.Stats.Imported++
	if rec.InvoiceNumber != "" {
		return imp.trackInvoice(ctx, rec)
	}
	return nil
}

// trackInvoice remembers the highest imported sequence per tenant for numbers that follow the
// tenant's numbering format.
func (imp *importer) trackInvoice(ctx context.Context, rec order.Record) error {
	if imp.configs == nil {
		imp.configs = map[string]invoice.Config{}
		imp.highest = map[string]int64{}
	}
	cfg, ok := imp.configs[rec.TenantID]
	if !ok {
		var err error
		if cfg, err = imp.Target.InvoiceConfig(ctx, rec.TenantID); err != nil {
			return fmt.Errorf("load invoice config for %s: %w", rec.TenantID, err)
		}
		imp.configs[rec.TenantID] = cfg
	}
	n, ok := invoice.Sequence(cfg, rec.InvoiceNumber)
	if !ok {
		imp.Stats.Foreign++
		imp.Logger.Debug().Str("tenant_id", rec.TenantID).Str("invoice_number", rec.InvoiceNumber).Msg("legacy invoice number outside current format")
		return nil
	}
	if n > imp.highest[rec.TenantID] {
		imp.highest[rec.TenantID] = n
	}
	return nil
}

// Finish moves each tenant's invoice counter past the highest imported number so new
// issuance continues after the legacy sequence.
func (imp *importer) Finish(ctx context.Context) error {
	if imp.DryRun || imp.Target == nil {
		return nil
	}
	imp.Stats.Counters = map[string]int64{}
	for tenantID, n := range imp.highest {
		if err := imp.Target.AdvanceInvoiceCounter(ctx, tenantID, n+1); err != nil {
			return fmt.Errorf("advance invoice counter for %s: %w", tenantID, err)
		}
		imp.Stats.Counters[tenantID] = n + 1
		imp.Logger.Info().Str("tenant_id", tenantID).Int64("next", n+1).Msg("invoice counter advanced")
	}
	return nil
}

func (imp *importer) record(doc legacymongo.Document) (order.Record, error) {
	tenantID := doc.TenantID
	if tenantID == "" {
		tenantID = imp.DefaultTenant
	}
	if tenantID == "" {
		return order.Record{}, fmt.Errorf("no tenant for legacy order")
	}
	var h legacyHeader
	if err := json.Unmarshal(doc.JSON, &h); err != nil {
		imp.Logger.Warn().Err(err).Str("order_id", doc.ID).Msg("legacy order header unreadable")
	}
	rec := order.Record{
		ID:            doc.ID,
		TenantID:      tenantID,
		OrderType:     firstNonEmpty(textValue(h.OrderType), textValue(h.Type)),
		CustomerID:    firstNonEmpty(idValue(h.CustomerID), idValue(h.UserID)),
		Doc:           doc.JSON,
		InvoiceNumber: textValue(h.InvoiceNumber),
		CreatedAt:     doc.CreatedAt,
	}
	if rec.InvoiceNumber != "" {
		if at, ok := dateValue(h.InvoiceDate); ok {
			rec.InvoiceDate = &at
		} else {
			created := doc.CreatedAt
			rec.InvoiceDate = &created
		}
	}
	return rec, nil
}

// textValue accepts a string, a bare number or an extended JSON number wrapper such as
// {"$numberLong": "42"}.
func textValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	var wrapped map[string]json.RawMessage
	if json.Unmarshal(raw, &wrapped) == nil {
		for _, key := range []string{"$numberLong", "$numberInt", "$numberDecimal", "$numberDouble"} {
			if v, ok := wrapped[key]; ok {
				return textValue(v)
			}
		}
	}
	return ""
}

// idValue accepts a plain string or an extended JSON {"$oid": "..."}.
func idValue(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var oid struct {
		OID string `json:"$oid"`
	}
	if json.Unmarshal(raw, &oid) == nil {
		return oid.OID
	}
	return ""
}

// dateValue accepts an RFC 3339 string or an extended JSON {"$date": ...}.
func dateValue(raw json.RawMessage) (time.Time, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		t, err := time.Parse(time.RFC3339, s)
		return t.UTC(), err == nil
	}
	var wrapped struct {
		Date json.RawMessage `json:"$date"`
	}
	if json.Unmarshal(raw, &wrapped) != nil || len(wrapped.Date) == 0 {
		return time.Time{}, false
	}
	if json.Unmarshal(wrapped.Date, &s) == nil {
		t, err := time.Parse(time.RFC3339, s)
		return t.UTC(), err == nil
	}
	var ms struct {
		Long string `json:"$numberLong"`
	}
	var millis int64
	if json.Unmarshal(wrapped.Date, &millis) == nil {
		return time.UnixMilli(millis).UTC(), true
	}
	if json.Unmarshal(wrapped.Date, &ms) == nil && ms.Long != "" {
		if _, err := fmt.Sscan(ms.Long, &millis); err == nil {
			return time.UnixMilli(millis).UTC(), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
