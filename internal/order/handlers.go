package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/invoice"
	"github.com/noah-isme/resto-order-engine/internal/reconcile"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// InvoiceEnsurer assigns invoice numbers on first print.
type InvoiceEnsurer interface {
	Ensure(ctx context.Context, tenantID, orderID string) (*invoice.Issued, error)
}

// Handler serves persisted orders. Figures always come from the stored document.
type Handler struct {
	Store           Store
	Invoices        InvoiceEnsurer
	DefaultCurrency string
	Logger          *zerolog.Logger
}

// View is an order as returned by the API.
type View struct {
	ID            string                `json:"id"`
	Source        string                `json:"source"`
	Shape         string                `json:"shape"`
	Totals        reconcile.OrderTotals `json:"totals"`
	InvoiceNumber string                `json:"invoiceNumber,omitempty"`
	InvoiceDate   *time.Time            `json:"invoiceDate,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	Document      json.RawMessage       `json:"document,omitempty"`
}

// Receipt is the printable projection of an order.
type Receipt struct {
	ID            string                `json:"id"`
	Currency      string                `json:"currency"`
	Items         json.RawMessage       `json:"items"`
	TaxSnapshot   json.RawMessage       `json:"taxSnapshot"`
	Totals        reconcile.OrderTotals `json:"totals"`
	InvoiceNumber string                `json:"invoiceNumber,omitempty"`
	InvoiceDate   *time.Time            `json:"invoiceDate,omitempty"`
	InvoiceError  bool                  `json:"invoiceError,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// ToView reconciles a stored record. withDoc includes the verbatim document.
func ToView(rec Record, defaultCurrency string, withDoc bool) View {
	v := View{
		ID:            rec.ID,
		Source:        rec.Source,
		InvoiceNumber: rec.InvoiceNumber,
		InvoiceDate:   rec.InvoiceDate,
		CreatedAt:     rec.CreatedAt,
	}
	totals, shape, err := reconcile.ReconcileJSON(rec.Doc, defaultCurrency)
	if err != nil {
		v.Shape = "unreadable"
		v.Totals = reconcile.OrderTotals{Currency: defaultCurrency}
	} else {
		v.Shape = shape.Name()
		v.Totals = totals
	}
	if withDoc {
		v.Document = rec.Doc
	}
	return v
}

// Get returns the stored document together with its reconciled totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := h.load(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ToView(rec, h.DefaultCurrency, true)})
}

// Receipt ensures the invoice number and renders the frozen snapshot. Numbering failures are
// soft: the receipt is returned without a number and flagged.
func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	tenantID, rec, ok := h.load(w, r)
	if !ok {
		return
	}
	var stored struct {
		Currency    string          `json:"currency"`
		Items       json.RawMessage `json:"items"`
		TaxSnapshot json.RawMessage `json:"taxSnapshot"`
	}
	_ = json.Unmarshal(rec.Doc, &stored)
	view := ToView(rec, h.DefaultCurrency, false)
	out := Receipt{
		ID:            rec.ID,
		Currency:      view.Totals.Currency,
		Items:         orNull(stored.Items),
		TaxSnapshot:   orNull(stored.TaxSnapshot),
		Totals:        view.Totals,
		InvoiceNumber: rec.InvoiceNumber,
		InvoiceDate:   rec.InvoiceDate,
		CreatedAt:     rec.CreatedAt,
	}
	if out.InvoiceNumber == "" && h.Invoices != nil {
		issued, err := h.Invoices.Ensure(r.Context(), tenantID, rec.ID)
		switch {
		case err != nil:
			out.InvoiceError = true
			h.logger().Warn().Err(err).Str("tenant_id", tenantID).Str("order_id", rec.ID).Msg("receipt rendered without invoice number")
		case issued != nil:
			out.InvoiceNumber = issued.Number
			date := issued.Date
			out.InvoiceDate = &date
		}
	}
	common.Data(w, http.StatusOK, out)
}

// List returns reconciled order summaries, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return
	}
	from, to, err := ParseRange(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	page := common.ParsePage(r, 20, 100)
	records, total, err := h.Store.ListOrders(r.Context(), tenantID, ListFilter{From: from, To: to, Limit: page.PerPage, Offset: page.Offset()})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	views := make([]View, 0, len(records))
	for _, rec := range records {
		views = append(views, ToView(rec, h.DefaultCurrency, false))
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": page.Meta(total),
	})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (string, Record, bool) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return "", Record{}, false
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return "", Record{}, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	rec, err := h.Store.GetOrder(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return "", Record{}, false
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return "", Record{}, false
	}
	return tenantID, rec, true
}

// ParseRange reads the optional from/to query parameters as RFC 3339 timestamps or dates.
// A bare `to` date covers that whole day.
func ParseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseBound(q.Get("from"), false)
	if err != nil {
		return time.Time{}, time.Time{}, common.NewAppError("BAD_REQUEST", "invalid from", http.StatusBadRequest, err)
	}
	to, err := parseBound(q.Get("to"), true)
	if err != nil {
		return time.Time{}, time.Time{}, common.NewAppError("BAD_REQUEST", "invalid to", http.StatusBadRequest, err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, common.NewAppError("BAD_REQUEST", "to must not be before from", http.StatusBadRequest, nil)
	}
	return from, to, nil
}

func parseBound(v string, end bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func (h *Handler) logger() *zerolog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
