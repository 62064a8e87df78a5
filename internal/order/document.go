package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/resto-order-engine/internal/events"
	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
	"github.com/noah-isme/resto-order-engine/internal/promotion"
	"github.com/noah-isme/resto-order-engine/internal/reconcile"
	"github.com/noah-isme/resto-order-engine/internal/tax"
)

// ErrNotFound is returned when the order does not exist for the tenant.
var ErrNotFound = errors.New("order: not found")

// Source values stored alongside each document.
const (
	SourceCheckout = "checkout"
	SourceLegacy   = "legacy_import"
)

// DecimalTotals is the `totals` object written by checkout. Amounts are decimal currency units so
// the document reconciles through the newest branch of the totals chain.
type DecimalTotals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Tip         decimal.Decimal `json:"tip"`
	Discount    decimal.Decimal `json:"discount"`
	Tax         decimal.Decimal `json:"tax"`
}

// Document is the order document persisted at placement time. It is never recomputed.
type Document struct {
	ID                string                       `json:"id"`
	OrderType         string                       `json:"orderType"`
	CustomerID        string                       `json:"customerId,omitempty"`
	Currency          string                       `json:"currency"`
	Items             []pricing.PricedLine         `json:"items"`
	Totals            DecimalTotals                `json:"totals"`
	OrderTotal        decimal.Decimal              `json:"orderTotal"`
	TotalsCents       reconcile.OrderTotals        `json:"totalsCents"`
	TaxSnapshot       tax.Snapshot                 `json:"taxSnapshot"`
	AppliedPromotions []promotion.AppliedPromotion `json:"appliedPromotions"`
	PromotionCode     string                       `json:"promotionCode,omitempty"`
	CreatedAt         time.Time                    `json:"createdAt"`
}

// NewDocument freezes the canonical totals into a document.
func NewDocument(id, orderType, customerID string, items []pricing.PricedLine, totals reconcile.OrderTotals, snap tax.Snapshot, applied *promotion.AppliedPromotion, at time.Time) Document {
	doc := Document{
		ID:         id,
		OrderType:  orderType,
		CustomerID: customerID,
		Currency:   totals.Currency,
		Items:      items,
		Totals: DecimalTotals{
			Subtotal:    money.ToDecimal(totals.SubtotalCents),
			DeliveryFee: money.ToDecimal(totals.DeliveryFeeCents),
			Tip:         money.ToDecimal(totals.TipCents),
			Discount:    money.ToDecimal(totals.DiscountCents),
			Tax:         money.ToDecimal(totals.TaxCents),
		},
		OrderTotal:        money.ToDecimal(totals.GrandTotalCents),
		TotalsCents:       totals,
		TaxSnapshot:       snap,
		AppliedPromotions: []promotion.AppliedPromotion{},
		CreatedAt:         at.UTC(),
	}
	if applied != nil {
		doc.AppliedPromotions = append(doc.AppliedPromotions, *applied)
		doc.PromotionCode = applied.Code
	}
	return doc
}

// Record is a stored order row. Doc holds the document verbatim, whatever its vintage.
type Record struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	OrderType     string          `json:"orderType,omitempty"`
	CustomerID    string          `json:"customerId,omitempty"`
	Source        string          `json:"source"`
	Doc           json.RawMessage `json:"document"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	InvoiceDate   *time.Time      `json:"invoiceDate,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ListFilter bounds a listing by creation time. Zero times are open bounds.
type ListFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Store persists order documents.
type Store interface {
	// CreateOrder inserts the order and its outbox events atomically.
	CreateOrder(ctx context.Context, rec Record, outbox ...events.Event) error
	GetOrder(ctx context.Context, tenantID, id string) (Record, error)
	ListOrders(ctx context.Context, tenantID string, f ListFilter) ([]Record, int64, error)
}
