package reconcile

import (
	"fmt"

	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

// OrderTotals is the canonical, comparable view of an order's money.
type OrderTotals struct {
	SubtotalCents    money.Cents `json:"subtotalCents"`
	DeliveryFeeCents money.Cents `json:"deliveryFeeCents"`
	TipCents         money.Cents `json:"tipCents"`
	DiscountCents    money.Cents `json:"discountCents"`
	TaxCents         money.Cents `json:"taxCents"`
	GrandTotalCents  money.Cents `json:"grandTotalCents"`
	Currency         string      `json:"currency"`
}

// Reconcile maps a classified shape onto OrderTotals. Adding a shape requires a new case here
// and a new precedence slot in Classify.
func Reconcile(s Shape) OrderTotals {
	switch v := s.(type) {
	case TotalsShape:
		out := OrderTotals{
			SubtotalCents:    v.Subtotal,
			DeliveryFeeCents: v.DeliveryFee,
			TipCents:         v.Tip,
			DiscountCents:    v.Discount,
			TaxCents:         v.Tax,
		}
		if v.OrderTotal != nil {
			out.GrandTotalCents = *v.OrderTotal
		} else {
			out.GrandTotalCents = v.Subtotal + v.DeliveryFee + v.Tip - v.Discount
		}
		return out
	case AmountsShape:
		return OrderTotals{
			SubtotalCents:    v.Subtotal,
			DeliveryFeeCents: v.DeliveryFee,
			TipCents:         v.Tip,
			DiscountCents:    v.Discount,
			TaxCents:         v.Tax,
			GrandTotalCents:  v.Total,
		}
	case CentsShape:
		return OrderTotals{
			SubtotalCents:   v.TotalCents,
			TipCents:        v.Tip,
			GrandTotalCents: v.TotalCents + v.Tip,
		}
	case LinesShape:
		var subtotal money.Cents
		for _, l := range v.Lines {
			priced, err := pricing.Price(l)
			if err != nil {
				continue
			}
			subtotal += priced.LineTotalCents
		}
		return OrderTotals{
			SubtotalCents:   subtotal,
			TipCents:        v.Tip,
			GrandTotalCents: subtotal + v.Tip,
		}
	default:
		panic(fmt.Sprintf("reconcile: unhandled shape %T", s))
	}
}

// ReconcileRaw classifies and reconciles a decoded document. The currency comes from the
// document, then its tax snapshot, then defaultCurrency.
func ReconcileRaw(raw RawOrder, defaultCurrency string) (OrderTotals, Shape) {
	shape := Classify(raw)
	out := Reconcile(shape)
	out.Currency = raw.Currency
	if out.Currency == "" && raw.TaxSnapshot != nil {
		out.Currency = raw.TaxSnapshot.Currency
	}
	if out.Currency == "" {
		out.Currency = defaultCurrency
	}
	return out, shape
}

// ReconcileJSON decodes and reconciles a stored document.
func ReconcileJSON(data []byte, defaultCurrency string) (OrderTotals, Shape, error) {
	raw, err := Decode(data)
	if err != nil {
		return OrderTotals{}, nil, err
	}
	totals, shape := ReconcileRaw(raw, defaultCurrency)
	return totals, shape, nil
}
