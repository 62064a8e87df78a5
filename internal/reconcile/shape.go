package reconcile

import (
	"encoding/json"

	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

// RawTotals is the stored `totals` object. Decimal fields come from the newest schemas;
// TotalCents comes from the cents-only schema.
type RawTotals struct {
	Subtotal    Number `json:"subtotal"`
	DeliveryFee Number `json:"deliveryFee"`
	Tip         Number `json:"tip"`
	Discount    Number `json:"discount"`
	Tax         Number `json:"tax"`
	TotalCents  Number `json:"totalCents"`
}

// RawAmounts is the stored `amounts` object.
type RawAmounts struct {
	Subtotal    Number `json:"subtotal"`
	DeliveryFee Number `json:"deliveryFee"`
	Tip         Number `json:"tip"`
	Discount    Number `json:"discount"`
	Tax         Number `json:"tax"`
	Total       Number `json:"total"`
}

// RawAddon is a stored addon in either decimal or cents form.
type RawAddon struct {
	Name       string `json:"name"`
	Price      Number `json:"price"`
	PriceCents Number `json:"priceCents"`
}

// RawOption is a stored option selection in either decimal or cents form.
type RawOption struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PriceDelta      Number `json:"priceDelta"`
	PriceDeltaCents Number `json:"priceDeltaCents"`
}

// RawOptionGroup is a stored option group.
type RawOptionGroup struct {
	GroupID string      `json:"groupId"`
	Type    string      `json:"type"`
	Items   []RawOption `json:"items"`
}

// RawLine is a stored cart line of any vintage.
type RawLine struct {
	MenuItemID     string           `json:"menuItemId"`
	Name           string           `json:"name"`
	Price          Number           `json:"price"`
	BasePrice      Number           `json:"basePrice"`
	BasePriceCents Number           `json:"basePriceCents"`
	Quantity       Number           `json:"quantity"`
	Qty            Number           `json:"qty"`
	Addons         []RawAddon       `json:"addons"`
	OptionGroups   []RawOptionGroup `json:"optionGroups"`
	Options        []RawOption      `json:"options"`
}

// RawOrder is an order document of unknown vintage, decoded leniently.
type RawOrder struct {
	Currency    string      `json:"currency"`
	Totals      *RawTotals  `json:"totals"`
	Amounts     *RawAmounts `json:"amounts"`
	Items       []RawLine   `json:"items"`
	Tip         Number      `json:"tip"`
	OrderTotal  Number      `json:"orderTotal"`
	TaxSnapshot *struct {
		Currency string `json:"currency"`
	} `json:"taxSnapshot"`
}

// Decode parses a stored order document.
func Decode(data []byte) (RawOrder, error) {
	var raw RawOrder
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawOrder{}, err
	}
	return raw, nil
}

// Shape is one known historical totals representation. The set is closed: Reconcile matches
// every implementation explicitly.
type Shape interface {
	Name() string
	isShape()
}

// TotalsShape: a `totals` object with decimal subtotal/deliveryFee/tip, plus optional orderTotal.
type TotalsShape struct {
	Subtotal, DeliveryFee, Tip, Discount, Tax money.Cents
	OrderTotal                                *money.Cents
}

// AmountsShape: an `amounts` object carrying a finite decimal total.
type AmountsShape struct {
	Subtotal, DeliveryFee, Tip, Discount, Tax, Total money.Cents
}

// CentsShape: only `totals.totalCents`, with an optional decimal `amounts.tip`.
type CentsShape struct {
	TotalCents money.Cents
	Tip        money.Cents
}

// LinesShape: nothing usable was stored; totals must be recomputed from the lines.
type LinesShape struct {
	Lines []pricing.CartLine
	Tip   money.Cents
}

func (TotalsShape) Name() string  { return "totals" }
func (AmountsShape) Name() string { return "amounts" }
func (CentsShape) Name() string   { return "totals_cents" }
func (LinesShape) Name() string   { return "lines" }

func (TotalsShape) isShape()  {}
func (AmountsShape) isShape() {}
func (CentsShape) isShape()   {}
func (LinesShape) isShape()   {}

// Classify selects the newest shape the document satisfies, trying them in precedence order:
// totals (decimal), amounts.total, totals.totalCents, then line items.
func Classify(raw RawOrder) Shape {
	if t := raw.Totals; t != nil && (t.Subtotal.Present() || t.DeliveryFee.Present() || t.Tip.Present()) {
		shape := TotalsShape{
			Subtotal:    t.Subtotal.Cents(),
			DeliveryFee: t.DeliveryFee.Cents(),
			Tip:         t.Tip.Cents(),
			Discount:    t.Discount.Cents(),
			Tax:         t.Tax.Cents(),
		}
		if raw.OrderTotal.Finite() {
			total := raw.OrderTotal.Cents()
			shape.OrderTotal = &total
		}
		return shape
	}
	if a := raw.Amounts; a != nil && a.Total.Finite() {
		return AmountsShape{
			Subtotal:    a.Subtotal.Cents(),
			DeliveryFee: a.DeliveryFee.Cents(),
			Tip:         a.Tip.Cents(),
			Discount:    a.Discount.Cents(),
			Tax:         a.Tax.Cents(),
			Total:       a.Total.Cents(),
		}
	}
	if t := raw.Totals; t != nil && t.TotalCents.Finite() {
		shape := CentsShape{TotalCents: t.TotalCents.Int()}
		if raw.Amounts != nil {
			shape.Tip = raw.Amounts.Tip.Cents()
		}
		return shape
	}
	lines := make([]pricing.CartLine, 0, len(raw.Items))
	for _, it := range raw.Items {
		lines = append(lines, it.cartLine())
	}
	return LinesShape{Lines: lines, Tip: raw.Tip.Cents()}
}

// cartLine maps a legacy line onto the pricer's input. A missing quantity means one unit;
// a non-finite base price is recorded as negative so the pricer rejects the line.
func (l RawLine) cartLine() pricing.CartLine {
	line := pricing.CartLine{MenuItemID: l.MenuItemID, MenuItemName: l.Name, Quantity: 1}
	switch {
	case l.BasePriceCents.Finite():
		line.BasePriceCents = l.BasePriceCents.Int()
	case l.Price.Finite():
		line.BasePriceCents = l.Price.Cents()
	case l.BasePrice.Finite():
		line.BasePriceCents = l.BasePrice.Cents()
	case l.Price.Present() || l.BasePrice.Present() || l.BasePriceCents.Present():
		line.BasePriceCents = -1
	}
	switch {
	case l.Quantity.Present():
		line.Quantity = quantity(l.Quantity)
	case l.Qty.Present():
		line.Quantity = quantity(l.Qty)
	}
	for _, a := range l.Addons {
		price := a.Price.Cents()
		if a.PriceCents.Finite() {
			price = a.PriceCents.Int()
		}
		line.Addons = append(line.Addons, pricing.Addon{Name: a.Name, PriceCents: price})
	}
	groups := l.OptionGroups
	if len(l.Options) > 0 {
		groups = append(groups, RawOptionGroup{Items: l.Options})
	}
	for _, g := range groups {
		group := pricing.OptionGroup{GroupID: g.GroupID, Type: pricing.GroupType(g.Type)}
		for _, it := range g.Items {
			delta := it.PriceDelta.Cents()
			if it.PriceDeltaCents.Finite() {
				delta = it.PriceDeltaCents.Int()
			}
			group.Items = append(group.Items, pricing.OptionItem{ID: it.ID, Name: it.Name, PriceDeltaCents: delta})
		}
		line.OptionGroups = append(line.OptionGroups, group)
	}
	return line
}

func quantity(n Number) int64 {
	if !n.Finite() {
		return 0
	}
	return n.Decimal().IntPart()
}
