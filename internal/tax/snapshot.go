package tax

import (
	"time"

	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

// Customer is display-only invoice data.
type Customer struct {
	TaxID string `json:"taxId,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Input is everything the calculator needs for one order.
type Input struct {
	Lines []pricing.PricedLine
	// LineDiscounts maps line id to the promotion discount allocated to it.
	LineDiscounts    map[string]money.Cents
	DeliveryFeeCents money.Cents
	// DeliveryTaxable overrides the profile's delivery taxability when set.
	DeliveryTaxable *bool
	Customer        Customer
	At              time.Time
}

// Totals are the snapshot's headline figures.
type Totals struct {
	SubTotalCents   money.Cents `json:"subTotalCents"`
	TaxCents        money.Cents `json:"taxCents"`
	GrandTotalCents money.Cents `json:"grandTotalCents"`
}

// RateSummary aggregates the taxable base and tax of one rate.
type RateSummary struct {
	Code      string      `json:"code"`
	Label     string      `json:"label"`
	RateBps   int64       `json:"rateBps"`
	BaseCents money.Cents `json:"baseCents"`
	TaxCents  money.Cents `json:"taxCents"`
}

// SurchargeLine is a computed surcharge with its own base and tax.
type SurchargeLine struct {
	Code      string      `json:"code"`
	Label     string      `json:"label"`
	BaseCents money.Cents `json:"baseCents"`
	TaxCents  money.Cents `json:"taxCents"`
}

// Snapshot is the frozen tax breakdown persisted with an order.
type Snapshot struct {
	Currency         string          `json:"currency"`
	PricesIncludeTax bool            `json:"pricesIncludeTax"`
	Rounding         string          `json:"rounding"`
	Totals           Totals          `json:"totals"`
	DiscountCents    money.Cents     `json:"discountCents"`
	SummaryByRate    []RateSummary   `json:"summaryByRate"`
	Surcharges       []SurchargeLine `json:"surcharges"`
	DeliveryMode     DeliveryMode    `json:"deliveryMode"`
	// DeliveryFeeCents is the fee carried inside the snapshot; zero when delivery is outside.
	DeliveryFeeCents money.Cents `json:"deliveryFeeCents"`
	Customer         Customer    `json:"customer"`
	ComputedAt       time.Time   `json:"computedAt"`
}

type calculator struct {
	profile Profile
	mode    money.RoundingMode
	summary []RateSummary
}

// Compute applies the profile to the post-discount lines and returns a self-contained snapshot.
//
// Exclusive profiles add round(base × rateBps / 10000) per matching rate. Inclusive profiles
// treat the base as gross: net = round(base × 10000 / (10000 + Σbps)) and the embedded tax is
// split across the matching rates. Surcharges are derived from the discounted item base and
// grandTotal = subTotal + Σ surcharge bases + tax.
func Compute(profile Profile, in Input) Snapshot {
	c := &calculator{profile: profile, mode: money.ParseRoundingMode(profile.Rounding)}
	c.summary = make([]RateSummary, len(profile.Rates))
	for i, r := range profile.Rates {
		c.summary[i] = RateSummary{Code: r.Code, Label: r.Label, RateBps: r.RateBps}
	}

	var sub, tax, itemBase, discount money.Cents
	for i := range in.Lines {
		l := &in.Lines[i]
		d := min(max(in.LineDiscounts[l.LineID], 0), max(l.LineTotalCents, 0))
		discount += d
		base := l.LineTotalCents - d
		itemBase += base
		net, t := c.apply(KindItem, l, base)
		sub += net
		tax += t
	}

	mode := profile.Delivery.Mode
	if mode == "" {
		mode = DeliveryAsLine
	}
	snap := Snapshot{
		Currency:         profile.Currency,
		PricesIncludeTax: profile.PricesIncludeTax,
		Rounding:         string(c.mode),
		DiscountCents:    discount,
		DeliveryMode:     mode,
		Customer:         in.Customer,
		ComputedAt:       in.At.UTC(),
		Surcharges:       make([]SurchargeLine, 0, len(profile.Surcharges)),
	}
	if mode == DeliveryAsLine && in.DeliveryFeeCents > 0 {
		taxable := profile.Delivery.Taxable
		if in.DeliveryTaxable != nil {
			taxable = *in.DeliveryTaxable
		}
		net, t := in.DeliveryFeeCents, money.Cents(0)
		if taxable {
			net, t = c.apply(KindDelivery, nil, in.DeliveryFeeCents)
		}
		sub += net
		tax += t
		snap.DeliveryFeeCents = in.DeliveryFeeCents
	}

	var surcharges money.Cents
	for _, s := range profile.Surcharges {
		amount := s.AmountCents
		if s.Kind == SurchargePercent {
			amount = money.MulBps(itemBase, s.ValueBps, c.mode)
		}
		if amount <= 0 {
			continue
		}
		net, t := amount, money.Cents(0)
		if s.Taxable {
			net, t = c.apply(KindSurcharge, nil, amount)
		}
		snap.Surcharges = append(snap.Surcharges, SurchargeLine{Code: s.Code, Label: s.Label, BaseCents: net, TaxCents: t})
		surcharges += net
		tax += t
	}

	snap.SummaryByRate = c.summary
	snap.Totals = Totals{
		SubTotalCents:   sub,
		TaxCents:        tax,
		GrandTotalCents: sub + surcharges + tax,
	}
	return snap
}

// apply taxes one base and returns its net amount and tax.
func (c *calculator) apply(kind string, line *pricing.PricedLine, base money.Cents) (money.Cents, money.Cents) {
	var matched []int
	var combined int64
	for i, r := range c.profile.Rates {
		if r.AppliesTo.matches(kind, line) {
			matched = append(matched, i)
			combined += r.RateBps
		}
	}
	if len(matched) == 0 {
		return base, 0
	}
	if !c.profile.PricesIncludeTax {
		var tax money.Cents
		for _, i := range matched {
			t := money.MulBps(base, c.profile.Rates[i].RateBps, c.mode)
			c.summary[i].BaseCents += base
			c.summary[i].TaxCents += t
			tax += t
		}
		return base, tax
	}
	net := c.mode.Div(base*10000, 10000+combined)
	weights := make([]money.Cents, len(matched))
	for j, i := range matched {
		weights[j] = c.profile.Rates[i].RateBps
	}
	shares := money.Allocate(base-net, weights)
	for j, i := range matched {
		c.summary[i].BaseCents += net
		c.summary[i].TaxCents += shares[j]
	}
	return net, base - net
}
