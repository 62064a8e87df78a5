package tax

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

// ErrProfileMissing is returned by profile sources when a tenant has no active tax profile.
var ErrProfileMissing = errors.New("tax profile missing")

// Taxable kinds a rate may be scoped to.
const (
	KindItem      = "item"
	KindDelivery  = "delivery"
	KindSurcharge = "surcharge"
)

// DeliveryMode controls whether the delivery fee is part of the snapshot.
type DeliveryMode string

const (
	DeliveryAsLine  DeliveryMode = "as_line"
	DeliveryOutside DeliveryMode = "outside"
)

// SurchargeKind selects how a surcharge amount is derived.
type SurchargeKind string

const (
	SurchargePercent SurchargeKind = "percent"
	SurchargeFixed   SurchargeKind = "fixed"
)

// RateScope limits a rate to kinds and, for item lines, to categories or menu items.
// The zero value applies everywhere.
type RateScope struct {
	Kinds       []string `json:"kinds,omitempty"`
	CategoryIDs []string `json:"categoryIds,omitempty"`
	MenuItemIDs []string `json:"menuItemIds,omitempty"`
}

func (s RateScope) matches(kind string, line *pricing.PricedLine) bool {
	if len(s.Kinds) > 0 && !slices.Contains(s.Kinds, kind) {
		return false
	}
	if len(s.CategoryIDs) == 0 && len(s.MenuItemIDs) == 0 {
		return true
	}
	if line == nil {
		return false
	}
	return (line.CategoryID != "" && slices.Contains(s.CategoryIDs, line.CategoryID)) ||
		(line.MenuItemID != "" && slices.Contains(s.MenuItemIDs, line.MenuItemID))
}

// Rate is one tax rate in basis points.
type Rate struct {
	Code      string    `json:"code"`
	Label     string    `json:"label"`
	RateBps   int64     `json:"rateBps"`
	AppliesTo RateScope `json:"appliesTo"`
}

// Surcharge is an additional line-like charge such as a service fee.
type Surcharge struct {
	Code        string        `json:"code"`
	Label       string        `json:"label"`
	Kind        SurchargeKind `json:"kind"`
	ValueBps    int64         `json:"valueBps,omitempty"`
	AmountCents money.Cents   `json:"amountCents,omitempty"`
	Taxable     bool          `json:"taxable"`
}

// Delivery configures delivery fee treatment.
type Delivery struct {
	Mode    DeliveryMode `json:"mode"`
	Taxable bool         `json:"taxable"`
}

// Profile is a tenant's tax configuration.
type Profile struct {
	Currency         string      `json:"currency"`
	PricesIncludeTax bool        `json:"pricesIncludeTax"`
	Rounding         string      `json:"rounding"`
	Rates            []Rate      `json:"rates"`
	Surcharges       []Surcharge `json:"surcharges,omitempty"`
	Delivery         Delivery    `json:"delivery"`
}

// ZeroProfile is substituted for tenants without a tax profile.
func ZeroProfile(currency string) Profile {
	return Profile{
		Currency:         currency,
		PricesIncludeTax: true,
		Rounding:         string(money.HalfUp),
		Rates:            []Rate{{Code: "NONE", Label: "No tax", RateBps: 0}},
		Delivery:         Delivery{Mode: DeliveryAsLine},
	}
}

// Validate rejects profiles that cannot be applied.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Currency) == "" {
		return errors.New("currency is required")
	}
	switch p.Delivery.Mode {
	case "", DeliveryAsLine, DeliveryOutside:
	default:
		return fmt.Errorf("unknown delivery mode %q", p.Delivery.Mode)
	}
	for _, r := range p.Rates {
		if r.RateBps < 0 {
			return fmt.Errorf("rate %s: rateBps must not be negative", r.Code)
		}
	}
	for _, s := range p.Surcharges {
		switch s.Kind {
		case SurchargePercent:
			if s.ValueBps < 0 {
				return fmt.Errorf("surcharge %s: valueBps must not be negative", s.Code)
			}
		case SurchargeFixed:
			if s.AmountCents < 0 {
				return fmt.Errorf("surcharge %s: amountCents must not be negative", s.Code)
			}
		default:
			return fmt.Errorf("surcharge %s: unknown kind %q", s.Code, s.Kind)
		}
	}
	return nil
}
