package pricing

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/noah-isme/resto-order-engine/internal/money"
)

// ErrInvalidLine marks a cart line that violates the pricing contract.
var ErrInvalidLine = errors.New("invalid cart line")

// GroupType restricts how many items of an option group a customer may select.
type GroupType string

const (
	GroupSingle   GroupType = "single"
	GroupMultiple GroupType = "multiple"
)

// Addon is a priced extra attached to one unit of a menu item.
type Addon struct {
	Name       string      `json:"name"`
	PriceCents money.Cents `json:"priceCents"`
}

// OptionItem is a selected option; its delta may be negative.
type OptionItem struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	PriceDeltaCents money.Cents `json:"priceDeltaCents"`
}

// OptionGroup holds the items selected from one option group.
type OptionGroup struct {
	GroupID   string       `json:"groupId"`
	GroupName string       `json:"groupName"`
	Type      GroupType    `json:"type"`
	Items     []OptionItem `json:"items"`
}

// CartLine describes one requested menu item with its selections.
type CartLine struct {
	LineID         string        `json:"lineId,omitempty"`
	MenuItemID     string        `json:"menuItemId"`
	MenuItemName   string        `json:"menuItemName"`
	CategoryID     string        `json:"categoryId,omitempty"`
	SubcategoryID  string        `json:"subcategoryId,omitempty"`
	BasePriceCents money.Cents   `json:"basePriceCents"`
	Quantity       int64         `json:"quantity"`
	Addons         []Addon       `json:"addons,omitempty"`
	OptionGroups   []OptionGroup `json:"optionGroups,omitempty"`
}

// PricedLine is a CartLine with its derived unit price and line total.
type PricedLine struct {
	CartLine
	UnitPriceCents money.Cents `json:"unitPriceCents"`
	LineTotalCents money.Cents `json:"lineTotalCents"`
}

// ValidationError reports the offending field of a rejected line.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s %s", e.Line, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidLine }

// Price computes the unit price and line total of a single cart line.
func Price(line CartLine) (PricedLine, error) {
	return price(0, line)
}

// PriceAll prices every line in order. Lines without an id are assigned their index.
func PriceAll(lines []CartLine) ([]PricedLine, error) {
	out := make([]PricedLine, 0, len(lines))
	for i, line := range lines {
		if line.LineID == "" {
			line.LineID = strconv.Itoa(i)
		}
		priced, err := price(i, line)
		if err != nil {
			return nil, err
		}
		out = append(out, priced)
	}
	return out, nil
}

// Subtotal sums the line totals.
func Subtotal(lines []PricedLine) money.Cents {
	var total money.Cents
	for _, l := range lines {
		total += l.LineTotalCents
	}
	return total
}

// UnitPrice returns base + Σaddons + Σoption deltas for one unit, clamped at zero.
// Individual deltas are never clamped.
func UnitPrice(line CartLine) money.Cents {
	unit := line.BasePriceCents
	for _, a := range line.Addons {
		unit += a.PriceCents
	}
	for _, g := range line.OptionGroups {
		for _, it := range g.Items {
			unit += it.PriceDeltaCents
		}
	}
	if unit < 0 {
		return 0
	}
	return unit
}

func price(idx int, line CartLine) (PricedLine, error) {
	if line.Quantity < 1 {
		return PricedLine{}, &ValidationError{Line: idx, Field: "quantity", Reason: "must be at least 1"}
	}
	if line.BasePriceCents < 0 {
		return PricedLine{}, &ValidationError{Line: idx, Field: "basePriceCents", Reason: "must not be negative"}
	}
	for i, a := range line.Addons {
		if a.PriceCents < 0 {
			return PricedLine{}, &ValidationError{Line: idx, Field: fmt.Sprintf("addons[%d].priceCents", i), Reason: "must not be negative"}
		}
	}
	unit := UnitPrice(line)
	return PricedLine{
		CartLine:       line,
		UnitPriceCents: unit,
		LineTotalCents: unit * line.Quantity,
	}, nil
}
