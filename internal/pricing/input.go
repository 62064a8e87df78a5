package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/resto-order-engine/internal/money"
)

// LineInput is the wire form of a cart line. Prices may arrive either as integer cents or as
// decimal currency amounts; decimals are converted once here.
type LineInput struct {
	LineID         string             `json:"lineId"`
	MenuItemID     string             `json:"menuItemId" validate:"required"`
	MenuItemName   string             `json:"menuItemName"`
	CategoryID     string             `json:"categoryId"`
	SubcategoryID  string             `json:"subcategoryId"`
	BasePriceCents *int64             `json:"basePriceCents" validate:"omitempty,min=0"`
	BasePrice      *decimal.Decimal   `json:"basePrice"`
	Quantity       int64              `json:"quantity" validate:"min=1"`
	Addons         []AddonInput       `json:"addons" validate:"dive"`
	OptionGroups   []OptionGroupInput `json:"optionGroups" validate:"dive"`
}

// AddonInput is the wire form of an addon.
type AddonInput struct {
	Name       string           `json:"name"`
	PriceCents *int64           `json:"priceCents" validate:"omitempty,min=0"`
	Price      *decimal.Decimal `json:"price"`
}

// OptionGroupInput is the wire form of an option group selection.
type OptionGroupInput struct {
	GroupID   string            `json:"groupId"`
	GroupName string            `json:"groupName"`
	Type      GroupType         `json:"type" validate:"omitempty,oneof=single multiple"`
	Items     []OptionItemInput `json:"items" validate:"dive"`
}

// OptionItemInput is the wire form of a selected option.
type OptionItemInput struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	PriceDeltaCents *int64           `json:"priceDeltaCents"`
	PriceDelta      *decimal.Decimal `json:"priceDelta"`
}

// CartLine converts the input into cents.
func (in LineInput) CartLine() CartLine {
	line := CartLine{
		LineID:         in.LineID,
		MenuItemID:     in.MenuItemID,
		MenuItemName:   in.MenuItemName,
		CategoryID:     in.CategoryID,
		SubcategoryID:  in.SubcategoryID,
		BasePriceCents: centsOf(in.BasePriceCents, in.BasePrice),
		Quantity:       in.Quantity,
	}
	for _, a := range in.Addons {
		line.Addons = append(line.Addons, Addon{Name: a.Name, PriceCents: centsOf(a.PriceCents, a.Price)})
	}
	for _, g := range in.OptionGroups {
		group := OptionGroup{GroupID: g.GroupID, GroupName: g.GroupName, Type: g.Type}
		for _, it := range g.Items {
			group.Items = append(group.Items, OptionItem{ID: it.ID, Name: it.Name, PriceDeltaCents: centsOf(it.PriceDeltaCents, it.PriceDelta)})
		}
		line.OptionGroups = append(line.OptionGroups, group)
	}
	return line
}

// CartLines converts every input line.
func CartLines(in []LineInput) []CartLine {
	out := make([]CartLine, 0, len(in))
	for _, l := range in {
		out = append(out, l.CartLine())
	}
	return out
}

func centsOf(cents *int64, amount *decimal.Decimal) money.Cents {
	if cents != nil {
		return *cents
	}
	if amount != nil {
		return money.FromDecimal(*amount)
	}
	return 0
}
