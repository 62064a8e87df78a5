package promotion

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

// Kind identifies how the discount value is interpreted.
type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
)

// Reason is the typed cause of a rejected promotion code.
type Reason string

const (
	ReasonNotFound            Reason = "not_found"
	ReasonInactive            Reason = "inactive"
	ReasonExpired             Reason = "expired"
	ReasonOrderTypeNotAllowed Reason = "order_type_not_allowed"
	ReasonBelowMinimum        Reason = "below_minimum"
	ReasonLimitReached        Reason = "limit_reached"
)

// Rejection is returned whenever a code cannot be applied.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string {
	return "promotion rejected: " + string(r.Reason)
}

// Reject builds a Rejection for reason.
func Reject(reason Reason) error {
	return &Rejection{Reason: reason}
}

// ReasonOf extracts the rejection reason carried by err.
func ReasonOf(err error) (Reason, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// Scope restricts a promotion to lines matching any listed id. An empty scope matches every line.
type Scope struct {
	CategoryIDs    []string `json:"categoryIds,omitempty"`
	SubcategoryIDs []string `json:"subcategoryIds,omitempty"`
	MenuItemIDs    []string `json:"menuItemIds,omitempty"`
}

// Empty reports whether the scope lists no ids at all.
func (s Scope) Empty() bool {
	return len(s.CategoryIDs) == 0 && len(s.SubcategoryIDs) == 0 && len(s.MenuItemIDs) == 0
}

// Matches reports whether line falls inside the scope.
func (s Scope) Matches(line pricing.PricedLine) bool {
	if s.Empty() {
		return true
	}
	return contains(s.MenuItemIDs, line.MenuItemID) ||
		contains(s.CategoryIDs, line.CategoryID) ||
		contains(s.SubcategoryIDs, line.SubcategoryID)
}

func contains(ids []string, id string) bool {
	return id != "" && slices.Contains(ids, id)
}

// Constraints captures the applicability limits of a promotion.
type Constraints struct {
	MinTargetSubtotalCents money.Cents `json:"minTargetSubtotalCents"`
	AllowedOrderTypes      []string    `json:"allowedOrderTypes,omitempty"`
	GlobalLimit            *int64      `json:"globalLimit,omitempty"`
	PerUserLimit           *int64      `json:"perUserLimit,omitempty"`
	Stackable              bool        `json:"stackable"`
	AutoApply              bool        `json:"autoApply"`
}

// Promotion is a tenant-scoped discount rule.
type Promotion struct {
	ID            string      `json:"id"`
	Code          string      `json:"code"`
	Kind          Kind        `json:"type"`
	Value         int64       `json:"value"`
	Active        bool        `json:"active"`
	Scope         Scope       `json:"scope"`
	Constraints   Constraints `json:"constraints"`
	StartAt       *time.Time  `json:"startAt,omitempty"`
	EndAt         *time.Time  `json:"endAt,omitempty"`
	TimesRedeemed int64       `json:"timesRedeemed"`
}

// LineDiscount is the share of a promotion allocated to one line.
type LineDiscount struct {
	LineID            string      `json:"lineId"`
	Eligible          bool        `json:"eligible"`
	LineSubtotalCents money.Cents `json:"lineSubtotalCents"`
	DiscountCents     money.Cents `json:"discountCents"`
}

// AppliedPromotion records a validated promotion and its per-line allocation.
type AppliedPromotion struct {
	PromoID            string         `json:"promoId"`
	Code               string         `json:"code"`
	DiscountTotalCents money.Cents    `json:"discountTotalCents"`
	DiscountByLine     []LineDiscount `json:"discountByLine"`
}

// DiscountFor returns the discount allocated to lineID.
func (a AppliedPromotion) DiscountFor(lineID string) money.Cents {
	for _, d := range a.DiscountByLine {
		if d.LineID == lineID {
			return d.DiscountCents
		}
	}
	return 0
}

// LineDiscounts returns the allocation keyed by line id.
func (a AppliedPromotion) LineDiscounts() map[string]money.Cents {
	out := make(map[string]money.Cents, len(a.DiscountByLine))
	for _, d := range a.DiscountByLine {
		if d.DiscountCents != 0 {
			out[d.LineID] += d.DiscountCents
		}
	}
	return out
}

// Context carries the order facts a promotion is validated against.
type Context struct {
	Now       time.Time
	OrderType string
	Lines     []pricing.PricedLine
	// CustomerRedemptions is the external per-user usage count; nil when the customer is unknown.
	CustomerRedemptions *int64
}

// NormalizeCode trims, uppercases and strips every whitespace rune from code.
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

// Validate checks the promotion against ctx. The first failing check wins, in this order:
// inactive, validity window, order type, minimum eligible subtotal, usage limits.
func (p Promotion) Validate(ctx Context) error {
	if !p.Active {
		return Reject(ReasonInactive)
	}
	if p.StartAt != nil && ctx.Now.Before(*p.StartAt) {
		return Reject(ReasonInactive)
	}
	if p.EndAt != nil && ctx.Now.After(*p.EndAt) {
		return Reject(ReasonExpired)
	}
	if allowed := p.Constraints.AllowedOrderTypes; len(allowed) > 0 && !slices.ContainsFunc(allowed, func(t string) bool {
		return strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(ctx.OrderType))
	}) {
		return Reject(ReasonOrderTypeNotAllowed)
	}
	if EligibleSubtotal(ctx.Lines, p.Scope) < p.Constraints.MinTargetSubtotalCents {
		return Reject(ReasonBelowMinimum)
	}
	if limit := p.Constraints.GlobalLimit; limit != nil && *limit >= 0 && p.TimesRedeemed >= *limit {
		return Reject(ReasonLimitReached)
	}
	if limit := p.Constraints.PerUserLimit; limit != nil && *limit >= 0 && ctx.CustomerRedemptions != nil && *ctx.CustomerRedemptions >= *limit {
		return Reject(ReasonLimitReached)
	}
	return nil
}

// Evaluate validates the promotion and allocates its discount across ctx.Lines.
func (p Promotion) Evaluate(ctx Context) (AppliedPromotion, error) {
	if err := p.Validate(ctx); err != nil {
		return AppliedPromotion{}, err
	}
	return Allocate(p, ctx.Lines), nil
}

// EligibleSubtotal sums the totals of positive lines matching scope.
func EligibleSubtotal(lines []pricing.PricedLine, scope Scope) money.Cents {
	var total money.Cents
	for _, l := range lines {
		if isEligible(l, scope) {
			total += l.LineTotalCents
		}
	}
	return total
}

func isEligible(l pricing.PricedLine, scope Scope) bool {
	return l.LineTotalCents > 0 && scope.Matches(l)
}

// Compute determines the total discount for an eligible subtotal. Percent values are clamped
// to 0-100 and rounded half-up; fixed values never exceed the eligible subtotal.
func Compute(eligible money.Cents, p Promotion) money.Cents {
	if eligible <= 0 {
		return 0
	}
	var discount money.Cents
	switch p.Kind {
	case KindPercent:
		pct := min(max(p.Value, 0), 100)
		discount = money.Percent(eligible, pct, money.HalfUp)
	default:
		discount = p.Value
	}
	return min(max(discount, 0), eligible)
}

// Allocate spreads the computed discount across eligible lines proportionally to their totals.
// The rounding remainder lands on the last eligible line, so the per-line discounts always
// sum to the total.
func Allocate(p Promotion, lines []pricing.PricedLine) AppliedPromotion {
	weights := make([]money.Cents, len(lines))
	for i, l := range lines {
		if isEligible(l, p.Scope) {
			weights[i] = l.LineTotalCents
		}
	}
	var eligible money.Cents
	for _, w := range weights {
		eligible += w
	}
	total := Compute(eligible, p)
	shares := money.Allocate(total, weights)

	applied := AppliedPromotion{
		PromoID:            p.ID,
		Code:               p.Code,
		DiscountTotalCents: total,
		DiscountByLine:     make([]LineDiscount, len(lines)),
	}
	for i, l := range lines {
		applied.DiscountByLine[i] = LineDiscount{
			LineID:            l.LineID,
			Eligible:          weights[i] > 0,
			LineSubtotalCents: l.LineTotalCents,
			DiscountCents:     shares[i],
		}
	}
	return applied
}
