package promotion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

func line(id string, total money.Cents, category string) pricing.PricedLine {
	return pricing.PricedLine{
		CartLine:       pricing.CartLine{LineID: id, MenuItemID: "item-" + id, CategoryID: category, BasePriceCents: total, Quantity: 1},
		UnitPriceCents: total,
		LineTotalCents: total,
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "SUMMER10", NormalizeCode("  sum mer\t10\n"))
	require.Equal(t, "", NormalizeCode("   "))
}

func TestValidateReturnsFirstApplicableReason(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	lines := []pricing.PricedLine{line("a", 500, "")}

	// every check fails; each step fixes one condition and exposes the next reason
	p := Promotion{
		Active:        false,
		EndAt:         &past,
		TimesRedeemed: 5,
		Constraints: Constraints{
			AllowedOrderTypes:      []string{"dine_in"},
			MinTargetSubtotalCents: 1000,
			GlobalLimit:            int64Ptr(5),
		},
	}
	ctx := Context{Now: now, OrderType: "delivery", Lines: lines}

	steps := []struct {
		want Reason
		fix  func(*Promotion)
	}{
		{ReasonInactive, func(p *Promotion) { p.Active = true }},
		{ReasonExpired, func(p *Promotion) { p.EndAt = &future }},
		{ReasonOrderTypeNotAllowed, func(p *Promotion) { p.Constraints.AllowedOrderTypes = append(p.Constraints.AllowedOrderTypes, "DELIVERY") }},
		{ReasonBelowMinimum, func(p *Promotion) { p.Constraints.MinTargetSubtotalCents = 500 }},
		{ReasonLimitReached, func(p *Promotion) { p.Constraints.GlobalLimit = nil }},
	}
	for _, step := range steps {
		for i := 0; i < 3; i++ {
			reason, ok := ReasonOf(p.Validate(ctx))
			require.True(t, ok)
			require.Equal(t, step.want, reason)
		}
		step.fix(&p)
	}
	require.NoError(t, p.Validate(ctx))
}

func TestValidateWindowNotStartedIsInactive(t *testing.T) {
	now := time.Now()
	start := now.Add(time.Minute)
	p := Promotion{Active: true, StartAt: &start}
	reason, _ := ReasonOf(p.Validate(Context{Now: now}))
	require.Equal(t, ReasonInactive, reason)

	end := now
	p = Promotion{Active: true, EndAt: &end}
	require.NoError(t, p.Validate(Context{Now: now}), "end bound is inclusive")
}

func TestValidatePerUserLimitUsesExternalCount(t *testing.T) {
	p := Promotion{Active: true, Constraints: Constraints{PerUserLimit: int64Ptr(1)}}
	require.NoError(t, p.Validate(Context{Now: time.Now()}))
	require.NoError(t, p.Validate(Context{Now: time.Now(), CustomerRedemptions: int64Ptr(0)}))
	reason, _ := ReasonOf(p.Validate(Context{Now: time.Now(), CustomerRedemptions: int64Ptr(1)}))
	require.Equal(t, ReasonLimitReached, reason)
}

func TestScopeRestrictsEligibleSubtotal(t *testing.T) {
	lines := []pricing.PricedLine{line("a", 1000, "drinks"), line("b", 2000, "mains"), line("c", 0, "drinks")}
	lines[1].SubcategoryID = "noodles"

	require.EqualValues(t, 3000, EligibleSubtotal(lines, Scope{}))
	require.EqualValues(t, 1000, EligibleSubtotal(lines, Scope{CategoryIDs: []string{"drinks"}}))
	require.EqualValues(t, 2000, EligibleSubtotal(lines, Scope{SubcategoryIDs: []string{"noodles"}}))
	require.EqualValues(t, 3000, EligibleSubtotal(lines, Scope{MenuItemIDs: []string{"item-a"}, CategoryIDs: []string{"mains"}}))
	require.EqualValues(t, 0, EligibleSubtotal(lines, Scope{MenuItemIDs: []string{"missing"}}))
}

func TestComputeDiscount(t *testing.T) {
	require.EqualValues(t, 150, Compute(1000, Promotion{Kind: KindPercent, Value: 15}))
	require.EqualValues(t, 1000, Compute(1000, Promotion{Kind: KindPercent, Value: 250}))
	require.EqualValues(t, 0, Compute(1000, Promotion{Kind: KindPercent, Value: -5}))
	require.EqualValues(t, 300, Compute(1000, Promotion{Kind: KindFixed, Value: 300}))
	require.EqualValues(t, 1000, Compute(1000, Promotion{Kind: KindFixed, Value: 5000}))
	require.EqualValues(t, 0, Compute(0, Promotion{Kind: KindFixed, Value: 5000}))
	// 33% of 3 cents is 0.99, rounded half-up to 1
	require.EqualValues(t, 1, Compute(3, Promotion{Kind: KindPercent, Value: 33}))
	require.EqualValues(t, 1, Compute(1, Promotion{Kind: KindPercent, Value: 50}))
}

func TestAllocateExactSumAdversarial(t *testing.T) {
	cases := []struct {
		name  string
		promo Promotion
		lines []pricing.PricedLine
	}{
		{"three single cents at 33%", Promotion{Kind: KindPercent, Value: 33}, []pricing.PricedLine{line("a", 1, ""), line("b", 1, ""), line("c", 1, "")}},
		{"thirds at 10%", Promotion{Kind: KindPercent, Value: 10}, []pricing.PricedLine{line("a", 333, ""), line("b", 333, ""), line("c", 334, "")}},
		{"fixed over many cents", Promotion{Kind: KindFixed, Value: 9}, []pricing.PricedLine{line("a", 1, ""), line("b", 1, ""), line("c", 1, ""), line("d", 1, ""), line("e", 1, ""), line("f", 1, ""), line("g", 1, ""), line("h", 1, ""), line("i", 1, ""), line("j", 1, "")}},
		{"fixed exceeding eligible", Promotion{Kind: KindFixed, Value: 10_000}, []pricing.PricedLine{line("a", 799, ""), line("b", 1, "")}},
		{"scoped with trailing ineligible", Promotion{Kind: KindPercent, Value: 17, Scope: Scope{CategoryIDs: []string{"x"}}}, []pricing.PricedLine{line("a", 997, "x"), line("b", 5000, "y"), line("c", 13, "x"), line("d", 700, "y")}},
		{"odd percent", Promotion{Kind: KindPercent, Value: 7}, []pricing.PricedLine{line("a", 3, ""), line("b", 7, ""), line("c", 11, ""), line("d", 13, "")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			applied := Allocate(tc.promo, tc.lines)
			var sum money.Cents
			for i, d := range applied.DiscountByLine {
				sum += d.DiscountCents
				require.Equal(t, tc.lines[i].LineID, d.LineID)
				require.LessOrEqual(t, d.DiscountCents, d.LineSubtotalCents)
				require.GreaterOrEqual(t, d.DiscountCents, money.Cents(0))
				if !d.Eligible {
					require.Zero(t, d.DiscountCents)
				}
			}
			require.Equal(t, applied.DiscountTotalCents, sum)
			require.LessOrEqual(t, applied.DiscountTotalCents, EligibleSubtotal(tc.lines, tc.promo.Scope))
		})
	}
}

func TestAllocateRemainderOnLastEligibleLine(t *testing.T) {
	p := Promotion{ID: "p1", Code: "THIRD", Kind: KindPercent, Value: 33}
	applied := Allocate(p, []pricing.PricedLine{line("a", 1, ""), line("b", 1, ""), line("c", 1, "")})
	require.EqualValues(t, 1, applied.DiscountTotalCents)
	require.EqualValues(t, 0, applied.DiscountFor("a"))
	require.EqualValues(t, 0, applied.DiscountFor("b"))
	require.EqualValues(t, 1, applied.DiscountFor("c"))
	require.Equal(t, map[string]money.Cents{"c": 1}, applied.LineDiscounts())

	scoped := Promotion{Kind: KindFixed, Value: 100, Scope: Scope{CategoryIDs: []string{"x"}}}
	applied = Allocate(scoped, []pricing.PricedLine{line("a", 100, "x"), line("b", 200, "x"), line("c", 50, "y")})
	require.EqualValues(t, 33, applied.DiscountFor("a"))
	require.EqualValues(t, 67, applied.DiscountFor("b"))
	require.EqualValues(t, 0, applied.DiscountFor("c"))
	require.False(t, applied.DiscountByLine[2].Eligible)
}
