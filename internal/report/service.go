package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/obs"
	"github.com/noah-isme/resto-order-engine/internal/order"
	"github.com/noah-isme/resto-order-engine/internal/reconcile"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// OrderLister pages through stored orders.
type OrderLister interface {
	ListOrders(ctx context.Context, tenantID string, f order.ListFilter) ([]order.Record, int64, error)
}

// Service aggregates reconciled order totals, caching results in redis.
type Service struct {
	Orders          OrderLister
	R               *redis.Client
	TTL             time.Duration
	DefaultRange    int
	DefaultCurrency string
	PageSize        int
	Now             func() time.Time

	group singleflight.Group
}

// CurrencyTotals sums reconciled totals of one currency. Amounts in different currencies are
// never added together.
type CurrencyTotals struct {
	Currency         string      `json:"currency"`
	Orders           int         `json:"orders"`
	SubtotalCents    money.Cents `json:"subtotalCents"`
	DeliveryFeeCents money.Cents `json:"deliveryFeeCents"`
	TipCents         money.Cents `json:"tipCents"`
	DiscountCents    money.Cents `json:"discountCents"`
	TaxCents         money.Cents `json:"taxCents"`
	GrandTotalCents  money.Cents `json:"grandTotalCents"`
}

// DayTotals is the revenue of one UTC day in one currency.
type DayTotals struct {
	Day             string      `json:"day"`
	Currency        string      `json:"currency"`
	Orders          int         `json:"orders"`
	GrandTotalCents money.Cents `json:"grandTotalCents"`
}

// Revenue is the report over [From, To].
type Revenue struct {
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Orders     int              `json:"orders"`
	ByCurrency []CurrencyTotals `json:"byCurrency"`
	ByDay      []DayTotals      `json:"byDay"`
	// ByShape counts which stored layout each order was reconciled from.
	ByShape    map[string]int `json:"byShape"`
	Unreadable int            `json:"unreadable"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// OpenEnd is the upper bound used when a report names no end. It is now rounded up to the
// next cache window (TTL, or one minute without a cache) so repeated open-ended requests share
// one cache entry.
func (s *Service) OpenEnd() time.Time {
	window := time.Minute
	if s != nil && s.TTL > 0 {
		window = s.TTL
	}
	now := s.now().UTC()
	end := now.Truncate(window)
	if end.Before(now) {
		end = end.Add(window)
	}
	return end
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Revenue reconciles every order of the tenant created within the range.
func (s *Service) Revenue(ctx context.Context, tenantID string, from, to time.Time) (Revenue, error) {
	if s == nil || s.Orders == nil {
		return Revenue{}, fmt.Errorf("report service not configured")
	}
	from, to = from.UTC(), to.UTC()
	key := tenant.PrefixKey(tenantID, cacheKey("report", "revenue", from.Unix(), to.Unix()))
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		rev, err := s.aggregate(ctx, tenantID, from, to)
		if err != nil {
			return Revenue{}, err
		}
		s.store(ctx, key, rev)
		return rev, nil
	})
	if err != nil {
		return Revenue{}, err
	}
	return v.(Revenue), nil
}

func (s *Service) aggregate(ctx context.Context, tenantID string, from, to time.Time) (Revenue, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	rev := Revenue{From: from, To: to, ByShape: map[string]int{}}
	currencies := map[string]*CurrencyTotals{}
	days := map[[2]string]*DayTotals{}
	for offset := 0; ; offset += pageSize {
		recs, _, err := s.Orders.ListOrders(ctx, tenantID, order.ListFilter{From: from, To: to, Limit: pageSize, Offset: offset})
		if err != nil {
			return Revenue{}, fmt.Errorf("list orders: %w", err)
		}
		for _, rec := range recs {
			totals, shape, err := reconcile.ReconcileJSON(rec.Doc, s.DefaultCurrency)
			if err != nil {
				rev.Unreadable++
				obs.CountOutcome(obs.LegacyShapeTotal, "unreadable")
				continue
			}
			rev.Orders++
			rev.ByShape[shape.Name()]++
			obs.CountOutcome(obs.LegacyShapeTotal, shape.Name())

			c := currencies[totals.Currency]
			if c == nil {
				c = &CurrencyTotals{Currency: totals.Currency}
				currencies[totals.Currency] = c
			}
			c.Orders++
			c.SubtotalCents += totals.SubtotalCents
			c.DeliveryFeeCents += totals.DeliveryFeeCents
			c.TipCents += totals.TipCents
			c.DiscountCents += totals.DiscountCents
			c.TaxCents += totals.TaxCents
			c.GrandTotalCents += totals.GrandTotalCents

			dayKey := [2]string{rec.CreatedAt.UTC().Format(time.DateOnly), totals.Currency}
			d := days[dayKey]
			if d == nil {
				d = &DayTotals{Day: dayKey[0], Currency: dayKey[1]}
				days[dayKey] = d
			}
			d.Orders++
			d.GrandTotalCents += totals.GrandTotalCents
		}
		if len(recs) < pageSize {
			break
		}
	}
	rev.ByCurrency = make([]CurrencyTotals, 0, len(currencies))
	for _, c := range currencies {
		rev.ByCurrency = append(rev.ByCurrency, *c)
	}
	sort.Slice(rev.ByCurrency, func(i, j int) bool { return rev.ByCurrency[i].Currency < rev.ByCurrency[j].Currency })
	rev.ByDay = make([]DayTotals, 0, len(days))
	for _, d := range days {
		rev.ByDay = append(rev.ByDay, *d)
	}
	sort.Slice(rev.ByDay, func(i, j int) bool {
		if rev.ByDay[i].Day != rev.ByDay[j].Day {
			return rev.ByDay[i].Day < rev.ByDay[j].Day
		}
		return rev.ByDay[i].Currency < rev.ByDay[j].Currency
	})
	return rev, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (Revenue, bool) {
	if s.R == nil || s.TTL <= 0 {
		return Revenue{}, false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return Revenue{}, false
	}
	var rev Revenue
	if err := json.Unmarshal(data, &rev); err != nil {
		return Revenue{}, false
	}
	return rev, true
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
