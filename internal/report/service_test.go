package report_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/resto-order-engine/internal/order"
	"github.com/noah-isme/resto-order-engine/internal/report"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

type stubOrders struct {
	mu    sync.Mutex
	recs  []order.Record
	calls int
}

func (s *stubOrders) ListOrders(_ context.Context, _ string, f order.ListFilter) ([]order.Record, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if f.Offset >= len(s.recs) {
		return nil, int64(len(s.recs)), nil
	}
	end := min(f.Offset+f.Limit, len(s.recs))
	return s.recs[f.Offset:end], int64(len(s.recs)), nil
}

var day = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func rec(id, doc string, at time.Time) order.Record {
	return order.Record{ID: id, TenantID: "t1", Doc: json.RawMessage(doc), CreatedAt: at}
}

func mixedOrders() *stubOrders {
	return &stubOrders{recs: []order.Record{
		rec("a", `{"totals":{"subtotal":11.5,"deliveryFee":0,"tip":2},"orderTotal":13.5}`, day),
		rec("b", `{"amounts":{"subtotal":11.5,"tip":2,"total":"13.50"}}`, day),
		rec("c", `{"totals":{"totalCents":1150},"amounts":{"tip":2}}`, day.Add(24*time.Hour)),
		rec("d", `{"tip":2,"items":[{"price":"5.00","quantity":1,"addons":[{"price":1.5}]},{"basePriceCents":500}]}`, day.Add(24*time.Hour)),
		rec("e", `{"currency":"IDR","amounts":{"total":1000}}`, day),
		rec("f", `not json`, day),
	}}
}

func TestRevenueReconcilesEveryShape(t *testing.T) {
	svc := &report.Service{Orders: mixedOrders(), DefaultCurrency: "USD", PageSize: 4}
	rev, err := svc.Revenue(context.Background(), "t1", day.Add(-time.Hour), day.Add(48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 5, rev.Orders)
	require.Equal(t, 1, rev.Unreadable)
	require.Equal(t, map[string]int{"totals": 1, "amounts": 2, "totals_cents": 1, "lines": 1}, rev.ByShape)
	require.Len(t, rev.ByCurrency, 2)
	require.Equal(t, "IDR", rev.ByCurrency[0].Currency)
	require.EqualValues(t, 100000, rev.ByCurrency[0].GrandTotalCents)
	require.Equal(t, "USD", rev.ByCurrency[1].Currency)
	require.EqualValues(t, 4*1350, rev.ByCurrency[1].GrandTotalCents)
	require.Len(t, rev.ByDay, 3)
	require.Equal(t, "2026-06-02", rev.ByDay[2].Day)
	require.EqualValues(t, 2700, rev.ByDay[2].GrandTotalCents)
}

func TestRevenueCached(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	orders := mixedOrders()
	svc := &report.Service{Orders: orders, R: rdb, TTL: time.Minute, PageSize: 100}

	from, to := day.Add(-time.Hour), day.Add(time.Hour)
	first, err := svc.Revenue(context.Background(), "t1", from, to)
	require.NoError(t, err)
	second, err := svc.Revenue(context.Background(), "t1", from, to)
	require.NoError(t, err)
	require.Equal(t, 1, orders.calls)
	require.Equal(t, first.ByCurrency, second.ByCurrency)

	_, err = svc.Revenue(context.Background(), "t2", from, to)
	require.NoError(t, err)
	require.Equal(t, 2, orders.calls, "cache keys are per tenant")
}

func TestRevenueHandler(t *testing.T) {
	h := &report.Handler{Svc: &report.Service{Orders: mixedOrders(), Now: func() time.Time { return day.Add(72 * time.Hour) }}}
	call := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req = req.WithContext(tenant.WithTenant(req.Context(), "t1"))
		res := httptest.NewRecorder()
		h.Revenue(res, req)
		return res
	}
	res := call("/reports/revenue?days=7")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"orders":5`)

	require.Equal(t, http.StatusBadRequest, call("/reports/revenue?from=nope").Code)
	require.Equal(t, http.StatusOK, call("/reports/revenue?from=2026-06-01&to=2026-06-01").Code)
}

func TestOpenEndedReportsShareCacheWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	orders := mixedOrders()
	now := day.Add(72*time.Hour + 12*time.Second)
	svc := &report.Service{Orders: orders, R: rdb, TTL: 5 * time.Minute, Now: func() time.Time { return now }}
	h := &report.Handler{Svc: svc}
	call := func() int {
		req := httptest.NewRequest(http.MethodGet, "/reports/revenue?days=7", nil)
		req = req.WithContext(tenant.WithTenant(req.Context(), "t1"))
		res := httptest.NewRecorder()
		h.Revenue(res, req)
		return res.Code
	}

	require.Equal(t, day.Add(72*time.Hour+5*time.Minute), svc.OpenEnd())
	require.Equal(t, http.StatusOK, call())
	now = now.Add(2 * time.Minute)
	require.Equal(t, http.StatusOK, call())
	require.Equal(t, 1, orders.calls, "second request within the window is served from cache")

	now = now.Add(5 * time.Minute)
	require.Equal(t, http.StatusOK, call())
	require.Equal(t, 2, orders.calls)

	exact := &report.Service{Now: func() time.Time { return day }}
	require.Equal(t, day, exact.OpenEnd())
}
