package promotion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

func serve(t *testing.T, h http.HandlerFunc, body string, tenantID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if tenantID != "" {
		req = req.WithContext(tenant.WithTenant(req.Context(), tenantID))
	}
	req.Header.Set(common.CustomerHeader, "alice")
	rec := httptest.NewRecorder()
	common.CustomerMiddleware(h).ServeHTTP(rec, req)
	return rec
}

func TestValidateHandler(t *testing.T) {
	store := newMemStore(
		Promotion{ID: "p1", Code: "TENOFF", Kind: KindFixed, Value: 1000, Active: true},
		Promotion{ID: "p2", Code: "DINEIN", Kind: KindFixed, Value: 100, Active: true, Constraints: Constraints{AllowedOrderTypes: []string{"dine_in"}}},
	)
	h := &Handler{Svc: &Service{Store: store, Now: fixedNow}}

	rec := serve(t, h.Validate, `{"code":"tenoff","orderType":"delivery","lines":[{"menuItemId":"a","basePrice":"4.00","quantity":1},{"menuItemId":"b","basePriceCents":200,"quantity":1}]}`, "t1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data AppliedPromotion `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 600, resp.Data.DiscountTotalCents)
	require.EqualValues(t, 400, resp.Data.DiscountFor("0"))
	require.EqualValues(t, 200, resp.Data.DiscountFor("1"))

	rec = serve(t, h.Validate, `{"code":"DINEIN","orderType":"delivery","lines":[{"menuItemId":"a","basePriceCents":200,"quantity":1}]}`, "t1")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"reason":"order_type_not_allowed"`)

	rec = serve(t, h.Validate, `{"code":"DINEIN","lines":[{"menuItemId":"a","basePriceCents":200,"quantity":0}]}`, "t1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h.Validate, `{"code":"DINEIN","lines":[{"menuItemId":"a","basePriceCents":200,"quantity":1}]}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "TENANT_REQUIRED")
}

func TestConsumeHandlerUsesCustomerHeader(t *testing.T) {
	store := newMemStore(Promotion{ID: "p1", Code: "ONCE", Active: true, Constraints: Constraints{PerUserLimit: int64Ptr(1)}})
	h := &Handler{Svc: &Service{Store: store, Now: fixedNow}}

	rec := serve(t, h.Consume, `{"promoId":"p1","code":"ONCE","orderId":"o1"}`, "t1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "alice", store.redemptions["p1/o1"].CustomerID)

	rec = serve(t, h.Consume, `{"promoId":"p1","code":"ONCE","orderId":"o1"}`, "t1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"alreadyConsumed":true`)

	rec = serve(t, h.Consume, `{"promoId":"p1","code":"ONCE","orderId":"o2"}`, "t1")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "limit_reached")

	rec = serve(t, h.Consume, `{"code":"ONCE"}`, "t1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
}
