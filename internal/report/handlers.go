package report

import (
	"net/http"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/order"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// Handler exposes report endpoints.
type Handler struct {
	Svc *Service
}

// Revenue returns reconciled revenue for ?from&to, or the last ?days (default 30) days.
func (h *Handler) Revenue(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORTS_NOT_CONFIGURED", "report service not configured", nil)
		return
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return
	}
	from, to, err := order.ParseRange(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if to.IsZero() {
		to = h.Svc.OpenEnd()
	}
	if from.IsZero() {
		days := h.Svc.DefaultRange
		if days <= 0 {
			days = 30
		}
		if parsed := common.QueryInt(r, "days", days); parsed > 0 {
			days = parsed
		}
		from = to.AddDate(0, 0, -days)
	}
	if !from.Before(to) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be before to", nil)
		return
	}
	rev, err := h.Svc.Revenue(r.Context(), tenantID, from, to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORT_ERROR", "failed to build revenue report", nil)
		return
	}
	common.Data(w, http.StatusOK, rev)
}
