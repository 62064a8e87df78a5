package invoice

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// Handler exposes invoice issuance.
type Handler struct {
	Issuer *Issuer
}

// Issue ensures the order identified by {id} has an invoice number.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	if h.Issuer == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice issuer not configured", nil)
		return
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "id"))
	issued, err := h.Issuer.Ensure(r.Context(), tenantID, orderID)
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	if issued == nil {
		common.JSON(w, http.StatusOK, map[string]any{"data": nil, "enabled": false})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": issued, "enabled": true})
}

// ToAppError maps issuance errors onto HTTP-facing application errors.
func ToAppError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderNotFound):
		return common.NewAppError("NOT_FOUND", "order not found", http.StatusNotFound, err)
	case errors.Is(err, ErrTransient):
		return common.NewAppError("INVOICE_BUSY", "invoice numbering is busy, retry later", http.StatusServiceUnavailable, err)
	case errors.Is(err, ErrNumberTaken):
		return common.NewAppError("INVOICE_SEQUENCE_EXHAUSTED", "invoice numbers ahead of the counter are already assigned", http.StatusConflict, err)
	case common.IsAppError(err):
		return err
	}
	return common.NewAppError("INTERNAL", "invoice issuance failed", http.StatusInternalServerError, err)
}
