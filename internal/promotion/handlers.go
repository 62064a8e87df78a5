package promotion

import (
	"errors"
	"net/http"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// Handler exposes promotion validation and consumption endpoints.
type Handler struct {
	Svc *Service
}

type validateRequest struct {
	Code       string              `json:"code" validate:"required"`
	OrderType  string              `json:"orderType"`
	CustomerID string              `json:"customerId"`
	Lines      []pricing.LineInput `json:"lines" validate:"required,min=1,dive"`
}

type consumeRequest struct {
	PromoID       string `json:"promoId" validate:"required"`
	Code          string `json:"code"`
	OrderID       string `json:"orderId" validate:"required"`
	CustomerID    string `json:"customerId"`
	DiscountCents int64  `json:"discountCents" validate:"min=0"`
}

// Validate checks a code against a cart and returns the allocation preview.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion service not configured", nil)
		return
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return
	}
	var req validateRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	lines, err := pricing.PriceAll(pricing.CartLines(req.Lines))
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	customerID := req.CustomerID
	if customerID == "" {
		customerID, _ = common.CustomerID(r.Context())
	}
	applied, err := h.Svc.Validate(r.Context(), tenantID, Request{
		Code:       req.Code,
		OrderType:  req.OrderType,
		CustomerID: customerID,
		Lines:      lines,
	})
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	common.Data(w, http.StatusOK, applied)
}

// Consume records a redemption for an order exactly once.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion service not configured", nil)
		return
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return
	}
	var req consumeRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	customerID := req.CustomerID
	if customerID == "" {
		customerID, _ = common.CustomerID(r.Context())
	}
	res, err := h.Svc.Consume(r.Context(), tenantID, Redemption{
		PromoID:       req.PromoID,
		Code:          req.Code,
		OrderID:       req.OrderID,
		CustomerID:    customerID,
		DiscountCents: req.DiscountCents,
	})
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	common.Data(w, http.StatusOK, res)
}

// ToAppError maps pricing and promotion errors onto HTTP-facing application errors.
func ToAppError(err error) error {
	if err == nil {
		return nil
	}
	if reason, ok := ReasonOf(err); ok {
		return common.NewAppError("PROMOTION_REJECTED", err.Error(), http.StatusUnprocessableEntity, err).
			WithDetails(map[string]any{"reason": reason})
	}
	var verr *pricing.ValidationError
	if errors.As(err, &verr) {
		return common.NewAppError("INVALID_LINE", verr.Error(), http.StatusBadRequest, err).
			WithDetails(map[string]any{"line": verr.Line, "field": verr.Field})
	}
	if common.IsAppError(err) {
		return err
	}
	return common.NewAppError("INTERNAL", "promotion processing failed", http.StatusInternalServerError, err)
}
