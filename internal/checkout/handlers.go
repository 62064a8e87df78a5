package checkout

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
	"github.com/noah-isme/resto-order-engine/internal/promotion"
	"github.com/noah-isme/resto-order-engine/internal/tax"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

type Handler struct {
	Svc *Service
}

type customerInput struct {
	TaxID string `json:"taxId"`
	Name  string `json:"name"`
}

// Request is the wire form of a checkout. Fees accept cents or decimal amounts.
type Request struct {
	OrderType        string              `json:"orderType" validate:"required"`
	CustomerID       string              `json:"customerId"`
	PromotionCode    string              `json:"promotionCode"`
	Lines            []pricing.LineInput `json:"lines" validate:"required,min=1,dive"`
	DeliveryFeeCents *int64              `json:"deliveryFeeCents" validate:"omitempty,min=0"`
	DeliveryFee      *decimal.Decimal    `json:"deliveryFee"`
	DeliveryTaxable  *bool               `json:"deliveryTaxable"`
	TipCents         *int64              `json:"tipCents" validate:"omitempty,min=0"`
	Tip              *decimal.Decimal    `json:"tip"`
	Customer         customerInput       `json:"customer"`
}

// Input converts the request into cents.
func (req Request) Input() Input {
	return Input{
		OrderType:        req.OrderType,
		CustomerID:       req.CustomerID,
		PromotionCode:    req.PromotionCode,
		Lines:            pricing.CartLines(req.Lines),
		DeliveryFeeCents: amount(req.DeliveryFeeCents, req.DeliveryFee),
		DeliveryTaxable:  req.DeliveryTaxable,
		TipCents:         amount(req.TipCents, req.Tip),
		Customer:         tax.Customer{TaxID: req.Customer.TaxID, Name: req.Customer.Name},
	}
}

func amount(cents *int64, value *decimal.Decimal) money.Cents {
	if cents != nil {
		return *cents
	}
	if value != nil {
		return money.FromDecimal(*value)
	}
	return 0
}

// Quote previews the priced order.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	tenantID, in, ok := h.decode(w, r)
	if !ok {
		return
	}
	q, err := h.Svc.Quote(r.Context(), tenantID, in)
	if err != nil {
		common.WriteError(w, promotion.ToAppError(err))
		return
	}
	common.Data(w, http.StatusOK, q)
}

// Place persists the order.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	tenantID, in, ok := h.decode(w, r)
	if !ok {
		return
	}
	placed, err := h.Svc.Place(r.Context(), tenantID, in)
	if err != nil {
		common.WriteError(w, promotion.ToAppError(err))
		return
	}
	common.Data(w, http.StatusCreated, placed)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (string, Input, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return "", Input{}, false
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return "", Input{}, false
	}
	var req Request
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return "", Input{}, false
	}
	in := req.Input()
	if in.CustomerID == "" {
		in.CustomerID, _ = common.CustomerID(r.Context())
	}
	return tenantID, in, true
}
