package promotion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// Catalog reads and writes promotion definitions.
type Catalog interface {
	GetPromotionByCode(ctx context.Context, tenantID, code string) (Promotion, error)
	SavePromotion(ctx context.Context, tenantID string, p Promotion) error
}

// AdminHandler manages promotion definitions.
type AdminHandler struct {
	Store  Catalog
	Logger zerolog.Logger
}

type saveRequest struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"type" validate:"required,oneof=percent fixed"`
	Value       int64       `json:"value" validate:"min=0"`
	Active      bool        `json:"active"`
	Scope       Scope       `json:"scope"`
	Constraints Constraints `json:"constraints"`
	StartAt     *time.Time  `json:"startAt"`
	EndAt       *time.Time  `json:"endAt"`
}

// Get returns the promotion stored under {code}.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetPromotionByCode(r.Context(), tenantID, NormalizeCode(chi.URLParam(r, "code")))
	if errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "promotion not found", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load promotion", nil)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// Put creates or replaces the promotion stored under {code}. The redemption count is kept.
func (h *AdminHandler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	code := NormalizeCode(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "promotion code is required", nil)
		return
	}
	var req saveRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "endAt must not be before startAt",
			[]common.FieldError{{Field: "endAt", Rule: "gtefield"}})
		return
	}
	if req.Constraints.MinTargetSubtotalCents < 0 {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "minimum subtotal must not be negative",
			[]common.FieldError{{Field: "constraints.minTargetSubtotalCents", Rule: "min"}})
		return
	}

	existing, err := h.Store.GetPromotionByCode(r.Context(), tenantID, code)
	switch {
	case err == nil:
		req.ID = existing.ID
	case errors.Is(err, ErrNotFound):
		if strings.TrimSpace(req.ID) == "" {
			req.ID = uuid.NewString()
		}
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load promotion", nil)
		return
	}

	p := Promotion{
		ID:            req.ID,
		Code:          code,
		Kind:          req.Kind,
		Value:         req.Value,
		Active:        req.Active,
		Scope:         req.Scope,
		Constraints:   req.Constraints,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
		TimesRedeemed: existing.TimesRedeemed,
	}
	if p.Kind == KindPercent && p.Value > 100 {
		p.Value = 100
	}
	if err := h.Store.SavePromotion(r.Context(), tenantID, p); err != nil {
		h.Logger.Error().Err(err).Str("tenant_id", tenantID).Str("code", code).Msg("save promotion failed")
		common.JSONError(w, http.StatusConflict, "PROMOTION_SAVE_FAILED", err.Error(), nil)
		return
	}
	h.Logger.Info().Str("tenant_id", tenantID).Str("code", code).Str("type", string(p.Kind)).
		Str("value", describeValue(p)).Msg("promotion saved")
	common.Data(w, http.StatusOK, p)
}

func (h *AdminHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion store unavailable", nil)
		return "", false
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return "", false
	}
	return tenantID, true
}

func describeValue(p Promotion) string {
	if p.Kind == KindPercent {
		return fmt.Sprintf("%d%%", p.Value)
	}
	return money.Format(p.Value)
}
