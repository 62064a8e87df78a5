package tax

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// ProfileStore persists versioned tax profiles.
type ProfileStore interface {
	ProfileSource
	ActivateProfile(ctx context.Context, tenantID string, p Profile) error
}

// AdminHandler reads and replaces a tenant's tax profile.
type AdminHandler struct {
	Store           ProfileStore
	DefaultCurrency string
	Logger          zerolog.Logger
}

// Get returns the active profile. Tenants without one see the zero-tax fallback.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	resolver := Resolver{Source: h.Store, DefaultCurrency: h.DefaultCurrency}
	p, err := resolver.Profile(r.Context(), tenantID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load tax profile", nil)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// Put activates a new profile version; the previous one is kept for audit.
func (h *AdminHandler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var p Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	p.Rounding = string(money.ParseRoundingMode(p.Rounding))
	if p.Delivery.Mode == "" {
		p.Delivery.Mode = DeliveryAsLine
	}
	if err := p.Validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_TAX_PROFILE", err.Error(), nil)
		return
	}
	if err := h.Store.ActivateProfile(r.Context(), tenantID, p); err != nil {
		h.Logger.Error().Err(err).Str("tenant_id", tenantID).Msg("activate tax profile failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to save tax profile", nil)
		return
	}
	h.Logger.Info().Str("tenant_id", tenantID).Int("rates", len(p.Rates)).Bool("inclusive", p.PricesIncludeTax).Msg("tax profile activated")
	common.Data(w, http.StatusOK, p)
}

func (h *AdminHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax profile store unavailable", nil)
		return "", false
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return "", false
	}
	return tenantID, true
}
