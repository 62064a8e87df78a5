package invoice

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

// ConfigStore reads and writes a tenant's numbering configuration.
type ConfigStore interface {
	ConfigSource
	PutInvoiceConfig(ctx context.Context, tenantID string, cfg Config) error
}

// ConfigHandler manages invoice numbering configuration.
type ConfigHandler struct {
	Store  ConfigStore
	Logger zerolog.Logger
}

type configRequest struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix" validate:"max=32"`
	Series  string `json:"series" validate:"max=32"`
	Suffix  string `json:"suffix" validate:"max=32"`
	Padding int    `json:"padding" validate:"min=0,max=18"`
}

// Get returns the tenant's configuration. Tenants never configured report enabled=false.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	cfg, err := h.Store.InvoiceConfig(r.Context(), tenantID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load invoice config", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": cfg, "preview": Format(cfg, 1)})
}

// Put replaces the configuration. Numbers already issued keep their format.
func (h *ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req configRequest
	if err := common.DecodeAndValidate(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	cfg := Config{
		Enabled: req.Enabled,
		Prefix:  strings.TrimSpace(req.Prefix),
		Series:  strings.TrimSpace(req.Series),
		Suffix:  strings.TrimSpace(req.Suffix),
		Padding: req.Padding,
	}
	if err := h.Store.PutInvoiceConfig(r.Context(), tenantID, cfg); err != nil {
		h.Logger.Error().Err(err).Str("tenant_id", tenantID).Msg("save invoice config failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to save invoice config", nil)
		return
	}
	h.Logger.Info().Str("tenant_id", tenantID).Bool("enabled", cfg.Enabled).Msg("invoice config updated")
	common.JSON(w, http.StatusOK, map[string]any{"data": cfg, "preview": Format(cfg, 1)})
}

func (h *ConfigHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice config store unavailable", nil)
		return "", false
	}
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return "", false
	}
	return tenantID, true
}
