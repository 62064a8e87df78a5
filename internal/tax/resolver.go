package tax

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/obs"
)

// ProfileSource loads the active tax profile for a tenant.
type ProfileSource interface {
	ActiveProfile(ctx context.Context, tenantID string) (Profile, error)
}

// Resolver returns a tenant's profile, substituting the zero-tax profile when none exists.
type Resolver struct {
	Source          ProfileSource
	DefaultCurrency string
	Logger          *zerolog.Logger
}

// Profile never returns ErrProfileMissing; other source failures are surfaced.
func (r *Resolver) Profile(ctx context.Context, tenantID string) (Profile, error) {
	if r == nil || r.Source == nil {
		return ZeroProfile(r.currency()), nil
	}
	p, err := r.Source.ActiveProfile(ctx, tenantID)
	if errors.Is(err, ErrProfileMissing) {
		if obs.TaxProfileFallbackTotal != nil {
			obs.TaxProfileFallbackTotal.Inc()
		}
		if r.Logger != nil {
			r.Logger.Debug().Str("tenant_id", tenantID).Msg("no tax profile, using zero-tax fallback")
		}
		return ZeroProfile(r.currency()), nil
	}
	if err != nil {
		return Profile{}, err
	}
	if p.Currency == "" {
		p.Currency = r.currency()
	}
	return p, nil
}

func (r *Resolver) currency() string {
	if r != nil && r.DefaultCurrency != "" {
		return r.DefaultCurrency
	}
	return "USD"
}
