package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/resto-order-engine/internal/tax"
)

// ActiveProfile returns the tenant's active tax profile or tax.ErrProfileMissing.
func (s *Store) ActiveProfile(ctx context.Context, tenantID string) (tax.Profile, error) {
	var raw []byte
	err := s.Pool.QueryRow(ctx, `SELECT profile FROM tax_profiles WHERE tenant_id = $1 AND active`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return tax.Profile{}, tax.ErrProfileMissing
	}
	if err != nil {
		return tax.Profile{}, err
	}
	var p tax.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return tax.Profile{}, fmt.Errorf("decode tax profile: %w", err)
	}
	return p, nil
}

// ActivateProfile stores p as a new version and makes it the active profile. Earlier versions
// are kept so snapshots can be traced to the profile they were computed from.
func (s *Store) ActivateProfile(ctx context.Context, tenantID string, p tax.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE tax_profiles SET active = false WHERE tenant_id = $1 AND active`, tenantID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO tax_profiles (tenant_id, profile, active) VALUES ($1, $2, true)`, tenantID, raw)
		return err
	})
}
