package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/resto-order-engine/internal/events"
	"github.com/noah-isme/resto-order-engine/internal/promotion"
)

const promotionColumns = `id, code, kind, value, active, scope, constraints, start_at, end_at, times_redeemed`

func scanPromotion(row pgx.Row) (promotion.Promotion, error) {
	var p promotion.Promotion
	var kind string
	var scope, constraints []byte
	if err := row.Scan(&p.ID, &p.Code, &kind, &p.Value, &p.Active, &scope, &constraints, &p.StartAt, &p.EndAt, &p.TimesRedeemed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promotion.Promotion{}, promotion.ErrNotFound
		}
		return promotion.Promotion{}, err
	}
	p.Kind = promotion.Kind(kind)
	if err := json.Unmarshal(scope, &p.Scope); err != nil {
		return promotion.Promotion{}, fmt.Errorf("decode promotion scope: %w", err)
	}
	if err := json.Unmarshal(constraints, &p.Constraints); err != nil {
		return promotion.Promotion{}, fmt.Errorf("decode promotion constraints: %w", err)
	}
	return p, nil
}

// GetPromotionByCode loads a promotion by its normalized code.
func (s *Store) GetPromotionByCode(ctx context.Context, tenantID, code string) (promotion.Promotion, error) {
	return scanPromotion(s.Pool.QueryRow(ctx,
		`SELECT `+promotionColumns+` FROM promotions WHERE tenant_id = $1 AND code = $2`, tenantID, code))
}

// CountRedemptionsByCustomer counts a customer's confirmed redemptions.
func (s *Store) CountRedemptionsByCustomer(ctx context.Context, tenantID, promoID, customerID string) (int64, error) {
	return countCustomerRedemptions(ctx, s.Pool, tenantID, promoID, customerID)
}

func countCustomerRedemptions(ctx context.Context, q querier, tenantID, promoID, customerID string) (int64, error) {
	var n int64
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM promotion_redemptions
		WHERE tenant_id = $1 AND promo_id = $2 AND customer_id = $3`, tenantID, promoID, customerID).Scan(&n)
	return n, err
}

// SavePromotion inserts or replaces a promotion definition. The redemption counter is preserved.
func (s *Store) SavePromotion(ctx context.Context, tenantID string, p promotion.Promotion) error {
	scope, err := json.Marshal(p.Scope)
	if err != nil {
		return err
	}
	constraints, err := json.Marshal(p.Constraints)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO promotions (tenant_id, id, code, kind, value, active, scope, constraints, start_at, end_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			code = EXCLUDED.code, kind = EXCLUDED.kind, value = EXCLUDED.value, active = EXCLUDED.active,
			scope = EXCLUDED.scope, constraints = EXCLUDED.constraints,
			start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at, updated_at = now()`,
		tenantID, p.ID, promotion.NormalizeCode(p.Code), string(p.Kind), p.Value, p.Active, scope, constraints, p.StartAt, p.EndAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("promotion code %q already in use: %w", p.Code, err)
	}
	return err
}

// InTx runs a consumption in a read-committed transaction; LockPromotion serializes
// concurrent consumers of the same promotion on its row lock.
func (s *Store) InTx(ctx context.Context, tenantID string, fn func(context.Context, promotion.ConsumeTx) error) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &consumeTx{tx: tx, tenantID: tenantID})
	})
}

type consumeTx struct {
	tx       pgx.Tx
	tenantID string
}

func (c *consumeTx) LockPromotion(ctx context.Context, promoID string) (promotion.Promotion, error) {
	return scanPromotion(c.tx.QueryRow(ctx,
		`SELECT `+promotionColumns+` FROM promotions WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, c.tenantID, promoID))
}

func (c *consumeTx) RedemptionExists(ctx context.Context, promoID, orderID string) (bool, error) {
	var exists bool
	err := c.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM promotion_redemptions WHERE tenant_id = $1 AND promo_id = $2 AND order_id = $3)`,
		c.tenantID, promoID, orderID).Scan(&exists)
	return exists, err
}

func (c *consumeTx) CountCustomerRedemptions(ctx context.Context, promoID, customerID string) (int64, error) {
	return countCustomerRedemptions(ctx, c.tx, c.tenantID, promoID, customerID)
}

func (c *consumeTx) InsertRedemption(ctx context.Context, r promotion.Redemption) error {
	redeemedAt := r.RedeemedAt
	if redeemedAt.IsZero() {
		redeemedAt = time.Now().UTC()
	}
	if _, err := c.tx.Exec(ctx, `
		INSERT INTO promotion_redemptions (tenant_id, promo_id, order_id, customer_id, discount_cents, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.tenantID, r.PromoID, r.OrderID, r.CustomerID, r.DiscountCents, redeemedAt); err != nil {
		return err
	}
	ev, err := events.New(c.tenantID, events.TopicPromotionConsumed, r.OrderID, r)
	if err != nil {
		return err
	}
	return insertEvents(ctx, c.tx, ev)
}

func (c *consumeTx) IncrementRedeemed(ctx context.Context, promoID string) (int64, error) {
	var n int64
	err := c.tx.QueryRow(ctx, `
		UPDATE promotions SET times_redeemed = times_redeemed + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING times_redeemed`, c.tenantID, promoID).Scan(&n)
	return n, err
}
