package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/obs"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
)

// ErrNotFound is returned by stores when no promotion matches.
var ErrNotFound = errors.New("promotion not found")

// Store captures the persistence required by the promotion service.
type Store interface {
	GetPromotionByCode(ctx context.Context, tenantID, code string) (Promotion, error)
	CountRedemptionsByCustomer(ctx context.Context, tenantID, promoID, customerID string) (int64, error)
	InTx(ctx context.Context, tenantID string, fn func(ctx context.Context, tx ConsumeTx) error) error
}

// ConsumeTx is the transactional view used to record a redemption.
type ConsumeTx interface {
	// LockPromotion loads the promotion and holds it until the transaction ends.
	LockPromotion(ctx context.Context, promoID string) (Promotion, error)
	RedemptionExists(ctx context.Context, promoID, orderID string) (bool, error)
	CountCustomerRedemptions(ctx context.Context, promoID, customerID string) (int64, error)
	InsertRedemption(ctx context.Context, r Redemption) error
	IncrementRedeemed(ctx context.Context, promoID string) (int64, error)
}

// Request is a read-only validation of a code against a priced cart.
type Request struct {
	Code       string
	OrderType  string
	CustomerID string
	Lines      []pricing.PricedLine
}

// Redemption is one confirmed use of a promotion by an order.
type Redemption struct {
	PromoID       string    `json:"promoId"`
	Code          string    `json:"code"`
	OrderID       string    `json:"orderId"`
	CustomerID    string    `json:"customerId,omitempty"`
	DiscountCents int64     `json:"discountCents"`
	RedeemedAt    time.Time `json:"redeemedAt"`
}

// ConsumeResult reports the outcome of Consume.
type ConsumeResult struct {
	AlreadyConsumed bool  `json:"alreadyConsumed"`
	TimesRedeemed   int64 `json:"timesRedeemed"`
}

// Service validates promotion codes and records their consumption.
type Service struct {
	Store  Store
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Validate evaluates the code for the cart without mutating any state.
func (s *Service) Validate(ctx context.Context, tenantID string, req Request) (AppliedPromotion, error) {
	if s == nil || s.Store == nil {
		return AppliedPromotion{}, errors.New("promotion service not configured")
	}
	applied, err := s.validate(ctx, tenantID, req)
	if reason, ok := ReasonOf(err); ok {
		obs.CountOutcome(obs.PromotionValidationsTotal, string(reason))
	} else if err == nil {
		obs.CountOutcome(obs.PromotionValidationsTotal, "accepted")
	}
	return applied, err
}

func (s *Service) validate(ctx context.Context, tenantID string, req Request) (AppliedPromotion, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return AppliedPromotion{}, Reject(ReasonNotFound)
	}
	promo, err := s.Store.GetPromotionByCode(ctx, tenantID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AppliedPromotion{}, Reject(ReasonNotFound)
		}
		return AppliedPromotion{}, fmt.Errorf("load promotion: %w", err)
	}
	evalCtx := Context{Now: s.now(), OrderType: req.OrderType, Lines: req.Lines}
	customerID := strings.TrimSpace(req.CustomerID)
	if promo.Constraints.PerUserLimit != nil && customerID != "" {
		used, err := s.Store.CountRedemptionsByCustomer(ctx, tenantID, promo.ID, customerID)
		if err != nil {
			return AppliedPromotion{}, fmt.Errorf("count redemptions: %w", err)
		}
		evalCtx.CustomerRedemptions = &used
	}
	return promo.Evaluate(evalCtx)
}

// Consume records the redemption for orderID exactly once. Limits are re-checked inside the
// transaction so two checkouts that both validated a nearly exhausted promotion cannot both
// consume it. Repeated calls for the same order report AlreadyConsumed without counting again.
func (s *Service) Consume(ctx context.Context, tenantID string, r Redemption) (ConsumeResult, error) {
	if s == nil || s.Store == nil {
		return ConsumeResult{}, errors.New("promotion service not configured")
	}
	if strings.TrimSpace(r.PromoID) == "" || strings.TrimSpace(r.OrderID) == "" {
		return ConsumeResult{}, errors.New("promoId and orderId are required")
	}
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = s.now().UTC()
	}
	var result ConsumeResult
	err := s.Store.InTx(ctx, tenantID, func(ctx context.Context, tx ConsumeTx) error {
		result = ConsumeResult{}
		promo, err := tx.LockPromotion(ctx, r.PromoID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Reject(ReasonNotFound)
			}
			return err
		}
		if r.Code != "" && NormalizeCode(r.Code) != promo.Code {
			return Reject(ReasonNotFound)
		}
		exists, err := tx.RedemptionExists(ctx, promo.ID, r.OrderID)
		if err != nil {
			return err
		}
		if exists {
			result = ConsumeResult{AlreadyConsumed: true, TimesRedeemed: promo.TimesRedeemed}
			return nil
		}
		if limit := promo.Constraints.GlobalLimit; limit != nil && *limit >= 0 && promo.TimesRedeemed >= *limit {
			return Reject(ReasonLimitReached)
		}
		if limit := promo.Constraints.PerUserLimit; limit != nil && *limit >= 0 && r.CustomerID != "" {
			used, err := tx.CountCustomerRedemptions(ctx, promo.ID, r.CustomerID)
			if err != nil {
				return err
			}
			if used >= *limit {
				return Reject(ReasonLimitReached)
			}
		}
		r.Code = promo.Code
		if err := tx.InsertRedemption(ctx, r); err != nil {
			return err
		}
		redeemed, err := tx.IncrementRedeemed(ctx, promo.ID)
		if err != nil {
			return err
		}
		result.TimesRedeemed = redeemed
		return nil
	})
	switch reason, rejected := ReasonOf(err); {
	case rejected:
		obs.CountOutcome(obs.PromotionConsumptionsTotal, string(reason))
	case err != nil:
		obs.CountOutcome(obs.PromotionConsumptionsTotal, "error")
	case result.AlreadyConsumed:
		obs.CountOutcome(obs.PromotionConsumptionsTotal, "duplicate")
	default:
		obs.CountOutcome(obs.PromotionConsumptionsTotal, "consumed")
	}
	if err != nil {
		s.logger().Warn().Err(err).Str("tenant_id", tenantID).Str("promo_id", r.PromoID).Str("order_id", r.OrderID).Msg("promotion consumption refused")
		return ConsumeResult{}, err
	}
	return result, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *zerolog.Logger {
	if s != nil && s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
