package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/events"
	"github.com/noah-isme/resto-order-engine/internal/money"
	"github.com/noah-isme/resto-order-engine/internal/obs"
	"github.com/noah-isme/resto-order-engine/internal/order"
	"github.com/noah-isme/resto-order-engine/internal/pricing"
	"github.com/noah-isme/resto-order-engine/internal/promotion"
	"github.com/noah-isme/resto-order-engine/internal/reconcile"
	"github.com/noah-isme/resto-order-engine/internal/tax"
)

// PromotionValidator evaluates a code against priced lines without consuming it.
type PromotionValidator interface {
	Validate(ctx context.Context, tenantID string, req promotion.Request) (promotion.AppliedPromotion, error)
}

// ProfileLoader returns the tenant's active tax profile.
type ProfileLoader interface {
	Profile(ctx context.Context, tenantID string) (tax.Profile, error)
}

// Input is one checkout request in cents.
type Input struct {
	OrderType        string
	CustomerID       string
	PromotionCode    string
	Lines            []pricing.CartLine
	DeliveryFeeCents money.Cents
	DeliveryTaxable  *bool
	TipCents         money.Cents
	Customer         tax.Customer
}

// Quote is the priced result of the pipeline.
type Quote struct {
	Lines            []pricing.PricedLine        `json:"lines"`
	AppliedPromotion *promotion.AppliedPromotion `json:"appliedPromotion,omitempty"`
	TaxSnapshot      tax.Snapshot                `json:"taxSnapshot"`
	Totals           reconcile.OrderTotals       `json:"totals"`
}

// Placed is a persisted order.
type Placed struct {
	OrderID string `json:"orderId"`
	Quote
}

// Service runs Line Pricer -> promotion allocation -> tax snapshot, and persists placed orders.
type Service struct {
	Orders     order.Store
	Promotions PromotionValidator
	Profiles   ProfileLoader
	Queue      promotion.Enqueuer
	NewID      func() string
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// Quote prices the cart without persisting anything.
func (s *Service) Quote(ctx context.Context, tenantID string, in Input) (Quote, error) {
	if s == nil || s.Profiles == nil {
		return Quote{}, errors.New("checkout service not configured")
	}
	return s.quote(ctx, tenantID, in, s.now())
}

func (s *Service) quote(ctx context.Context, tenantID string, in Input, at time.Time) (Quote, error) {
	if len(in.Lines) == 0 {
		return Quote{}, invalid("lines", "at least one line is required")
	}
	if in.DeliveryFeeCents < 0 {
		return Quote{}, invalid("deliveryFeeCents", "must not be negative")
	}
	if in.TipCents < 0 {
		return Quote{}, invalid("tipCents", "must not be negative")
	}
	lines, err := pricing.PriceAll(in.Lines)
	if err != nil {
		return Quote{}, err
	}
	var q Quote
	q.Lines = lines
	var discounts map[string]money.Cents
	if strings.TrimSpace(in.PromotionCode) != "" {
		if s.Promotions == nil {
			return Quote{}, errors.New("promotion validator not configured")
		}
		applied, err := s.Promotions.Validate(ctx, tenantID, promotion.Request{
			Code:       in.PromotionCode,
			OrderType:  in.OrderType,
			CustomerID: in.CustomerID,
			Lines:      lines,
		})
		if err != nil {
			return Quote{}, err
		}
		q.AppliedPromotion = &applied
		discounts = applied.LineDiscounts()
	}
	profile, err := s.Profiles.Profile(ctx, tenantID)
	if err != nil {
		return Quote{}, fmt.Errorf("load tax profile: %w", err)
	}
	snap := tax.Compute(profile, tax.Input{
		Lines:            lines,
		LineDiscounts:    discounts,
		DeliveryFeeCents: in.DeliveryFeeCents,
		DeliveryTaxable:  in.DeliveryTaxable,
		Customer:         in.Customer,
		At:               at,
	})
	q.TaxSnapshot = snap
	q.Totals = Totals(lines, snap, in.DeliveryFeeCents, in.TipCents)
	return q, nil
}

// Totals derives the canonical order totals from a frozen snapshot. Delivery fees outside the
// snapshot and tips are added after tax.
func Totals(lines []pricing.PricedLine, snap tax.Snapshot, deliveryFee, tip money.Cents) reconcile.OrderTotals {
	grand := snap.Totals.GrandTotalCents + tip
	if snap.DeliveryMode == tax.DeliveryOutside {
		grand += deliveryFee
	}
	return reconcile.OrderTotals{
		SubtotalCents:    pricing.Subtotal(lines),
		DeliveryFeeCents: deliveryFee,
		TipCents:         tip,
		DiscountCents:    snap.DiscountCents,
		TaxCents:         snap.Totals.TaxCents,
		GrandTotalCents:  grand,
		Currency:         snap.Currency,
	}
}

// Place prices the cart, persists the order document with an order.placed outbox event and
// schedules promotion consumption. Consumption happens only after the order is durable.
func (s *Service) Place(ctx context.Context, tenantID string, in Input) (Placed, error) {
	if s == nil || s.Profiles == nil || s.Orders == nil {
		return Placed{}, errors.New("checkout service not configured")
	}
	at := s.now().UTC()
	q, err := s.quote(ctx, tenantID, in, at)
	if err != nil {
		return Placed{}, err
	}
	id := s.newID()
	doc := order.NewDocument(id, in.OrderType, in.CustomerID, q.Lines, q.Totals, q.TaxSnapshot, q.AppliedPromotion, at)
	raw, err := json.Marshal(doc)
	if err != nil {
		return Placed{}, fmt.Errorf("encode order document: %w", err)
	}
	placedEvent, err := events.New(tenantID, events.TopicOrderPlaced, id, map[string]any{
		"orderId":         id,
		"orderType":       in.OrderType,
		"currency":        q.Totals.Currency,
		"grandTotalCents": q.Totals.GrandTotalCents,
		"promotionCode":   doc.PromotionCode,
	})
	if err != nil {
		return Placed{}, err
	}
	rec := order.Record{
		ID:         id,
		TenantID:   tenantID,
		OrderType:  in.OrderType,
		CustomerID: in.CustomerID,
		Source:     order.SourceCheckout,
		Doc:        raw,
		CreatedAt:  at,
	}
	if err := s.Orders.CreateOrder(ctx, rec, placedEvent); err != nil {
		return Placed{}, fmt.Errorf("persist order: %w", err)
	}
	obs.CountOutcome(obs.OrdersPlacedTotal, orderTypeLabel(in.OrderType))
	if q.AppliedPromotion != nil {
		s.scheduleConsumption(ctx, tenantID, id, in.CustomerID, *q.AppliedPromotion, at)
	}
	return Placed{OrderID: id, Quote: q}, nil
}

func (s *Service) scheduleConsumption(ctx context.Context, tenantID, orderID, customerID string, applied promotion.AppliedPromotion, at time.Time) {
	log := s.logger().With().Str("tenant_id", tenantID).Str("order_id", orderID).Str("promo_id", applied.PromoID).Logger()
	if s.Queue == nil {
		log.Warn().Msg("promotion consumption not scheduled: no task queue")
		return
	}
	err := promotion.EnqueueConsume(ctx, s.Queue, tenantID, promotion.Redemption{
		PromoID:       applied.PromoID,
		Code:          applied.Code,
		OrderID:       orderID,
		CustomerID:    customerID,
		DiscountCents: applied.DiscountTotalCents,
		RedeemedAt:    at,
	})
	if err != nil {
		log.Warn().Err(err).Msg("promotion consumption enqueue failed")
	}
}

func invalid(field, reason string) error {
	return common.NewAppError("VALIDATION_FAILED", field+" "+reason, http.StatusBadRequest, nil).
		WithDetails([]common.FieldError{{Field: field, Rule: reason}})
}

func orderTypeLabel(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "unspecified"
	}
	return t
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
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
