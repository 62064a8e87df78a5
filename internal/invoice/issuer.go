package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/resto-order-engine/internal/obs"
)

var (
	// ErrConflict is returned by a transaction when the counter or order changed concurrently.
	ErrConflict = errors.New("invoice: concurrent modification")
	// ErrTransient is returned once the retry budget is exhausted.
	ErrTransient = errors.New("invoice: transient failure, retry later")
	// ErrOrderNotFound is returned when the order does not exist for the tenant.
	ErrOrderNotFound = errors.New("invoice: order not found")
	// ErrNumberTaken is returned by SetOrderInvoice when another order of the tenant already
	// holds the number, typically one imported from the legacy store.
	ErrNumberTaken = errors.New("invoice: number already assigned")
)

// maxSkips bounds how many taken numbers one issuance steps over before giving up.
const maxSkips = 1000

// Tx is the tenant-scoped transactional view used to issue one number.
type Tx interface {
	// GetOrderInvoice returns the stored number (empty when unissued) and its date.
	GetOrderInvoice(ctx context.Context, orderID string) (string, time.Time, error)
	// GetCounter returns the next sequence value and whether the counter row exists.
	GetCounter(ctx context.Context) (next int64, exists bool, err error)
	// PutCounter writes next only if the counter still holds expected (or is still absent).
	PutCounter(ctx context.Context, expected int64, exists bool, next int64) error
	// SetOrderInvoice stores the number only if the order is still unissued. It returns
	// ErrNumberTaken, leaving the transaction usable, when the number belongs to another order.
	SetOrderInvoice(ctx context.Context, orderID, number string, date time.Time) error
}

// Store runs fn in a single atomic transaction for the tenant.
type Store interface {
	RunInTx(ctx context.Context, tenantID string, fn func(ctx context.Context, tx Tx) error) error
}

// ConfigSource loads numbering configuration for a tenant.
type ConfigSource interface {
	InvoiceConfig(ctx context.Context, tenantID string) (Config, error)
}

// Issued is an order's invoice number.
type Issued struct {
	Number string    `json:"invoiceNumber"`
	Date   time.Time `json:"invoiceDate"`
	// Reused is true when the order already carried the number.
	Reused bool `json:"reused"`
}

// Issuer assigns sequential invoice numbers exactly once per order.
type Issuer struct {
	Store       Store
	Configs     ConfigSource
	Now         func() time.Time
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zerolog.Logger
}

// Ensure loads the tenant's configuration and ensures the order has an invoice number.
func (i *Issuer) Ensure(ctx context.Context, tenantID, orderID string) (*Issued, error) {
	if i == nil || i.Configs == nil {
		return nil, errors.New("invoice issuer not configured")
	}
	cfg, err := i.Configs.InvoiceConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load invoice config: %w", err)
	}
	return i.EnsureWith(ctx, tenantID, orderID, cfg)
}

// EnsureWith returns the order's invoice number, issuing the next one when absent. It returns
// nil without touching the store when numbering is disabled. Conflicting transactions are
// retried from scratch up to MaxAttempts times before ErrTransient is returned.
func (i *Issuer) EnsureWith(ctx context.Context, tenantID, orderID string, cfg Config) (*Issued, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if i == nil || i.Store == nil {
		return nil, errors.New("invoice issuer not configured")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, ErrOrderNotFound
	}
	ctx, span := otel.Tracer("invoice").Start(ctx, "invoice.ensure")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("order.id", orderID))

	attempts := i.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		issued, err := i.attempt(ctx, tenantID, orderID, cfg)
		if err == nil {
			result := "issued"
			if issued.Reused {
				result = "reused"
			}
			obs.CountOutcome(obs.InvoiceIssuedTotal, result)
			span.SetAttributes(attribute.String("invoice.number", issued.Number), attribute.Int("invoice.attempts", attempt))
			return issued, nil
		}
		if !errors.Is(err, ErrConflict) {
			obs.CountOutcome(obs.InvoiceIssuedTotal, "error")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		lastErr = err
		if obs.InvoiceConflictRetries != nil {
			obs.InvoiceConflictRetries.Inc()
		}
		i.logger().Debug().Str("tenant_id", tenantID).Str("order_id", orderID).Int("attempt", attempt).Msg("invoice issuance conflict")
		if attempt < attempts {
			if err := i.wait(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}
	obs.CountOutcome(obs.InvoiceIssuedTotal, "transient")
	span.SetStatus(codes.Error, "retries exhausted")
	i.logger().Warn().Str("tenant_id", tenantID).Str("order_id", orderID).Int("attempts", attempts).Msg("invoice issuance gave up")
	return nil, fmt.Errorf("%w: %v", ErrTransient, lastErr)
}

func (i *Issuer) attempt(ctx context.Context, tenantID, orderID string, cfg Config) (*Issued, error) {
	var issued *Issued
	err := i.Store.RunInTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		issued = nil
		number, date, err := tx.GetOrderInvoice(ctx, orderID)
		if err != nil {
			return err
		}
		if number != "" {
			issued = &Issued{Number: number, Date: date, Reused: true}
			return nil
		}
		stored, exists, err := tx.GetCounter(ctx)
		if err != nil {
			return err
		}
		next := stored
		if !exists || next < 1 {
			next = 1
		}
		date = i.now().UTC()
		for skipped := 0; ; skipped++ {
			number = Format(cfg, next)
			err := tx.SetOrderInvoice(ctx, orderID, number, date)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrNumberTaken) {
				return err
			}
			if skipped >= maxSkips {
				return fmt.Errorf("%w: %d consecutive numbers from %s", ErrNumberTaken, skipped+1, Format(cfg, next-int64(skipped)))
			}
			i.logger().Warn().Str("tenant_id", tenantID).Str("invoice_number", number).Msg("invoice number taken, skipping")
			next++
		}
		if err := tx.PutCounter(ctx, stored, exists, next+1); err != nil {
			return err
		}
		issued = &Issued{Number: number, Date: date}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (i *Issuer) wait(ctx context.Context, attempt int) error {
	if i.Backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(i.Backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *Issuer) now() time.Time {
	if i != nil && i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) logger() *zerolog.Logger {
	if i != nil && i.Logger != nil {
		return i.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
