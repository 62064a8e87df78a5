package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// InvoiceIssuedTotal counts invoice number requests by outcome (issued, reused, transient, error).
	InvoiceIssuedTotal *prometheus.CounterVec
	// InvoiceConflictRetries counts issuance transactions retried after a concurrent modification.
	InvoiceConflictRetries prometheus.Counter
	// PromotionValidationsTotal counts promotion validations by result or rejection reason.
	PromotionValidationsTotal *prometheus.CounterVec
	// PromotionConsumptionsTotal counts consumption attempts by outcome.
	PromotionConsumptionsTotal *prometheus.CounterVec
	// LegacyShapeTotal counts reconciled order documents by detected shape.
	LegacyShapeTotal *prometheus.CounterVec
	// OrdersPlacedTotal counts persisted orders by order type.
	OrdersPlacedTotal *prometheus.CounterVec
	// OutboxPublishTotal counts outbox relay publish outcomes.
	OutboxPublishTotal *prometheus.CounterVec
	// TaxProfileFallbackTotal counts pricing runs that used the zero-tax profile.
	TaxProfileFallbackTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		InvoiceIssuedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_issued_total",
			Help:      "Count of invoice number requests by outcome.",
		}, []string{"result"}))
		InvoiceConflictRetries = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_conflict_retries_total",
			Help:      "Number of invoice issuance transactions retried after a conflict.",
		}))
		PromotionValidationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_validations_total",
			Help:      "Count of promotion validations by result.",
		}, []string{"result"}))
		PromotionConsumptionsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_consumptions_total",
			Help:      "Count of promotion consumption attempts by outcome.",
		}, []string{"result"}))
		LegacyShapeTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_totals_shape_total",
			Help:      "Count of reconciled order documents by stored totals shape.",
		}, []string{"shape"}))
		OrdersPlacedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Count of persisted orders by order type.",
		}, []string{"order_type"}))
		OutboxPublishTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_total",
			Help:      "Count of outbox relay publish outcomes.",
		}, []string{"result"}))
		TaxProfileFallbackTotal = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_profile_fallback_total",
			Help:      "Number of tax computations that fell back to the zero-tax profile.",
		}))
	})
}

// CountOutcome increments vec for label when the collector has been registered.
func CountOutcome(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}
