package metrics

import (
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncReconciliation(outcome string)
	IncWebhookEvent(source, eventType string)
	ObserveUpgradeAmount(amount float64)
}

type billingMetrics struct {
	log             *logger.Logger
	reconciliations *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	upgradeAmounts  prometheus.Histogram
}

// Метки outcome для reconciliations_total
const (
	OutcomeUpgraded         = "upgraded"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeAlreadyPro       = "already_pro"
	OutcomeOwnershipReject  = "ownership_mismatch"
	OutcomeUnpaidReject     = "payment_not_completed"
	OutcomeAccountMissing   = "account_not_found"
	OutcomeUpgradeError     = "upgrade_error"
	OutcomeLookupError      = "session_lookup_error"
)

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	reconciliations := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliations_total",
			Help: "The total number of payment session reconciliation attempts by outcome",
		},
		[]string{"outcome"},
	)

	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "The total number of received webhook events by source and type",
		},
		[]string{"source", "type"},
	)

	upgradeAmounts := promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upgrade_amount",
			Help:    "Distribution of pro upgrade payment amounts",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6), // 1, 4, 16, 64, 256, 1024
		},
	)

	return &billingMetrics{
		log:             log,
		reconciliations: reconciliations,
		webhookEvents:   webhookEvents,
		upgradeAmounts:  upgradeAmounts,
	}
}

// IncReconciliation увеличивает счетчик попыток реконсиляции
func (m *billingMetrics) IncReconciliation(outcome string) {
	m.reconciliations.WithLabelValues(outcome).Inc()
}

// IncWebhookEvent увеличивает счетчик событий вебхуков
func (m *billingMetrics) IncWebhookEvent(source, eventType string) {
	m.webhookEvents.WithLabelValues(source, eventType).Inc()
}

// ObserveUpgradeAmount записывает сумму апгрейда
func (m *billingMetrics) ObserveUpgradeAmount(amount float64) {
	m.upgradeAmounts.Observe(amount)
}

// NoOpBillingMetrics — заглушка, когда метрики отключены (например, в тестах).
type NoOpBillingMetrics struct{}

func (NoOpBillingMetrics) IncReconciliation(string)       {}
func (NoOpBillingMetrics) IncWebhookEvent(string, string) {}
func (NoOpBillingMetrics) ObserveUpgradeAmount(float64)   {}
