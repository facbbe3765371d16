package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Metrics implements subledger.Metrics using Prometheus.
type Metrics struct {
	eventsAppliedTotal       *prometheus.CounterVec
	creditGrants             prometheus.Histogram
	creditConsumptionsTotal  *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec
	storageOperationErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for the ledger.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_applied_total",
			Help:      "Total number of billing events processed by the ledger.",
		}, []string{"event_type", "status"}),

		creditGrants: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credit_grant_amount",
			Help:      "Credit balances set by grants and resets.",
			Buckets:   []float64{1, 10, 50, 100, 150, 300, 1000},
		}),

		creditConsumptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credit_consumptions_total",
			Help:      "Total number of credit spend attempts.",
		}, []string{"status"}),

		storageOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "storage_operation_duration_seconds",
			Help:      "Duration of ledger storage operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "storage_operation_errors_total",
			Help:      "Total number of failed ledger storage operations.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordEventApplied(eventType, status string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsAppliedTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordCreditGrant(amount int) {
	m.creditGrants.Observe(float64(amount))
}

func (m *Metrics) RecordCreditConsumption(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.creditConsumptionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOperationErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) subledger.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
