// Package prommetrics provides a Prometheus implementation of the
// payments.Metrics interface.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumapage/payments/pkg/payments"
)

// Metrics implements payments.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	checkoutSessionsTotal     *prometheus.CounterVec
	checkoutSessionDuration   *prometheus.HistogramVec
	ledgerWritesTotal         *prometheus.CounterVec
	memberTransitionsTotal    *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for the payment
// pipeline, registering all collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from the payment provider.",
		}, []string{"provider", "event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"provider", "error_type"}),

		checkoutSessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "checkout_sessions_total",
			Help:      "Total number of checkout session creation attempts.",
		}, []string{"provider", "flow", "status"}),

		checkoutSessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "checkout_session_duration_seconds",
			Help:      "Duration of checkout session creation calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "flow"}),

		ledgerWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "ledger_writes_total",
			Help:      "Total number of ledger merge-writes.",
		}, []string{"kind", "status"}),

		memberTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "member_transitions_total",
			Help:      "Total number of membership state transitions.",
		}, []string{"from", "to"}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(provider, eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(provider, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

func (m *Metrics) RecordCheckoutSession(provider string, flow payments.Flow, status string) {
	m.checkoutSessionsTotal.WithLabelValues(provider, string(flow), status).Inc()
}

func (m *Metrics) RecordCheckoutSessionDuration(provider string, flow payments.Flow, duration time.Duration) {
	m.checkoutSessionDuration.WithLabelValues(provider, string(flow)).Observe(duration.Seconds())
}

func (m *Metrics) RecordLedgerWrite(kind payments.LedgerKind, status string) {
	m.ledgerWritesTotal.WithLabelValues(string(kind), status).Inc()
}

func (m *Metrics) RecordMemberTransition(from, to payments.MemberStatus) {
	m.memberTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}
