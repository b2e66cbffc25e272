package payments

import "time"

// Metrics defines the interface for tracking payment pipeline operations.
// All methods are optional - callers should pass NoopMetrics when they don't
// collect metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the payment
	// provider. status: "success", "ignored" or "error".
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a
	// webhook event.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: "auth_failed", "invalid_payload", "processing_error", ...
	RecordWebhookError(provider, errorType string)

	// RecordCheckoutSession records a checkout session creation attempt for
	// a flow. status: "success", "validation_error" or "error".
	RecordCheckoutSession(provider string, flow Flow, status string)

	// RecordCheckoutSessionDuration records how long the provider call for
	// a checkout session took.
	RecordCheckoutSessionDuration(provider string, flow Flow, duration time.Duration)

	// RecordLedgerWrite records a ledger merge-write.
	RecordLedgerWrite(kind LedgerKind, status string)

	// RecordMemberTransition records a membership state transition.
	RecordMemberTransition(from, to MemberStatus)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordCheckoutSession(_ string, _ Flow, _ string)             {}
func (n *NoopMetrics) RecordCheckoutSessionDuration(_ string, _ Flow, _ time.Duration) {
}
func (n *NoopMetrics) RecordLedgerWrite(_ LedgerKind, _ string)       {}
func (n *NoopMetrics) RecordMemberTransition(_, _ MemberStatus)       {}
