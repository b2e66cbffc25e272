package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lumapage/payments/pkg/payments"
	"github.com/lumapage/payments/internal"
)

// webhookAck is the acknowledgement body Stripe expects on success.
type webhookAck struct {
	Received bool `json:"received"`
}

// handleWebhook processes incoming Stripe webhook events. The body is read
// raw and unmodified because the signature is computed over the exact bytes;
// verification failures are rejected before any part of the body is acted on.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		// Transient failure: surface 500 so Stripe redelivers. Safe because
		// every handler sub-step is independently idempotent.
		p.logger.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("event_type", eventType).
			Msg("webhook processing failed")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, webhookAck{Received: true})

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processWebhookEvent routes a verified event to its handler. Unhandled types
// return nil so Stripe stops retrying events nobody consumes. Handlers must
// be effect-idempotent: the dispatcher offers no deduplication of its own.
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	eventTime := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return p.handleCheckoutCompleted(ctx, event, eventTime)
	case "invoice.paid":
		return p.handleInvoicePaid(ctx, event, eventTime)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(ctx, event)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, event, eventTime)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event, eventTime)
	default:
		p.metrics.RecordWebhookEvent(providerName, string(event.Type), "ignored")
		return nil
	}
}

// handleCheckoutCompleted fans out on the flow tag embedded in the session
// metadata at creation time - the only correlation state between the
// synchronous checkout request and this asynchronous delivery.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	// checkout.session.completed fires for delayed payment methods before
	// the money moves; the async_payment_succeeded event follows once it
	// does. Both land here, and the deterministic ledger key makes the
	// second delivery converge instead of double-writing.
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return nil
	}

	flow := payments.Flow(session.Metadata[payments.MetaFlow])

	switch flow {
	case payments.FlowSubscription:
		return p.completeSubscription(ctx, &session, eventTime)
	case payments.FlowTip:
		return p.completeTip(ctx, &session, eventTime, "")
	case payments.FlowGoalTip:
		return p.completeTip(ctx, &session, eventTime, session.Metadata[payments.MetaPostID])
	case payments.FlowTreat:
		return p.completeTreat(ctx, &session, eventTime)
	case payments.FlowUnlock:
		return p.completeUnlock(ctx, &session, eventTime)
	default:
		// Session created outside this subsystem; acknowledge and move on.
		p.logger.Debug().
			Str("session_id", session.ID).
			Msg("checkout session without flow tag ignored")
		return nil
	}
}

// completeSubscription creates the Active member record for a finished
// subscription checkout. The member is keyed by the provider subscription id,
// so replays and late duplicates are no-ops and can never resurrect a
// cancelled membership.
func (p *Provider) completeSubscription(ctx context.Context, session *stripe.CheckoutSession, eventTime time.Time) error {
	if session.Subscription == nil || session.Subscription.ID == "" {
		p.logger.Warn().
			Str("session_id", session.ID).
			Msg("subscription checkout completed without subscription attached")
		return nil
	}
	subscriptionID := session.Subscription.ID

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	if customerID == "" {
		// The session payload can omit the customer; fetch the subscription
		// to recover it. This couples webhook latency to one extra provider
		// call - acceptable for now, revisit if it shows up in latency.
		sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
		if err != nil {
			return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
		}
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
	}

	accountID := session.Metadata[payments.MetaAccountID]
	account, err := p.resolver.Resolve(ctx, payments.Identity{
		AccountID:  accountID,
		Email:      sessionEmail(session),
		CustomerID: customerID,
	})
	switch {
	case err == nil:
		accountID = account.ID
		if account.CustomerID == "" && customerID != "" {
			if err := p.store.SetAccountCustomerID(ctx, account.ID, customerID); err != nil {
				return fmt.Errorf("failed to backfill customer id: %w", err)
			}
		}
	case errors.Is(err, payments.ErrAccountNotFound):
		// Membership survives on the provider ids alone; keep whatever
		// account reference the metadata carried.
		p.logger.Warn().
			Str("session_id", session.ID).
			Str("customer_id", customerID).
			Msg("no account matched for subscription checkout")
	default:
		return fmt.Errorf("failed to resolve account: %w", err)
	}

	member := &payments.Member{
		ID:             subscriptionID,
		AccountID:      accountID,
		Status:         payments.MemberActive,
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
		Source:         session.Metadata[payments.MetaSource],
		JoinedAt:       eventTime,
	}
	if err := p.store.CreateMember(ctx, member); err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}

	p.metrics.RecordMemberTransition("", payments.MemberActive)
	p.logger.Info().
		Str("subscription_id", subscriptionID).
		Str("account_id", accountID).
		Msg("member activated")
	return nil
}

// completeTip ledgers a tip and, for goal-linked tips, applies the amount to
// the post's counter. The counter update carries the ledger key as its
// contribution id, so a redelivered event increments exactly once.
func (p *Provider) completeTip(ctx context.Context, session *stripe.CheckoutSession, eventTime time.Time, postID string) error {
	rec := p.ledgerFromSession(session, payments.LedgerTip, eventTime)
	rec.PostID = postID

	if err := p.writeLedger(ctx, rec); err != nil {
		return err
	}

	if postID == "" {
		return nil
	}

	err := p.store.AddGoalProgress(ctx, postID, rec.AmountCents, rec.ID)
	if err != nil {
		if errors.Is(err, payments.ErrGoalDisabled) {
			// Goal switched off between checkout and delivery. The ledger
			// is the source of truth; the counter just stops counting.
			p.logger.Info().
				Str("post_id", postID).
				Str("ledger_id", rec.ID).
				Msg("goal disabled, contribution ledgered without counter update")
			return nil
		}
		if errors.Is(err, payments.ErrPostNotFound) {
			p.logger.Warn().
				Str("post_id", postID).
				Str("ledger_id", rec.ID).
				Msg("goal tip references missing post")
			return nil
		}
		return fmt.Errorf("failed to apply goal progress: %w", err)
	}
	return nil
}

// completeTreat ledgers a treat purchase.
func (p *Provider) completeTreat(ctx context.Context, session *stripe.CheckoutSession, eventTime time.Time) error {
	return p.writeLedger(ctx, p.ledgerFromSession(session, payments.LedgerPurchase, eventTime))
}

// completeUnlock grants the paid content to the paying identity and ledgers
// the purchase. The grant uses set semantics, so redelivery grants nothing
// new and does not error.
func (p *Provider) completeUnlock(ctx context.Context, session *stripe.CheckoutSession, eventTime time.Time) error {
	contentID := session.Metadata[payments.MetaContentID]
	if contentID == "" {
		p.logger.Warn().
			Str("session_id", session.ID).
			Msg("unlock checkout completed without content id")
		return nil
	}
	kind := payments.UnlockKind(session.Metadata[payments.MetaUnlockKind])
	if kind == "" {
		kind = payments.UnlockPost
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	account, err := p.resolver.Resolve(ctx, payments.Identity{
		AccountID:  session.Metadata[payments.MetaAccountID],
		Email:      sessionEmail(session),
		CustomerID: customerID,
	})
	if err != nil {
		// A paid unlock with no matching account must not be dropped
		// silently; fail retryable so redelivery picks it up once the
		// account situation is fixed.
		return fmt.Errorf("failed to resolve paying account for unlock: %w", err)
	}

	if err := p.store.GrantUnlock(ctx, account.ID, contentID, kind); err != nil {
		return fmt.Errorf("failed to grant unlock: %w", err)
	}

	rec := p.ledgerFromSession(session, payments.LedgerKindForUnlock(kind), eventTime)
	rec.AccountID = account.ID
	rec.ContentID = contentID
	if err := p.writeLedger(ctx, rec); err != nil {
		return err
	}

	p.logger.Info().
		Str("account_id", account.ID).
		Str("content_id", contentID).
		Str("kind", string(kind)).
		Msg("unlock granted")
	return nil
}

// handleInvoicePaid writes a subscription payment ledger record. It does not
// change member status: a paid invoice is evidence the subscription
// continues, not a state transition.
func (p *Provider) handleInvoicePaid(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	// The v83 Invoice struct no longer surfaces the subscription reference
	// directly; pull it from the raw payload, which carries either an id
	// string or an embedded object.
	subscriptionID := rawStringOrObjectID(event.Data.Raw, "subscription")
	if subscriptionID == "" {
		// Not a subscription invoice.
		return nil
	}
	customerID := rawStringOrObjectID(event.Data.Raw, "customer")

	rec := &payments.LedgerRecord{
		ID:             payments.InvoiceLedgerID(invoice.ID),
		Kind:           payments.LedgerSubscriptionPayment,
		AmountCents:    invoice.AmountPaid,
		Currency:       string(invoice.Currency),
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
		OccurredAt:     eventTime,
	}
	return p.writeLedger(ctx, rec)
}

// handleInvoicePaymentFailed logs the failure but changes nothing: the
// subscription stays active until Stripe actually cancels it.
func (p *Provider) handleInvoicePaymentFailed(_ context.Context, event *stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	p.logger.Warn().
		Str("invoice_id", invoice.ID).
		Str("customer_id", rawStringOrObjectID(event.Data.Raw, "customer")).
		Msg("invoice payment failed")
	p.metrics.RecordWebhookEvent(providerName, "invoice.payment_failed", "warning")
	return nil
}

// handleSubscriptionUpdated records a scheduled cancellation. The member
// stays Active until the period actually ends - members should not lose
// access early. Updates without cancel_at_period_end carry no user-visible
// change and are ignored.
func (p *Provider) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	if !sub.CancelAtPeriodEnd {
		return nil
	}

	member, err := p.resolveMember(ctx, &sub)
	if err != nil {
		return err
	}
	if member == nil {
		// An update for an unknown subscription is not evidence a member
		// should exist.
		p.logger.Debug().
			Str("subscription_id", sub.ID).
			Msg("subscription update for unknown member ignored")
		return nil
	}
	if member.Status == payments.MemberCancelled {
		// Deletion already pinned the access end. A scheduled cancellation
		// delivered late must not move it, or permutations of the same
		// event set would disagree on the final document.
		p.logger.Debug().
			Str("subscription_id", sub.ID).
			Msg("scheduled cancellation for already cancelled member ignored")
		return nil
	}

	endsAt := eventTime
	if ts := rawUnixTime(event.Data.Raw, "current_period_end"); !ts.IsZero() {
		endsAt = ts
	} else if sub.CancelAt > 0 {
		endsAt = time.Unix(sub.CancelAt, 0).UTC()
	}

	if err := p.store.ScheduleMemberEnd(ctx, member.ID, endsAt); err != nil {
		return fmt.Errorf("failed to schedule member end: %w", err)
	}

	p.logger.Info().
		Str("subscription_id", sub.ID).
		Time("access_ends_at", endsAt).
		Msg("membership cancellation scheduled")
	return nil
}

// handleSubscriptionDeleted moves the member to Cancelled with the access end
// pinned to the event payload, so redeliveries converge to the same document.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, eventTime time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	member, err := p.resolveMember(ctx, &sub)
	if err != nil {
		return err
	}
	if member == nil {
		p.logger.Debug().
			Str("subscription_id", sub.ID).
			Msg("subscription deletion for unknown member ignored")
		return nil
	}

	endedAt := eventTime
	if sub.EndedAt > 0 {
		endedAt = time.Unix(sub.EndedAt, 0).UTC()
	}

	if err := p.store.CancelMember(ctx, member.ID, endedAt); err != nil {
		return fmt.Errorf("failed to cancel member: %w", err)
	}

	p.metrics.RecordMemberTransition(payments.MemberActive, payments.MemberCancelled)
	p.logger.Info().
		Str("subscription_id", sub.ID).
		Time("access_ends_at", endedAt).
		Msg("member cancelled")
	return nil
}

// resolveMember locates the member a lifecycle event refers to: first by
// subscription id, then by customer id (most recently joined wins). A miss on
// both returns (nil, nil) - the caller treats it as a no-op.
func (p *Provider) resolveMember(ctx context.Context, sub *stripe.Subscription) (*payments.Member, error) {
	member, err := p.store.FindMemberBySubscriptionID(ctx, sub.ID)
	if err == nil {
		return member, nil
	}
	if !errors.Is(err, payments.ErrMemberNotFound) {
		return nil, fmt.Errorf("failed to find member by subscription: %w", err)
	}

	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, nil
	}

	member, err = p.store.FindMemberByCustomerID(ctx, sub.Customer.ID)
	if err == nil {
		return member, nil
	}
	if !errors.Is(err, payments.ErrMemberNotFound) {
		return nil, fmt.Errorf("failed to find member by customer: %w", err)
	}
	return nil, nil
}

// ledgerFromSession builds the common ledger fields for a checkout session
// completion. OccurredAt is the provider event time, never wall-clock, so a
// replayed event merges into an identical document.
func (p *Provider) ledgerFromSession(session *stripe.CheckoutSession, kind payments.LedgerKind, eventTime time.Time) *payments.LedgerRecord {
	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	return &payments.LedgerRecord{
		ID:          payments.CheckoutLedgerID(session.ID),
		Kind:        kind,
		AccountID:   session.Metadata[payments.MetaAccountID],
		AmountCents: session.AmountTotal,
		Currency:    string(session.Currency),
		CustomerID:  customerID,
		Source:      session.Metadata[payments.MetaSource],
		OccurredAt:  eventTime,
	}
}

func (p *Provider) writeLedger(ctx context.Context, rec *payments.LedgerRecord) error {
	if err := p.store.UpsertLedger(ctx, rec); err != nil {
		p.metrics.RecordLedgerWrite(rec.Kind, "error")
		return fmt.Errorf("failed to write %s ledger record: %w", rec.Kind, err)
	}
	p.metrics.RecordLedgerWrite(rec.Kind, "success")
	return nil
}

// rawStringOrObjectID extracts a field from a raw event payload that Stripe
// serializes either as an id string or as an embedded object with an id.
func rawStringOrObjectID(raw json.RawMessage, key string) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// rawUnixTime extracts a unix timestamp field from a raw event payload.
func rawUnixTime(raw json.RawMessage, key string) time.Time {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return time.Time{}
	}
	if ts, ok := data[key].(float64); ok && ts > 0 {
		return time.Unix(int64(ts), 0).UTC()
	}
	return time.Time{}
}

func sessionEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil {
		return session.CustomerDetails.Email
	}
	return ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
