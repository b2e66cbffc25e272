package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lumapage/payments/pkg/payments"
)

// SubscriptionCheckoutParams describes a subscription checkout request.
type SubscriptionCheckoutParams struct {
	AccountID string
	Source    string // optional referral/source tag
}

// TipCheckoutParams describes a one-time tip.
type TipCheckoutParams struct {
	AccountID   string // optional; tips may be anonymous
	AmountCents int64
}

// GoalTipCheckoutParams describes a tip linked to a post's funding goal.
type GoalTipCheckoutParams struct {
	AccountID   string
	PostID      string
	AmountCents int64
}

// TreatCheckoutParams describes a paid treat purchase.
type TreatCheckoutParams struct {
	AccountID string
}

// UnlockCheckoutParams describes a content unlock purchase. The price is
// always read server-side from the content record, never from the client.
type UnlockCheckoutParams struct {
	AccountID string
	ContentID string
	Kind      payments.UnlockKind
}

// SubscriptionCheckout creates a checkout session for the subscription flow
// and returns the redirect URL. Requires a pre-configured recurring price;
// absence is an operator error, not a user error.
func (p *Provider) SubscriptionCheckout(ctx context.Context, params SubscriptionCheckoutParams) (string, error) {
	intent, err := p.buildSubscriptionIntent(params)
	if err != nil {
		p.metrics.RecordCheckoutSession(providerName, payments.FlowSubscription, "validation_error")
		return "", err
	}
	return p.createSession(ctx, intent, params.AccountID)
}

// TipCheckout creates a checkout session for a one-time tip.
func (p *Provider) TipCheckout(ctx context.Context, params TipCheckoutParams) (string, error) {
	intent, err := buildTipIntent(params)
	if err != nil {
		p.metrics.RecordCheckoutSession(providerName, payments.FlowTip, "validation_error")
		return "", err
	}
	return p.createSession(ctx, intent, params.AccountID)
}

// GoalTipCheckout creates a checkout session for a tip linked to a post's
// funding goal. The post must exist and have its goal enabled; the goal is
// re-checked on the webhook path, so a goal disabled mid-flight simply stops
// counting without failing the payment.
func (p *Provider) GoalTipCheckout(ctx context.Context, params GoalTipCheckoutParams) (string, error) {
	intent, err := p.buildGoalTipIntent(ctx, params)
	if err != nil {
		p.metrics.RecordCheckoutSession(providerName, payments.FlowGoalTip, "validation_error")
		return "", err
	}
	return p.createSession(ctx, intent, params.AccountID)
}

// TreatCheckout creates a checkout session for the paid treat flow. Requires
// a pre-configured one-time price.
func (p *Provider) TreatCheckout(ctx context.Context, params TreatCheckoutParams) (string, error) {
	intent, err := p.buildTreatIntent(params)
	if err != nil {
		p.metrics.RecordCheckoutSession(providerName, payments.FlowTreat, "validation_error")
		return "", err
	}
	return p.createSession(ctx, intent, params.AccountID)
}

// UnlockCheckout creates a checkout session to unlock gated content. The
// target content must exist, have unlocking enabled, and carry a price inside
// the allowed bounds - re-validated here regardless of what the client
// displayed, because client-visible state is not trustworthy.
func (p *Provider) UnlockCheckout(ctx context.Context, params UnlockCheckoutParams) (string, error) {
	intent, err := p.buildUnlockIntent(ctx, params)
	if err != nil {
		p.metrics.RecordCheckoutSession(providerName, payments.FlowUnlock, "validation_error")
		return "", err
	}
	return p.createSession(ctx, intent, params.AccountID)
}

func (p *Provider) buildSubscriptionIntent(params SubscriptionCheckoutParams) (*payments.CheckoutIntent, error) {
	if params.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", payments.ErrAccountNotFound)
	}
	if p.subscriptionPriceID == "" {
		return nil, fmt.Errorf("%w: subscription price id", payments.ErrNotConfigured)
	}

	correlation := map[string]string{
		payments.MetaFlow:      string(payments.FlowSubscription),
		payments.MetaAccountID: params.AccountID,
	}
	if params.Source != "" {
		correlation[payments.MetaSource] = params.Source
	}

	return &payments.CheckoutIntent{
		Flow:        payments.FlowSubscription,
		PriceID:     p.subscriptionPriceID,
		Correlation: correlation,
	}, nil
}

func buildTipIntent(params TipCheckoutParams) (*payments.CheckoutIntent, error) {
	if err := validateAmount(params.AmountCents); err != nil {
		return nil, err
	}

	correlation := map[string]string{
		payments.MetaFlow: string(payments.FlowTip),
	}
	if params.AccountID != "" {
		correlation[payments.MetaAccountID] = params.AccountID
	}

	return &payments.CheckoutIntent{
		Flow:        payments.FlowTip,
		AmountCents: params.AmountCents,
		Description: "Tip",
		Correlation: correlation,
	}, nil
}

func (p *Provider) buildGoalTipIntent(ctx context.Context, params GoalTipCheckoutParams) (*payments.CheckoutIntent, error) {
	if err := validateAmount(params.AmountCents); err != nil {
		return nil, err
	}
	if params.PostID == "" {
		return nil, fmt.Errorf("%w: post id is required", payments.ErrPostNotFound)
	}

	post, err := p.store.GetPost(ctx, params.PostID)
	if err != nil {
		return nil, err
	}
	if !post.Goal.Enabled {
		return nil, fmt.Errorf("%w: post %s", payments.ErrGoalDisabled, post.ID)
	}

	correlation := map[string]string{
		payments.MetaFlow:   string(payments.FlowGoalTip),
		payments.MetaPostID: params.PostID,
	}
	if params.AccountID != "" {
		correlation[payments.MetaAccountID] = params.AccountID
	}

	return &payments.CheckoutIntent{
		Flow:        payments.FlowGoalTip,
		AmountCents: params.AmountCents,
		Description: "Goal tip",
		Correlation: correlation,
	}, nil
}

func (p *Provider) buildTreatIntent(params TreatCheckoutParams) (*payments.CheckoutIntent, error) {
	if p.treatPriceID == "" {
		return nil, fmt.Errorf("%w: treat price id", payments.ErrNotConfigured)
	}

	correlation := map[string]string{
		payments.MetaFlow: string(payments.FlowTreat),
	}
	if params.AccountID != "" {
		correlation[payments.MetaAccountID] = params.AccountID
	}

	return &payments.CheckoutIntent{
		Flow:        payments.FlowTreat,
		PriceID:     p.treatPriceID,
		Correlation: correlation,
	}, nil
}

func (p *Provider) buildUnlockIntent(ctx context.Context, params UnlockCheckoutParams) (*payments.CheckoutIntent, error) {
	if params.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", payments.ErrAccountNotFound)
	}
	if params.ContentID == "" {
		return nil, fmt.Errorf("%w: content id is required", payments.ErrPostNotFound)
	}

	kind := params.Kind
	if kind == "" {
		kind = payments.UnlockPost
	}

	content, err := p.store.GetPost(ctx, params.ContentID)
	if err != nil {
		return nil, err
	}
	if !content.Unlock.Enabled {
		return nil, fmt.Errorf("%w: content %s", payments.ErrUnlockDisabled, content.ID)
	}
	if err := validateAmount(content.Unlock.PriceCents); err != nil {
		return nil, fmt.Errorf("configured unlock price: %w", err)
	}

	return &payments.CheckoutIntent{
		Flow:        payments.FlowUnlock,
		AmountCents: content.Unlock.PriceCents,
		Description: "Content unlock",
		Correlation: map[string]string{
			payments.MetaFlow:       string(payments.FlowUnlock),
			payments.MetaAccountID:  params.AccountID,
			payments.MetaContentID:  params.ContentID,
			payments.MetaUnlockKind: string(kind),
		},
	}, nil
}

// createSession turns a validated intent into a Stripe Checkout Session and
// returns the redirect URL. No local state is written here: an abandoned
// checkout leaves no partial record.
func (p *Provider) createSession(ctx context.Context, intent *payments.CheckoutIntent, accountID string) (string, error) {
	startTime := time.Now()

	mode := stripe.CheckoutSessionModePayment
	if intent.Flow == payments.FlowSubscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(p.successURL(intent.Flow)),
		CancelURL:  stripe.String(p.cancelURL(intent.Flow)),
		Metadata:   intent.Correlation,
	}

	if intent.PriceID != "" {
		params.LineItems = []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(intent.PriceID),
				Quantity: stripe.Int64(1),
			},
		}
	} else {
		params.LineItems = []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(p.currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(intent.Description),
					},
					UnitAmount: stripe.Int64(intent.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		}
	}

	// Subscription metadata is read back by the subscription lifecycle
	// handlers, which see the subscription object rather than the session.
	if mode == stripe.CheckoutSessionModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		for k, v := range intent.Correlation {
			params.SubscriptionData.AddMetadata(k, v)
		}
	}

	// Attach the existing Stripe customer when the account already has one,
	// so repeat payers don't accumulate duplicate customers.
	if accountID != "" {
		account, err := p.store.GetAccount(ctx, accountID)
		switch {
		case err == nil && account.CustomerID != "":
			params.Customer = stripe.String(account.CustomerID)
		case err == nil || errors.Is(err, payments.ErrAccountNotFound):
			params.ClientReferenceID = stripe.String(accountID)
		default:
			// Real storage error: fail safe rather than risk a duplicate
			// customer on Stripe's side.
			p.metrics.RecordCheckoutSession(providerName, intent.Flow, "error")
			return "", fmt.Errorf("failed to load account: %w", err)
		}
	}

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordCheckoutSession(providerName, intent.Flow, "error")
		p.metrics.RecordCheckoutSessionDuration(providerName, intent.Flow, time.Since(startTime))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordCheckoutSession(providerName, intent.Flow, "success")
	p.metrics.RecordCheckoutSessionDuration(providerName, intent.Flow, time.Since(startTime))

	p.logger.Info().
		Str("flow", string(intent.Flow)).
		Str("session_id", session.ID).
		Msg("checkout session created")

	return session.URL, nil
}

func validateAmount(cents int64) error {
	if cents < payments.MinChargeCents || cents > payments.MaxChargeCents {
		return fmt.Errorf("%w: %d cents (allowed %d-%d)",
			payments.ErrInvalidAmount, cents, payments.MinChargeCents, payments.MaxChargeCents)
	}
	return nil
}
