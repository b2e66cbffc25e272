// Package stripe implements the Stripe-backed payment provider: the checkout
// session factory for the five monetization flows and the webhook pipeline
// that reconciles the provider's asynchronous events into the store.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/lumapage/payments/pkg/payments"
	"github.com/lumapage/payments/internal"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultCurrency          = "usd"
	maxWebhookBodyBytes      = 256 * 1024
)

// Config holds everything the provider needs. Store and APIKey are required
// at construction; the webhook secret and per-flow price ids are checked by
// the endpoint that needs them, so a partially configured deployment degrades
// per-endpoint instead of refusing to start.
type Config struct {
	// Store is the document store the webhook handlers reconcile into.
	Store payments.Store

	// Logger is used for structured webhook/checkout logging.
	Logger zerolog.Logger

	// Metrics is an optional metrics collector. If nil, metrics are
	// silently ignored (no-op).
	Metrics payments.Metrics

	// APIKey is the Stripe secret key for outbound API calls.
	APIKey string

	// WebhookSecret is the signing secret for inbound webhook verification.
	WebhookSecret string

	// BaseURL is the application base URL used to build success/cancel
	// redirect URLs for checkout sessions.
	BaseURL string

	// SubscriptionPriceID is the pre-configured recurring price for the
	// subscription flow.
	SubscriptionPriceID string

	// TreatPriceID is the pre-configured one-time price for the treat flow.
	TreatPriceID string

	// Currency for ad hoc amounts (tips, unlocks). Defaults to "usd".
	Currency string
}

// Provider implements checkout session creation and webhook reconciliation
// against Stripe.
type Provider struct {
	store               payments.Store
	resolver            *payments.Resolver
	logger              zerolog.Logger
	metrics             payments.Metrics
	stripeClient        *stripe.Client
	rateLimiter         *internal.RateLimiter
	webhookSecret       []byte
	baseURL             string
	subscriptionPriceID string
	treatPriceID        string
	currency            string
}

// NewProvider creates a new Stripe payment provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, payments.ErrNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, payments.ErrNotConfigured
	}

	stripeClient := stripe.NewClient(apiKey)

	currency := strings.ToLower(strings.TrimSpace(config.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &payments.NoopMetrics{}
	}

	return &Provider{
		store:               config.Store,
		resolver:            payments.NewResolver(config.Store),
		logger:              config.Logger,
		metrics:             metrics,
		stripeClient:        stripeClient,
		rateLimiter:         internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret:       []byte(strings.TrimSpace(config.WebhookSecret)),
		baseURL:             strings.TrimRight(config.BaseURL, "/"),
		subscriptionPriceID: strings.TrimSpace(config.SubscriptionPriceID),
		treatPriceID:        strings.TrimSpace(config.TreatPriceID),
		currency:            currency,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped with
// per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}

func (p *Provider) successURL(flow payments.Flow) string {
	return p.baseURL + "/checkout/success?flow=" + string(flow)
}

func (p *Provider) cancelURL(flow payments.Flow) string {
	return p.baseURL + "/checkout/cancel?flow=" + string(flow)
}
