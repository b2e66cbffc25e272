// Package api exposes the HTTP surface of the payments core: one checkout
// creation endpoint per monetization flow and the webhook mount.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/lumapage/payments/internal"
	stripeprovider "github.com/lumapage/payments/pkg/payments/stripe"
)

const (
	checkoutRateLimitRequests = 30
	checkoutRateLimitWindow   = time.Minute
)

// CheckoutService creates provider checkout sessions for the five flows and
// returns the redirect URL. Implemented by *stripe.Provider; the indirection
// exists so handlers can be tested without network access.
type CheckoutService interface {
	SubscriptionCheckout(ctx context.Context, params stripeprovider.SubscriptionCheckoutParams) (string, error)
	TipCheckout(ctx context.Context, params stripeprovider.TipCheckoutParams) (string, error)
	GoalTipCheckout(ctx context.Context, params stripeprovider.GoalTipCheckoutParams) (string, error)
	TreatCheckout(ctx context.Context, params stripeprovider.TreatCheckoutParams) (string, error)
	UnlockCheckout(ctx context.Context, params stripeprovider.UnlockCheckoutParams) (string, error)
}

// Config holds configuration for the payments API handler
type Config struct {
	// Checkout is the checkout session factory (required).
	Checkout CheckoutService

	// Webhook is the provider webhook handler, mounted as-is (required).
	Webhook http.Handler

	// Logger is used for structured request logging.
	Logger zerolog.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Checkout == nil {
		return fmt.Errorf("checkout service is required")
	}
	if c.Webhook == nil {
		return fmt.Errorf("webhook handler is required")
	}
	return nil
}

// Handler provides the HTTP endpoints for checkout creation and webhook
// ingestion.
type Handler struct {
	config      Config
	validate    *validator.Validate
	rateLimiter *internal.RateLimiter
}

// NewHandler creates a new payments API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{
		config:      config,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		rateLimiter: internal.NewRateLimiter(checkoutRateLimitRequests, checkoutRateLimitWindow),
	}, nil
}
