package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumapage/payments/pkg/payments"
	stripeprovider "github.com/lumapage/payments/pkg/payments/stripe"
)

const testCheckoutURL = "https://checkout.stripe.com/c/pay/cs_test"

// stubCheckout implements CheckoutService and records the params each flow
// was called with.
type stubCheckout struct {
	err          error
	lastTip      *stripeprovider.TipCheckoutParams
	lastUnlock   *stripeprovider.UnlockCheckoutParams
	subscription *stripeprovider.SubscriptionCheckoutParams
}

func (s *stubCheckout) SubscriptionCheckout(_ context.Context, params stripeprovider.SubscriptionCheckoutParams) (string, error) {
	s.subscription = &params
	return testCheckoutURL, s.err
}

func (s *stubCheckout) TipCheckout(_ context.Context, params stripeprovider.TipCheckoutParams) (string, error) {
	s.lastTip = &params
	return testCheckoutURL, s.err
}

func (s *stubCheckout) GoalTipCheckout(_ context.Context, _ stripeprovider.GoalTipCheckoutParams) (string, error) {
	return testCheckoutURL, s.err
}

func (s *stubCheckout) TreatCheckout(_ context.Context, _ stripeprovider.TreatCheckoutParams) (string, error) {
	return testCheckoutURL, s.err
}

func (s *stubCheckout) UnlockCheckout(_ context.Context, params stripeprovider.UnlockCheckoutParams) (string, error) {
	s.lastUnlock = &params
	return testCheckoutURL, s.err
}

func newTestHandler(t *testing.T, checkout *stubCheckout) *Handler {
	t.Helper()

	handler, err := NewHandler(Config{
		Checkout: checkout,
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return handler
}

func doJSON(t *testing.T, handler *Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.Routes().ServeHTTP(w, req)
	return w
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(Config{Webhook: http.NotFoundHandler()})
	assert.Error(t, err, "checkout service is required")

	_, err = NewHandler(Config{Checkout: &stubCheckout{}})
	assert.Error(t, err, "webhook handler is required")
}

func TestTipCheckout_HappyPath(t *testing.T) {
	checkout := &stubCheckout{}
	handler := newTestHandler(t, checkout)

	w := doJSON(t, handler, "/checkout/tip", `{"account_id":"acc_1","amount_cents":500}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testCheckoutURL, resp.URL)

	require.NotNil(t, checkout.lastTip)
	assert.Equal(t, int64(500), checkout.lastTip.AmountCents)
	assert.Equal(t, "acc_1", checkout.lastTip.AccountID)
}

func TestCheckout_ValidationRejections(t *testing.T) {
	handler := newTestHandler(t, &stubCheckout{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"tip below minimum", "/checkout/tip", `{"amount_cents":50}`},
		{"tip above maximum", "/checkout/tip", `{"amount_cents":200000}`},
		{"tip missing amount", "/checkout/tip", `{"account_id":"acc_1"}`},
		{"goal tip missing post", "/checkout/goal-tip", `{"amount_cents":500}`},
		{"subscription missing account", "/checkout/subscription", `{}`},
		{"unlock missing content", "/checkout/unlock", `{"account_id":"acc_1"}`},
		{"unlock bad kind", "/checkout/unlock", `{"account_id":"acc_1","content_id":"post_1","kind":"video"}`},
		{"unknown field", "/checkout/tip", `{"amount_cents":500,"price_cents":1}`},
		{"malformed json", "/checkout/tip", `{"amount_cents":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, handler, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid amount", payments.ErrInvalidAmount, http.StatusBadRequest},
		{"post not found", payments.ErrPostNotFound, http.StatusBadRequest},
		{"goal disabled", payments.ErrGoalDisabled, http.StatusBadRequest},
		{"unlock disabled", payments.ErrUnlockDisabled, http.StatusBadRequest},
		{"account not found", payments.ErrAccountNotFound, http.StatusBadRequest},
		{"not configured", payments.ErrNotConfigured, http.StatusInternalServerError},
		{"transient failure", errors.New("store unavailable"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(t, &stubCheckout{err: tt.err})
			w := doJSON(t, handler, "/checkout/goal-tip", `{"post_id":"post_1","amount_cents":500}`)
			assert.Equal(t, tt.expected, w.Code, w.Body.String())
		})
	}
}

func TestCheckout_InternalErrorsAreNotLeaked(t *testing.T) {
	handler := newTestHandler(t, &stubCheckout{err: errors.New("firestore: connection refused")})

	w := doJSON(t, handler, "/checkout/tip", `{"amount_cents":500}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "firestore")
}

func TestUnlockCheckout_PassesKindThrough(t *testing.T) {
	checkout := &stubCheckout{}
	handler := newTestHandler(t, checkout)

	w := doJSON(t, handler, "/checkout/unlock",
		`{"account_id":"acc_1","content_id":"media_1","kind":"dm_media"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NotNil(t, checkout.lastUnlock)
	assert.Equal(t, payments.UnlockDMMedia, checkout.lastUnlock.Kind)
	assert.Equal(t, "media_1", checkout.lastUnlock.ContentID)
}

func TestSubscriptionCheckout_SourceTag(t *testing.T) {
	checkout := &stubCheckout{}
	handler := newTestHandler(t, checkout)

	w := doJSON(t, handler, "/checkout/subscription", `{"account_id":"acc_1","source":"profile_page"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NotNil(t, checkout.subscription)
	assert.Equal(t, "profile_page", checkout.subscription.Source)
}

func TestRoutes_WebhookMounted(t *testing.T) {
	webhookCalled := false
	handler, err := NewHandler(Config{
		Checkout: &stubCheckout{},
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			webhookCalled = true
			w.WriteHeader(http.StatusOK)
		}),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	handler.Routes().ServeHTTP(w, req)

	assert.True(t, webhookCalled, "webhook handler was not invoked")
}
