package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumapage/payments/pkg/payments"
	"github.com/lumapage/payments/internal"
	stripeprovider "github.com/lumapage/payments/pkg/payments/stripe"
)

const maxRequestBodyBytes = 16 * 1024

// Routes returns the chi router for the payments API. Checkout endpoints are
// rate limited per client IP; the webhook handler carries its own limiter.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimiter.Middleware)
		r.Post("/checkout/subscription", h.CreateSubscriptionCheckout)
		r.Post("/checkout/tip", h.CreateTipCheckout)
		r.Post("/checkout/goal-tip", h.CreateGoalTipCheckout)
		r.Post("/checkout/treat", h.CreateTreatCheckout)
		r.Post("/checkout/unlock", h.CreateUnlockCheckout)
	})

	r.Method(http.MethodPost, "/webhooks/stripe", h.config.Webhook)

	return r
}

// CreateSubscriptionCheckout handles POST /checkout/subscription
func (h *Handler) CreateSubscriptionCheckout(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionCheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	url, err := h.config.Checkout.SubscriptionCheckout(r.Context(), stripeprovider.SubscriptionCheckoutParams{
		AccountID: req.AccountID,
		Source:    req.Source,
	})
	h.respond(w, url, err)
}

// CreateTipCheckout handles POST /checkout/tip
func (h *Handler) CreateTipCheckout(w http.ResponseWriter, r *http.Request) {
	var req TipCheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	url, err := h.config.Checkout.TipCheckout(r.Context(), stripeprovider.TipCheckoutParams{
		AccountID:   req.AccountID,
		AmountCents: req.AmountCents,
	})
	h.respond(w, url, err)
}

// CreateGoalTipCheckout handles POST /checkout/goal-tip
func (h *Handler) CreateGoalTipCheckout(w http.ResponseWriter, r *http.Request) {
	var req GoalTipCheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	url, err := h.config.Checkout.GoalTipCheckout(r.Context(), stripeprovider.GoalTipCheckoutParams{
		AccountID:   req.AccountID,
		PostID:      req.PostID,
		AmountCents: req.AmountCents,
	})
	h.respond(w, url, err)
}

// CreateTreatCheckout handles POST /checkout/treat
func (h *Handler) CreateTreatCheckout(w http.ResponseWriter, r *http.Request) {
	var req TreatCheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	url, err := h.config.Checkout.TreatCheckout(r.Context(), stripeprovider.TreatCheckoutParams{
		AccountID: req.AccountID,
	})
	h.respond(w, url, err)
}

// CreateUnlockCheckout handles POST /checkout/unlock
func (h *Handler) CreateUnlockCheckout(w http.ResponseWriter, r *http.Request) {
	var req UnlockCheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	url, err := h.config.Checkout.UnlockCheckout(r.Context(), stripeprovider.UnlockCheckoutParams{
		AccountID: req.AccountID,
		ContentID: req.ContentID,
		Kind:      payments.UnlockKind(req.Kind),
	})
	h.respond(w, url, err)
}

// decode parses and validates the request body. Writes the error response
// itself and returns false when the request is bad.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer func() {
		_ = r.Body.Close()
	}()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.writeError(w, http.StatusBadRequest, "invalid field: "+verrs[0].Field())
		} else {
			h.writeError(w, http.StatusBadRequest, "invalid request")
		}
		return false
	}
	return true
}

// respond maps a checkout outcome to the wire. Validation failures are the
// user's to fix (400); missing configuration and backend trouble are ours
// (500), phrased so the client can show "try again".
func (h *Handler) respond(w http.ResponseWriter, url string, err error) {
	if err == nil {
		_ = internal.WriteJSON(w, http.StatusOK, CheckoutResponse{URL: url})
		return
	}

	switch {
	case errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrPostNotFound),
		errors.Is(err, payments.ErrAccountNotFound),
		errors.Is(err, payments.ErrGoalDisabled),
		errors.Is(err, payments.ErrUnlockDisabled):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payments.ErrNotConfigured):
		h.config.Logger.Error().Err(err).Msg("checkout endpoint not configured")
		h.writeError(w, http.StatusInternalServerError, "payments are not configured")
	default:
		h.config.Logger.Error().Err(err).Msg("checkout creation failed")
		h.writeError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	_ = internal.WriteJSON(w, code, ErrorResponse{Error: msg})
}
