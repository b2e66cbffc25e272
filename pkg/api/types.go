package api

// SubscriptionCheckoutRequest starts a subscription checkout.
type SubscriptionCheckoutRequest struct {
	AccountID string `json:"account_id" validate:"required,max=255"`
	Source    string `json:"source" validate:"omitempty,max=64"`
}

// TipCheckoutRequest starts a one-time tip checkout. The account is optional;
// tips may be anonymous.
type TipCheckoutRequest struct {
	AccountID   string `json:"account_id" validate:"omitempty,max=255"`
	AmountCents int64  `json:"amount_cents" validate:"required,min=100,max=100000"`
}

// GoalTipCheckoutRequest starts a goal-linked tip checkout.
type GoalTipCheckoutRequest struct {
	AccountID   string `json:"account_id" validate:"omitempty,max=255"`
	PostID      string `json:"post_id" validate:"required,max=255"`
	AmountCents int64  `json:"amount_cents" validate:"required,min=100,max=100000"`
}

// TreatCheckoutRequest starts a paid treat checkout.
type TreatCheckoutRequest struct {
	AccountID string `json:"account_id" validate:"omitempty,max=255"`
}

// UnlockCheckoutRequest starts a content unlock checkout. The price is never
// taken from the client; it is read from the content record server-side.
type UnlockCheckoutRequest struct {
	AccountID string `json:"account_id" validate:"required,max=255"`
	ContentID string `json:"content_id" validate:"required,max=255"`
	Kind      string `json:"kind" validate:"omitempty,oneof=post dm_media"`
}

// CheckoutResponse carries the provider-hosted redirect URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// ErrorResponse carries a human-readable failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}
