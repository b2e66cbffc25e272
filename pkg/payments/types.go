// Package payments contains the domain model and storage contract for the
// Lumapage payment-event reconciliation core: checkout flows, ledger records,
// membership state, goal counters and content unlock grants.
package payments

import (
	"fmt"
	"time"
)

// Flow identifies one of the five monetization flows a checkout session can
// be created for. The flow tag is embedded in the session metadata and read
// back by the webhook handler to re-derive effects without server-side
// session storage.
type Flow string

const (
	FlowSubscription Flow = "subscription"
	FlowTip          Flow = "tip"
	FlowGoalTip      Flow = "goal_tip"
	FlowTreat        Flow = "treat"
	FlowUnlock       Flow = "unlock"
)

// Charge bounds for user-entered amounts, in cents. Enforced before any
// provider call; session amounts are re-read server-side on the webhook path
// because client-visible metadata is not trustworthy.
const (
	MinChargeCents int64 = 100
	MaxChargeCents int64 = 100000
)

// Metadata keys carried on checkout sessions. These are the only correlation
// state between the synchronous checkout request and the asynchronous
// webhook delivery.
const (
	MetaFlow       = "flow"
	MetaAccountID  = "account_id"
	MetaPostID     = "post_id"
	MetaContentID  = "content_id"
	MetaUnlockKind = "unlock_kind"
	MetaSource     = "source"
)

// CheckoutIntent is the validated, provider-agnostic description of a
// checkout session about to be created. It is ephemeral: nothing is persisted
// until the provider reports completion, so an abandoned checkout leaves no
// partial record.
type CheckoutIntent struct {
	Flow        Flow
	AmountCents int64             // one-time flows; 0 when PriceID is set
	PriceID     string            // pre-configured price (subscription, treat)
	Description string            // line item label for ad hoc amounts
	Correlation map[string]string // session metadata
}

// LedgerKind selects the per-flow ledger a payment record belongs to.
type LedgerKind string

const (
	LedgerTip                 LedgerKind = "tip"
	LedgerPurchase            LedgerKind = "purchase"
	LedgerSubscriptionPayment LedgerKind = "subscriptionPayment"
	LedgerPostUnlock          LedgerKind = "postUnlock"
	LedgerDMMediaUnlock       LedgerKind = "dmMediaUnlock"
)

// LedgerRecord is one payment occurrence. Records are keyed deterministically
// from the triggering provider object so replays of the same event merge into
// the same document instead of duplicating it. OccurredAt is pinned to the
// provider's event time, never wall-clock time, so merges are deterministic.
type LedgerRecord struct {
	ID             string
	Kind           LedgerKind
	AccountID      string
	PostID         string
	ContentID      string
	AmountCents    int64
	Currency       string
	CustomerID     string
	SubscriptionID string
	Source         string
	OccurredAt     time.Time
}

// CheckoutLedgerID derives the deterministic ledger key for a checkout
// session completion.
func CheckoutLedgerID(sessionID string) string {
	return fmt.Sprintf("checkout_%s", sessionID)
}

// InvoiceLedgerID derives the deterministic ledger key for an invoice
// payment.
func InvoiceLedgerID(invoiceID string) string {
	return fmt.Sprintf("invoice_%s", invoiceID)
}

// MemberStatus is the lifecycle state of a membership record. Cancelled is
// terminal: reactivation goes through a fresh checkout, which carries a new
// provider subscription id and therefore a new Member record.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberCancelled MemberStatus = "cancelled"
)

// Member is one subscription membership. The record is keyed by the provider
// subscription id, which makes creation naturally idempotent under webhook
// redelivery.
type Member struct {
	ID             string // provider subscription id
	AccountID      string
	Status         MemberStatus
	CustomerID     string
	SubscriptionID string
	Source         string // optional referral/source tag from the session
	JoinedAt       time.Time
	AccessEndsAt   *time.Time
}

// Goal is the funding counter embedded in a post. RaisedCents only increases
// and concurrent contributions must sum exactly.
type Goal struct {
	Enabled     bool
	RaisedCents int64
}

// Unlock is the pay-to-view configuration embedded in a post.
type Unlock struct {
	Enabled    bool
	PriceCents int64
}

// Post is the subset of a content record this subsystem reads: the embedded
// goal counter and unlock configuration.
type Post struct {
	ID     string
	Title  string
	Goal   Goal
	Unlock Unlock
}

// UnlockKind distinguishes the two gated content types an unlock checkout
// can target.
type UnlockKind string

const (
	UnlockPost    UnlockKind = "post"
	UnlockDMMedia UnlockKind = "dm_media"
)

// LedgerKindForUnlock maps an unlock kind to its ledger.
func LedgerKindForUnlock(kind UnlockKind) LedgerKind {
	if kind == UnlockDMMedia {
		return LedgerDMMediaUnlock
	}
	return LedgerPostUnlock
}

// Account is the internal account record, consumed not owned by this
// subsystem. Email fields reflect the legacy schema variants still present
// in the store; the resolver tries them in a fixed order.
type Account struct {
	ID            string
	Email         string
	LegacyEmail   string
	CustomerID    string // provider customer id, backfilled on first checkout
	UnlockedPosts []string
	UnlockedMedia []string
}

// HasUnlock reports whether the account already holds a grant for the given
// content id.
func (a *Account) HasUnlock(kind UnlockKind, contentID string) bool {
	set := a.UnlockedPosts
	if kind == UnlockDMMedia {
		set = a.UnlockedMedia
	}
	for _, id := range set {
		if id == contentID {
			return true
		}
	}
	return false
}
