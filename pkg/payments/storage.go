package payments

import (
	"context"
	"time"
)

// Store is the document-store contract the reconciliation core runs against.
// Implementations must make every write idempotent: ledger and member writes
// are merge-writes against deterministic document ids, goal progress is a
// transactional read-modify-write, and unlock grants use set semantics.
//
// All methods honor context cancellation and return wrapped sentinel errors
// from this package where a condition is meaningful to callers.
type Store interface {
	// GetAccount returns the account with the given id, or
	// ErrAccountNotFound.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// FindAccountByEmail returns the account whose email matches exactly.
	// Implementations try the legacy email field variants in a fixed order.
	// Returns ErrAccountNotFound when no field matches.
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)

	// FindAccountByCustomerID returns the account holding the given provider
	// customer id, or ErrAccountNotFound.
	FindAccountByCustomerID(ctx context.Context, customerID string) (*Account, error)

	// SetAccountCustomerID records the provider customer id on an account.
	// Merge-write; replaying the same id is a no-op.
	SetAccountCustomerID(ctx context.Context, accountID, customerID string) error

	// GrantUnlock adds a content id to the account's unlock set for the
	// given kind. Set semantics: re-granting an already-present id is a
	// no-op, never a duplicate.
	GrantUnlock(ctx context.Context, accountID, contentID string, kind UnlockKind) error

	// GetPost returns the content record with the given id, or
	// ErrPostNotFound.
	GetPost(ctx context.Context, id string) (*Post, error)

	// AddGoalProgress atomically increments the post's goal counter. The
	// enabled flag is re-checked inside the same transaction; a disabled
	// goal returns ErrGoalDisabled without writing. The contribution id (the
	// deterministic ledger key) is recorded inside the same transaction, so
	// replaying the same contribution is a no-op under any interleaving.
	// Retried on transaction conflict up to a bounded attempt count.
	AddGoalProgress(ctx context.Context, postID string, amountCents int64, contributionID string) error

	// CreateMember creates the member record keyed by its provider
	// subscription id. If a record with that id already exists the call is
	// a no-op; in particular it never resurrects a cancelled member.
	CreateMember(ctx context.Context, m *Member) error

	// FindMemberBySubscriptionID returns the member keyed by the provider
	// subscription id, or ErrMemberNotFound.
	FindMemberBySubscriptionID(ctx context.Context, subscriptionID string) (*Member, error)

	// FindMemberByCustomerID returns the most recently joined member for the
	// provider customer id, or ErrMemberNotFound.
	FindMemberByCustomerID(ctx context.Context, customerID string) (*Member, error)

	// ScheduleMemberEnd records a scheduled access end time without changing
	// the member's status. Merge-write.
	ScheduleMemberEnd(ctx context.Context, memberID string, endsAt time.Time) error

	// CancelMember sets the member's status to cancelled and pins the access
	// end to the event time. Merge-write; replaying the same event converges
	// to the same document.
	CancelMember(ctx context.Context, memberID string, endedAt time.Time) error

	// UpsertLedger merge-writes a ledger record under its deterministic id.
	UpsertLedger(ctx context.Context, rec *LedgerRecord) error

	// GetLedger returns the ledger record with the given id from the kind's
	// collection, or nil when absent. Absence is not an error.
	GetLedger(ctx context.Context, kind LedgerKind, id string) (*LedgerRecord, error)
}
