package payments

import "errors"

var (
	// ErrAccountNotFound is returned when no identity resolution strategy
	// produced a match.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPostNotFound is returned when the referenced content record does
	// not exist.
	ErrPostNotFound = errors.New("post not found")

	// ErrMemberNotFound is returned when no member record matches the
	// subscription or customer id.
	ErrMemberNotFound = errors.New("member not found")

	// ErrGoalDisabled is returned by the counter updater when the parent
	// post no longer has its goal enabled. Callers treat it as a semantic
	// no-op, not a failure.
	ErrGoalDisabled = errors.New("goal is disabled")

	// ErrUnlockDisabled is returned when the target content does not allow
	// unlocking.
	ErrUnlockDisabled = errors.New("unlock is disabled for this content")

	// ErrInvalidAmount is returned when a charge amount is outside the
	// allowed bounds.
	ErrInvalidAmount = errors.New("amount outside allowed bounds")

	// ErrNotConfigured is returned when a flow requires configuration (a
	// price id, an API key) that is missing. This is an operator error, not
	// a user error.
	ErrNotConfigured = errors.New("payments provider not configured")
)
