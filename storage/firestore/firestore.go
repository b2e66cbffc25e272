// Package firestore provides a Firestore implementation of the
// payments.Store interface. Writes follow the idempotency rules the
// reconciliation core depends on: ledger and member documents are merge-set
// under deterministic ids, goal progress runs in a transaction with a bounded
// attempt count, and unlock grants use ArrayUnion set semantics.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lumapage/payments/pkg/payments"
)

const goalTxMaxAttempts = 5

// emailFields are the account email field variants, tried in order. The
// schema evolved; older documents carry the address under a legacy name.
var emailFields = []string{"email", "userEmail", "contactEmail"}

// ledgerCollections maps each ledger kind to its collection.
var ledgerCollections = map[payments.LedgerKind]string{
	payments.LedgerTip:                 "tips",
	payments.LedgerPurchase:            "purchases",
	payments.LedgerSubscriptionPayment: "subscription_payments",
	payments.LedgerPostUnlock:          "post_unlocks",
	payments.LedgerDMMediaUnlock:       "dm_media_unlocks",
}

// Store implements payments.Store using Google Cloud Firestore
type Store struct {
	client                  *firestore.Client
	accountsCollection      string
	postsCollection         string
	membersCollection       string
	contributionsCollection string
}

// Config holds Firestore store configuration
type Config struct {
	// AccountsCollection is the collection for account records.
	// Default: "accounts"
	AccountsCollection string

	// PostsCollection is the collection for content records carrying the
	// embedded goal counter and unlock configuration.
	// Default: "posts"
	PostsCollection string

	// MembersCollection is the collection for membership records.
	// Default: "members"
	MembersCollection string

	// ContributionsCollection is the collection of applied goal
	// contribution ids, written inside the counter transaction.
	// Default: "goal_contributions"
	ContributionsCollection string
}

// New creates a new Firestore store adapter
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.AccountsCollection == "" {
		config.AccountsCollection = "accounts"
	}
	if config.PostsCollection == "" {
		config.PostsCollection = "posts"
	}
	if config.MembersCollection == "" {
		config.MembersCollection = "members"
	}
	if config.ContributionsCollection == "" {
		config.ContributionsCollection = "goal_contributions"
	}

	return &Store{
		client:                  client,
		accountsCollection:      config.AccountsCollection,
		postsCollection:         config.PostsCollection,
		membersCollection:       config.MembersCollection,
		contributionsCollection: config.ContributionsCollection,
	}, nil
}

// GetAccount implements payments.Store
func (s *Store) GetAccount(ctx context.Context, id string) (*payments.Account, error) {
	snap, err := s.client.Collection(s.accountsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, payments.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return accountFromSnap(snap), nil
}

// FindAccountByEmail implements payments.Store. Each legacy email field is
// queried in order with exact matches only; the first hit wins.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*payments.Account, error) {
	for _, field := range emailFields {
		iter := s.client.Collection(s.accountsCollection).
			Where(field, "==", email).
			Limit(1).
			Documents(ctx)
		snap, err := iter.Next()
		iter.Stop()
		if err != nil {
			if isIteratorDone(err) {
				continue
			}
			return nil, fmt.Errorf("failed to query accounts by %s: %w", field, err)
		}
		return accountFromSnap(snap), nil
	}
	return nil, payments.ErrAccountNotFound
}

// FindAccountByCustomerID implements payments.Store
func (s *Store) FindAccountByCustomerID(ctx context.Context, customerID string) (*payments.Account, error) {
	iter := s.client.Collection(s.accountsCollection).
		Where("stripeCustomerId", "==", customerID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err != nil {
		if isIteratorDone(err) {
			return nil, payments.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to query accounts by customer id: %w", err)
	}
	return accountFromSnap(snap), nil
}

// SetAccountCustomerID implements payments.Store
func (s *Store) SetAccountCustomerID(ctx context.Context, accountID, customerID string) error {
	doc := s.client.Collection(s.accountsCollection).Doc(accountID)
	_, err := doc.Set(ctx, map[string]interface{}{
		"stripeCustomerId": customerID,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to set account customer id: %w", err)
	}
	return nil
}

// GrantUnlock implements payments.Store. ArrayUnion gives set semantics:
// re-granting an already-present content id leaves the document unchanged.
func (s *Store) GrantUnlock(ctx context.Context, accountID, contentID string, kind payments.UnlockKind) error {
	field := "unlockedPosts"
	if kind == payments.UnlockDMMedia {
		field = "unlockedMedia"
	}

	doc := s.client.Collection(s.accountsCollection).Doc(accountID)
	_, err := doc.Set(ctx, map[string]interface{}{
		field: firestore.ArrayUnion(contentID),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to grant unlock: %w", err)
	}
	return nil
}

// GetPost implements payments.Store
func (s *Store) GetPost(ctx context.Context, id string) (*payments.Post, error) {
	snap, err := s.client.Collection(s.postsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, payments.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return postFromSnap(snap), nil
}

// AddGoalProgress implements payments.Store with a transaction-safe
// read-modify-write. The enabled flag is re-checked inside the transaction so
// a goal an admin disabled mid-flight is never resurrected, and the
// contribution id is recorded in the same transaction so replays are no-ops.
func (s *Store) AddGoalProgress(ctx context.Context, postID string, amountCents int64, contributionID string) error {
	if amountCents < 0 {
		return fmt.Errorf("negative contribution amount")
	}

	postDoc := s.client.Collection(s.postsCollection).Doc(postID)

	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if contributionID != "" {
			contribDoc := s.client.Collection(s.contributionsCollection).Doc(contributionID)
			snap, err := tx.Get(contribDoc)
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			if snap.Exists() {
				return nil // already applied
			}
		}

		snap, err := tx.Get(postDoc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return payments.ErrPostNotFound
			}
			return err
		}

		data := snap.Data()
		if !getBool(data, "goalEnabled") {
			return payments.ErrGoalDisabled
		}
		raised := getInt64(data, "goalRaisedCents") + amountCents

		if err := tx.Set(postDoc, map[string]interface{}{
			"goalRaisedCents": raised,
		}, firestore.MergeAll); err != nil {
			return err
		}

		if contributionID != "" {
			contribDoc := s.client.Collection(s.contributionsCollection).Doc(contributionID)
			return tx.Set(contribDoc, map[string]interface{}{
				"postId":      postID,
				"amountCents": amountCents,
			})
		}
		return nil
	}, firestore.MaxAttempts(goalTxMaxAttempts))
}

// CreateMember implements payments.Store. The existence check and create run
// in one transaction: a duplicate delivery, or a completion replayed after
// cancellation, finds the document present and leaves it untouched.
func (s *Store) CreateMember(ctx context.Context, m *payments.Member) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("invalid member")
	}

	doc := s.client.Collection(s.membersCollection).Doc(m.ID)

	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap.Exists() {
			return nil
		}

		data := map[string]interface{}{
			"accountId":      m.AccountID,
			"status":         string(m.Status),
			"customerId":     m.CustomerID,
			"subscriptionId": m.SubscriptionID,
			"joinedAt":       m.JoinedAt,
		}
		if m.Source != "" {
			data["source"] = m.Source
		}
		return tx.Create(doc, data)
	})
}

// FindMemberBySubscriptionID implements payments.Store
func (s *Store) FindMemberBySubscriptionID(ctx context.Context, subscriptionID string) (*payments.Member, error) {
	snap, err := s.client.Collection(s.membersCollection).Doc(subscriptionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, payments.ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return memberFromSnap(snap), nil
}

// FindMemberByCustomerID implements payments.Store, returning the most
// recently joined match when the customer holds several. Requires a
// composite index on the members collection: customerId ASC, joinedAt DESC.
func (s *Store) FindMemberByCustomerID(ctx context.Context, customerID string) (*payments.Member, error) {
	iter := s.client.Collection(s.membersCollection).
		Where("customerId", "==", customerID).
		OrderBy("joinedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err != nil {
		if isIteratorDone(err) {
			return nil, payments.ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to query members by customer id: %w", err)
	}
	return memberFromSnap(snap), nil
}

// ScheduleMemberEnd implements payments.Store
func (s *Store) ScheduleMemberEnd(ctx context.Context, memberID string, endsAt time.Time) error {
	doc := s.client.Collection(s.membersCollection).Doc(memberID)
	_, err := doc.Set(ctx, map[string]interface{}{
		"accessEndsAt": endsAt,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to schedule member end: %w", err)
	}
	return nil
}

// CancelMember implements payments.Store
func (s *Store) CancelMember(ctx context.Context, memberID string, endedAt time.Time) error {
	doc := s.client.Collection(s.membersCollection).Doc(memberID)
	_, err := doc.Set(ctx, map[string]interface{}{
		"status":       string(payments.MemberCancelled),
		"accessEndsAt": endedAt,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to cancel member: %w", err)
	}
	return nil
}

// UpsertLedger implements payments.Store. Merge-set under the deterministic
// record id: replaying the same event converges to the same document instead
// of appending a duplicate.
func (s *Store) UpsertLedger(ctx context.Context, rec *payments.LedgerRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid ledger record")
	}
	collection, ok := ledgerCollections[rec.Kind]
	if !ok {
		return fmt.Errorf("unknown ledger kind %q", rec.Kind)
	}

	data := map[string]interface{}{
		"kind":        string(rec.Kind),
		"amountCents": rec.AmountCents,
		"currency":    rec.Currency,
		"occurredAt":  rec.OccurredAt,
	}
	if rec.AccountID != "" {
		data["accountId"] = rec.AccountID
	}
	if rec.PostID != "" {
		data["postId"] = rec.PostID
	}
	if rec.ContentID != "" {
		data["contentId"] = rec.ContentID
	}
	if rec.CustomerID != "" {
		data["customerId"] = rec.CustomerID
	}
	if rec.SubscriptionID != "" {
		data["subscriptionId"] = rec.SubscriptionID
	}
	if rec.Source != "" {
		data["source"] = rec.Source
	}

	_, err := s.client.Collection(collection).Doc(rec.ID).Set(ctx, data, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger record: %w", err)
	}
	return nil
}

// GetLedger implements payments.Store. Absence is not an error.
func (s *Store) GetLedger(ctx context.Context, kind payments.LedgerKind, id string) (*payments.LedgerRecord, error) {
	collection, ok := ledgerCollections[kind]
	if !ok {
		return nil, fmt.Errorf("unknown ledger kind %q", kind)
	}

	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger record: %w", err)
	}

	data := snap.Data()
	return &payments.LedgerRecord{
		ID:             snap.Ref.ID,
		Kind:           kind,
		AccountID:      getString(data, "accountId"),
		PostID:         getString(data, "postId"),
		ContentID:      getString(data, "contentId"),
		AmountCents:    getInt64(data, "amountCents"),
		Currency:       getString(data, "currency"),
		CustomerID:     getString(data, "customerId"),
		SubscriptionID: getString(data, "subscriptionId"),
		Source:         getString(data, "source"),
		OccurredAt:     getTime(data, "occurredAt"),
	}, nil
}

// Snapshot decoding helpers. Documents predate this service and carry
// historical field variants, so decoding goes through the data map rather
// than struct tags.

func accountFromSnap(snap *firestore.DocumentSnapshot) *payments.Account {
	data := snap.Data()
	a := &payments.Account{
		ID:          snap.Ref.ID,
		Email:       getString(data, "email"),
		LegacyEmail: getString(data, "userEmail"),
		CustomerID:  getString(data, "stripeCustomerId"),
	}
	if a.LegacyEmail == "" {
		a.LegacyEmail = getString(data, "contactEmail")
	}
	a.UnlockedPosts = getStringSlice(data, "unlockedPosts")
	a.UnlockedMedia = getStringSlice(data, "unlockedMedia")
	return a
}

func postFromSnap(snap *firestore.DocumentSnapshot) *payments.Post {
	data := snap.Data()
	return &payments.Post{
		ID:    snap.Ref.ID,
		Title: getString(data, "title"),
		Goal: payments.Goal{
			Enabled:     getBool(data, "goalEnabled"),
			RaisedCents: getInt64(data, "goalRaisedCents"),
		},
		Unlock: payments.Unlock{
			Enabled:    getBool(data, "unlockEnabled"),
			PriceCents: getInt64(data, "unlockPriceCents"),
		},
	}
}

func memberFromSnap(snap *firestore.DocumentSnapshot) *payments.Member {
	data := snap.Data()
	m := &payments.Member{
		ID:             snap.Ref.ID,
		AccountID:      getString(data, "accountId"),
		Status:         payments.MemberStatus(getString(data, "status")),
		CustomerID:     getString(data, "customerId"),
		SubscriptionID: getString(data, "subscriptionId"),
		Source:         getString(data, "source"),
		JoinedAt:       getTime(data, "joinedAt"),
	}
	if endsAt, ok := data["accessEndsAt"].(time.Time); ok && !endsAt.IsZero() {
		m.AccessEndsAt = &endsAt
	}
	return m
}

func isIteratorDone(err error) bool {
	return errors.Is(err, iterator.Done)
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getStringSlice(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
