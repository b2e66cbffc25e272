package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/lumapage/payments/pkg/payments"
)

const testProjectID = "test-project"

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestGetInt64(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected int64
	}{
		{"int64", int64(500), 500},
		{"int", 500, 500},
		{"float64", float64(499.6), 500},
		{"missing", nil, 0},
		{"wrong type", "500", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := map[string]interface{}{}
			if tt.value != nil {
				data["k"] = tt.value
			}
			if got := getInt64(data, "k"); got != tt.expected {
				t.Errorf("getInt64 = %d, expected %d", got, tt.expected)
			}
		})
	}
}

func TestGetStringSlice(t *testing.T) {
	data := map[string]interface{}{
		"ids":   []interface{}{"a", "b", 3, "c"},
		"wrong": "not a slice",
	}

	got := getStringSlice(data, "ids")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("getStringSlice = %v", got)
	}
	if getStringSlice(data, "wrong") != nil {
		t.Error("Expected nil for non-slice value")
	}
	if getStringSlice(data, "missing") != nil {
		t.Error("Expected nil for missing key")
	}
}

// Integration tests below run against the Firestore emulator. Start it with:
//
//	gcloud emulators firestore start --host-port=localhost:8080
//	export FIRESTORE_EMULATOR_HOST=localhost:8080

func setupEmulatorStore(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping emulator tests")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	// Unique collection names per test run so runs don't interfere.
	suffix := fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano())
	store, err := New(client, Config{
		AccountsCollection:      "test_accounts_" + suffix,
		PostsCollection:         "test_posts_" + suffix,
		MembersCollection:       "test_members_" + suffix,
		ContributionsCollection: "test_contribs_" + suffix,
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestEmulator_LedgerUpsertConverges(t *testing.T) {
	store := setupEmulatorStore(t)
	ctx := context.Background()

	rec := &payments.LedgerRecord{
		ID:          payments.CheckoutLedgerID("cs_1"),
		Kind:        payments.LedgerTip,
		AmountCents: 500,
		Currency:    "usd",
		OccurredAt:  time.Unix(1700000000, 0).UTC(),
	}
	for i := 0; i < 3; i++ {
		if err := store.UpsertLedger(ctx, rec); err != nil {
			t.Fatalf("UpsertLedger replay %d failed: %v", i, err)
		}
	}

	got, err := store.GetLedger(ctx, payments.LedgerTip, rec.ID)
	if err != nil {
		t.Fatalf("GetLedger failed: %v", err)
	}
	if got == nil || got.AmountCents != 500 {
		t.Errorf("Unexpected ledger record: %+v", got)
	}
}

func TestEmulator_GoalProgressDedup(t *testing.T) {
	store := setupEmulatorStore(t)
	ctx := context.Background()

	_, err := store.client.Collection(store.postsCollection).Doc("post_1").Set(ctx, map[string]interface{}{
		"goalEnabled":     true,
		"goalRaisedCents": int64(1000),
	})
	if err != nil {
		t.Fatalf("Failed to seed post: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.AddGoalProgress(ctx, "post_1", 500, "contrib_1"); err != nil {
			t.Fatalf("AddGoalProgress replay %d failed: %v", i, err)
		}
	}

	post, err := store.GetPost(ctx, "post_1")
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	if post.Goal.RaisedCents != 1500 {
		t.Errorf("Expected 1500 raised after replays, got %d", post.Goal.RaisedCents)
	}
}

func TestEmulator_CreateMemberDoesNotResurrect(t *testing.T) {
	store := setupEmulatorStore(t)
	ctx := context.Background()

	member := &payments.Member{
		ID:             "sub_1",
		AccountID:      "acc_1",
		Status:         payments.MemberActive,
		SubscriptionID: "sub_1",
		JoinedAt:       time.Unix(1700000000, 0).UTC(),
	}
	if err := store.CreateMember(ctx, member); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	endedAt := time.Unix(1700100000, 0).UTC()
	if err := store.CancelMember(ctx, "sub_1", endedAt); err != nil {
		t.Fatalf("CancelMember failed: %v", err)
	}
	if err := store.CreateMember(ctx, member); err != nil {
		t.Fatalf("Replayed CreateMember failed: %v", err)
	}

	got, err := store.FindMemberBySubscriptionID(ctx, "sub_1")
	if err != nil {
		t.Fatalf("FindMemberBySubscriptionID failed: %v", err)
	}
	if got.Status != payments.MemberCancelled {
		t.Errorf("Expected cancelled after replay, got %s", got.Status)
	}
}

func TestEmulator_GrantUnlockSetSemantics(t *testing.T) {
	store := setupEmulatorStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.GrantUnlock(ctx, "acc_1", "post_9", payments.UnlockPost); err != nil {
			t.Fatalf("GrantUnlock replay %d failed: %v", i, err)
		}
	}

	account, err := store.GetAccount(ctx, "acc_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if len(account.UnlockedPosts) != 1 {
		t.Errorf("Expected one grant after replays, got %v", account.UnlockedPosts)
	}
}
