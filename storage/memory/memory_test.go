package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumapage/payments/pkg/payments"
)

func TestUpsertLedger_Idempotent(t *testing.T) {
	store := New()
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
			t.Fatalf("UpsertLedger failed: %v", err)
		}
	}

	if n := store.LedgerCount(payments.LedgerTip); n != 1 {
		t.Errorf("Expected 1 ledger record after replays, got %d", n)
	}

	got, err := store.GetLedger(ctx, payments.LedgerTip, rec.ID)
	if err != nil {
		t.Fatalf("GetLedger failed: %v", err)
	}
	if got == nil || got.AmountCents != 500 {
		t.Errorf("Unexpected ledger record: %+v", got)
	}
}

func TestGetLedger_AbsenceIsNotAnError(t *testing.T) {
	store := New()

	rec, err := store.GetLedger(context.Background(), payments.LedgerTip, "checkout_missing")
	if err != nil {
		t.Fatalf("GetLedger failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil record, got %+v", rec)
	}
}

func TestLedgerKindsAreSeparateNamespaces(t *testing.T) {
	store := New()
	ctx := context.Background()

	// Same deterministic id in two different ledgers must not collide.
	for _, kind := range []payments.LedgerKind{payments.LedgerTip, payments.LedgerPurchase} {
		err := store.UpsertLedger(ctx, &payments.LedgerRecord{
			ID:   "checkout_cs_1",
			Kind: kind,
		})
		if err != nil {
			t.Fatalf("UpsertLedger(%s) failed: %v", kind, err)
		}
	}

	if n := store.LedgerCount(payments.LedgerTip); n != 1 {
		t.Errorf("tip ledger count = %d", n)
	}
	if n := store.LedgerCount(payments.LedgerPurchase); n != 1 {
		t.Errorf("purchase ledger count = %d", n)
	}
}

func TestCreateMember_NoOpWhenExists(t *testing.T) {
	store := New()
	ctx := context.Background()

	joined := time.Unix(1700000000, 0).UTC()
	member := &payments.Member{
		ID:             "sub_1",
		AccountID:      "acc_1",
		Status:         payments.MemberActive,
		SubscriptionID: "sub_1",
		JoinedAt:       joined,
	}
	if err := store.CreateMember(ctx, member); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	// Cancel, then replay the original creation. The replay must not
	// resurrect the cancelled record.
	endedAt := joined.Add(30 * 24 * time.Hour)
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
		t.Errorf("Expected cancelled status after replay, got %s", got.Status)
	}
	if got.AccessEndsAt == nil || !got.AccessEndsAt.Equal(endedAt) {
		t.Errorf("Expected access end %v, got %v", endedAt, got.AccessEndsAt)
	}
}

func TestScheduleMemberEnd_KeepsStatusActive(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.CreateMember(ctx, &payments.Member{
		ID:     "sub_1",
		Status: payments.MemberActive,
	}); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	endsAt := time.Unix(1700500000, 0).UTC()
	if err := store.ScheduleMemberEnd(ctx, "sub_1", endsAt); err != nil {
		t.Fatalf("ScheduleMemberEnd failed: %v", err)
	}

	got, err := store.FindMemberBySubscriptionID(ctx, "sub_1")
	if err != nil {
		t.Fatalf("FindMemberBySubscriptionID failed: %v", err)
	}
	if got.Status != payments.MemberActive {
		t.Errorf("Scheduling an end must not change status, got %s", got.Status)
	}
	if got.AccessEndsAt == nil || !got.AccessEndsAt.Equal(endsAt) {
		t.Errorf("Expected access end %v, got %v", endsAt, got.AccessEndsAt)
	}
}

func TestFindMemberByCustomerID_MostRecentWins(t *testing.T) {
	store := New()
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	for i, id := range []string{"sub_old", "sub_new"} {
		err := store.CreateMember(ctx, &payments.Member{
			ID:         id,
			CustomerID: "cus_1",
			Status:     payments.MemberActive,
			JoinedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateMember(%s) failed: %v", id, err)
		}
	}

	got, err := store.FindMemberByCustomerID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("FindMemberByCustomerID failed: %v", err)
	}
	if got.ID != "sub_new" {
		t.Errorf("Expected most recent member sub_new, got %s", got.ID)
	}

	if _, err := store.FindMemberByCustomerID(ctx, "cus_other"); !errors.Is(err, payments.ErrMemberNotFound) {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
}

func TestAddGoalProgress(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.SeedPost(&payments.Post{
		ID:   "post_1",
		Goal: payments.Goal{Enabled: true, RaisedCents: 1000},
	})

	if err := store.AddGoalProgress(ctx, "post_1", 500, "contrib_1"); err != nil {
		t.Fatalf("AddGoalProgress failed: %v", err)
	}

	post, err := store.GetPost(ctx, "post_1")
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	if post.Goal.RaisedCents != 1500 {
		t.Errorf("Expected 1500 raised, got %d", post.Goal.RaisedCents)
	}
}

func TestAddGoalProgress_DedupByContributionID(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.SeedPost(&payments.Post{
		ID:   "post_1",
		Goal: payments.Goal{Enabled: true},
	})

	for i := 0; i < 5; i++ {
		if err := store.AddGoalProgress(ctx, "post_1", 500, "contrib_1"); err != nil {
			t.Fatalf("AddGoalProgress replay %d failed: %v", i, err)
		}
	}

	post, _ := store.GetPost(ctx, "post_1")
	if post.Goal.RaisedCents != 500 {
		t.Errorf("Replayed contribution must count once, got %d", post.Goal.RaisedCents)
	}
}

func TestAddGoalProgress_Errors(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.SeedPost(&payments.Post{
		ID:   "post_disabled",
		Goal: payments.Goal{Enabled: false},
	})

	if err := store.AddGoalProgress(ctx, "post_missing", 500, "c1"); !errors.Is(err, payments.ErrPostNotFound) {
		t.Errorf("Expected ErrPostNotFound, got %v", err)
	}
	if err := store.AddGoalProgress(ctx, "post_disabled", 500, "c2"); !errors.Is(err, payments.ErrGoalDisabled) {
		t.Errorf("Expected ErrGoalDisabled, got %v", err)
	}

	// A disabled goal must not record the contribution as applied: if the
	// goal is re-enabled before a redelivery, the contribution still counts.
	store.SeedPost(&payments.Post{
		ID:   "post_disabled",
		Goal: payments.Goal{Enabled: true},
	})
	if err := store.AddGoalProgress(ctx, "post_disabled", 500, "c2"); err != nil {
		t.Fatalf("AddGoalProgress after re-enable failed: %v", err)
	}
	post, _ := store.GetPost(ctx, "post_disabled")
	if post.Goal.RaisedCents != 500 {
		t.Errorf("Expected 500 raised after re-enable, got %d", post.Goal.RaisedCents)
	}
}

func TestAddGoalProgress_ConcurrentContributionsSumExactly(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.SeedPost(&payments.Post{
		ID:   "post_1",
		Goal: payments.Goal{Enabled: true},
	})

	const workers = 50
	const amount = int64(200)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("contrib_%d", i)
		g.Go(func() error {
			// Each contribution is delivered twice, as a redelivering
			// webhook would.
			if err := store.AddGoalProgress(ctx, "post_1", amount, id); err != nil {
				return err
			}
			return store.AddGoalProgress(ctx, "post_1", amount, id)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Concurrent AddGoalProgress failed: %v", err)
	}

	post, _ := store.GetPost(ctx, "post_1")
	if expected := int64(workers) * amount; post.Goal.RaisedCents != expected {
		t.Errorf("Expected exactly %d raised, got %d", expected, post.Goal.RaisedCents)
	}
}

func TestGrantUnlock_SetSemantics(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.SeedAccount(&payments.Account{ID: "acc_1"})

	for i := 0; i < 3; i++ {
		if err := store.GrantUnlock(ctx, "acc_1", "post_9", payments.UnlockPost); err != nil {
			t.Fatalf("GrantUnlock failed: %v", err)
		}
	}
	if err := store.GrantUnlock(ctx, "acc_1", "media_3", payments.UnlockDMMedia); err != nil {
		t.Fatalf("GrantUnlock failed: %v", err)
	}

	account, err := store.GetAccount(ctx, "acc_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if len(account.UnlockedPosts) != 1 || account.UnlockedPosts[0] != "post_9" {
		t.Errorf("Unexpected unlocked posts: %v", account.UnlockedPosts)
	}
	if len(account.UnlockedMedia) != 1 || account.UnlockedMedia[0] != "media_3" {
		t.Errorf("Unexpected unlocked media: %v", account.UnlockedMedia)
	}

	if err := store.GrantUnlock(ctx, "acc_missing", "post_9", payments.UnlockPost); !errors.Is(err, payments.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestSetAccountCustomerID(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.SeedAccount(&payments.Account{ID: "acc_1"})

	if err := store.SetAccountCustomerID(ctx, "acc_1", "cus_1"); err != nil {
		t.Fatalf("SetAccountCustomerID failed: %v", err)
	}

	account, err := store.FindAccountByCustomerID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("FindAccountByCustomerID failed: %v", err)
	}
	if account.ID != "acc_1" {
		t.Errorf("Expected acc_1, got %s", account.ID)
	}
}
