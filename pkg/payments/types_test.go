package payments

import "testing"

func TestLedgerIDs(t *testing.T) {
	if got := CheckoutLedgerID("cs_test_123"); got != "checkout_cs_test_123" {
		t.Errorf("CheckoutLedgerID = %s", got)
	}
	if got := InvoiceLedgerID("in_456"); got != "invoice_in_456" {
		t.Errorf("InvoiceLedgerID = %s", got)
	}
}

func TestLedgerKindForUnlock(t *testing.T) {
	tests := []struct {
		kind     UnlockKind
		expected LedgerKind
	}{
		{UnlockPost, LedgerPostUnlock},
		{UnlockDMMedia, LedgerDMMediaUnlock},
		{"", LedgerPostUnlock},
	}
	for _, tt := range tests {
		if got := LedgerKindForUnlock(tt.kind); got != tt.expected {
			t.Errorf("LedgerKindForUnlock(%q) = %s, expected %s", tt.kind, got, tt.expected)
		}
	}
}

func TestAccount_HasUnlock(t *testing.T) {
	account := &Account{
		UnlockedPosts: []string{"post_1"},
		UnlockedMedia: []string{"media_1"},
	}

	if !account.HasUnlock(UnlockPost, "post_1") {
		t.Error("Expected post_1 to be unlocked")
	}
	if account.HasUnlock(UnlockPost, "media_1") {
		t.Error("media_1 is in the wrong set for kind post")
	}
	if !account.HasUnlock(UnlockDMMedia, "media_1") {
		t.Error("Expected media_1 to be unlocked")
	}
	if account.HasUnlock(UnlockDMMedia, "media_2") {
		t.Error("media_2 was never granted")
	}
}
