package rss

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBlacklistEmptyNeverBlocks(t *testing.T) {
	b := NewBlacklist()
	if b.IsBlocked(Entry{Title: "anything", Summary: "at all"}) {
		t.Fatal("空屏蔽词集合不应屏蔽任何条目")
	}
}

func TestBlacklistCaseInsensitive(t *testing.T) {
	b := NewBlacklist("SpAm")

	tests := []struct {
		entry Entry
		want  bool
	}{
		{Entry{Title: "SPAM alert"}, true},
		{Entry{Title: "hello", Summary: "buy spam now"}, true},
		{Entry{Title: "antispammer"}, true},
		{Entry{Title: "hello", Summary: "world"}, false},
		{Entry{Link: "https://spam.example.com"}, false},
	}
	for _, tc := range tests {
		if got := b.IsBlocked(tc.entry); got != tc.want {
			t.Errorf("IsBlocked(%+v) = %v, want %v", tc.entry, got, tc.want)
		}
	}
}

func TestBlacklistAddRemove(t *testing.T) {
	b := NewBlacklist()

	if !b.Add("  Crypto ") {
		t.Fatal("first Add should report a change")
	}
	if b.Add("crypto") {
		t.Error("Add should be idempotent after normalization")
	}
	if b.Add("   ") {
		t.Error("blank terms should be ignored")
	}
	b.Add("AI")

	if diff := cmp.Diff([]string{"ai", "crypto"}, b.Terms()); diff != "" {
		t.Errorf("Terms mismatch (-want +got):\n%s", diff)
	}

	if !b.Remove("CRYPTO") {
		t.Error("Remove should match case-insensitively")
	}
	if b.Remove("missing") {
		t.Error("removing an absent term should be a no-op")
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 term left, got %d", b.Len())
	}
}
