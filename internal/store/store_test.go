package store

import (
	"testing"

	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/asset"
	"notevm/internal/errkind"
	"notevm/internal/note"
	"notevm/internal/word"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open("", zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testNote(t *testing.T, amount uint64, tag uint32) *note.Note {
	t.Helper()
	v := asset.NewVault()
	if err := v.Add(asset.FungibleAsset{FaucetID: word.NewWord(1, 1, 1, 1), Amount: amount}); err != nil {
		t.Fatalf("vault setup failed: %v", err)
	}
	n, err := note.New(v, word.NewWord(2, 2, 2, 2), []word.Word{word.NewWord(3, 0, 0, 0)},
		word.RandomWord(), note.Metadata{Type: note.Public, Tag: tag, Hint: note.HintAlways})
	if err != nil {
		t.Fatalf("note setup failed: %v", err)
	}
	return n
}

func TestNoteRoundTrip(t *testing.T) {
	c := openTestCache(t)
	n := testNote(t, 100, 7)

	if err := c.PutNote(n); err != nil {
		t.Fatalf("PutNote failed: %v", err)
	}
	got, consumed, err := c.GetNote(n.ID())
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if consumed {
		t.Error("fresh note should not be consumed")
	}
	if got.ID() != n.ID() {
		t.Error("note id changed through the cache")
	}

	_, _, err = c.GetNote(word.NewWord(9, 9, 9, 9))
	if err == nil {
		t.Fatal("unknown note should not resolve")
	}
	if !errkind.IsNotFound(err) {
		t.Errorf("expected a not-found error, got %v", err)
	}
}

func TestMarkConsumed(t *testing.T) {
	c := openTestCache(t)
	n := testNote(t, 100, 7)
	if err := c.PutNote(n); err != nil {
		t.Fatalf("PutNote failed: %v", err)
	}

	if err := c.MarkConsumed(n.ID(), 3); err != nil {
		t.Fatalf("MarkConsumed failed: %v", err)
	}
	_, consumed, err := c.GetNote(n.ID())
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if !consumed {
		t.Error("note should be marked consumed")
	}

	if err := c.MarkConsumed(word.NewWord(8, 8, 8, 8), 3); !errkind.IsNotFound(err) {
		t.Errorf("MarkConsumed on unknown note should be not-found, got %v", err)
	}
}

func TestUnspentNotes(t *testing.T) {
	c := openTestCache(t)
	n1 := testNote(t, 100, 1)
	n2 := testNote(t, 200, 2)
	n3 := testNote(t, 300, 3)

	for _, n := range []*note.Note{n1, n2, n3} {
		if err := c.PutNote(n); err != nil {
			t.Fatalf("PutNote failed: %v", err)
		}
	}
	// A header-only entry has no full data and must not be listed.
	if err := c.PutNoteHeader(testNote(t, 50, 4).Header()); err != nil {
		t.Fatalf("PutNoteHeader failed: %v", err)
	}
	if err := c.MarkConsumed(n2.ID(), 1); err != nil {
		t.Fatalf("MarkConsumed failed: %v", err)
	}

	unspent, err := c.UnspentNotes()
	if err != nil {
		t.Fatalf("UnspentNotes failed: %v", err)
	}
	if len(unspent) != 2 {
		t.Fatalf("expected 2 unspent notes, got %d", len(unspent))
	}
	ids := map[word.Word]bool{}
	for _, n := range unspent {
		ids[n.ID()] = true
	}
	if !ids[n1.ID()] || !ids[n3.ID()] {
		t.Error("wrong unspent set")
	}
}

func TestAccountSnapshot(t *testing.T) {
	c := openTestCache(t)
	acct := account.New(account.Wallet, account.PublicState, nil, nil, word.NewWord(1, 0, 0, 0))
	acct.Nonce = 5

	if err := c.PutAccountSnapshot(acct); err != nil {
		t.Fatalf("PutAccountSnapshot failed: %v", err)
	}
	nonce, err := c.AccountNonce(acct.ID)
	if err != nil {
		t.Fatalf("AccountNonce failed: %v", err)
	}
	if nonce != 5 {
		t.Errorf("nonce = %d, want 5", nonce)
	}

	if _, err := c.AccountNonce(word.NewWord(9, 9, 9, 9)); !errkind.IsNotFound(err) {
		t.Errorf("unknown account should be not-found, got %v", err)
	}
}

func TestTxRecordStatusHistory(t *testing.T) {
	c := openTestCache(t)
	id := word.NewWord(4, 4, 4, 4)

	for _, s := range []string{"executed", "proven", "pending", "committed"} {
		if err := c.AppendTxStatus(id, s, ""); err != nil {
			t.Fatalf("AppendTxStatus failed: %v", err)
		}
	}
	rec, err := c.GetTxRecord(id)
	if err != nil {
		t.Fatalf("GetTxRecord failed: %v", err)
	}
	if len(rec.History) != 4 {
		t.Fatalf("expected 4 status changes, got %d", len(rec.History))
	}
	if rec.History[0].Status != "executed" || rec.History[3].Status != "committed" {
		t.Error("status history out of order")
	}

	if _, err := c.GetTxRecord(word.NewWord(5, 5, 5, 5)); !errkind.IsNotFound(err) {
		t.Errorf("unknown tx should be not-found, got %v", err)
	}
}

func TestSyncHeight(t *testing.T) {
	c := openTestCache(t)

	h, err := c.SyncHeight()
	if err != nil {
		t.Fatalf("SyncHeight failed: %v", err)
	}
	if h != 0 {
		t.Errorf("fresh cache should report height 0, got %d", h)
	}

	if err := c.SetSyncHeight(12); err != nil {
		t.Fatalf("SetSyncHeight failed: %v", err)
	}
	h, err = c.SyncHeight()
	if err != nil {
		t.Fatalf("SyncHeight failed: %v", err)
	}
	if h != 12 {
		t.Errorf("height = %d, want 12", h)
	}
}
