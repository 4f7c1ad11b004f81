package prover

import (
	"testing"

	"notevm/internal/account"
	"notevm/internal/asset"
	"notevm/internal/note"
	"notevm/internal/tx"
	"notevm/internal/word"
)

func executedFixture(t *testing.T) *tx.ExecutedTransaction {
	t.Helper()
	target := word.NewWord(1, 1, 1, 1)

	v := asset.NewVault()
	if err := v.Add(asset.FungibleAsset{FaucetID: word.NewWord(2, 2, 2, 2), Amount: 50}); err != nil {
		t.Fatalf("vault setup failed: %v", err)
	}
	created, err := note.New(v, word.NewWord(3, 3, 3, 3), nil, word.NewWord(4, 4, 4, 4), note.Metadata{})
	if err != nil {
		t.Fatalf("note setup failed: %v", err)
	}

	d := account.NewDelta(target)
	d.SetItem(0, word.NewWord(0, 0, 0, 9))
	d.IncrementNonce()

	return &tx.ExecutedTransaction{
		TargetID:      target,
		ObservedNonce: 3,
		ConsumedNotes: []word.Word{word.NewWord(5, 5, 5, 5), word.NewWord(6, 6, 6, 6)},
		CreatedNotes:  []*note.Note{created},
		Delta:         d,
	}
}

func TestWitnessLimbLayout(t *testing.T) {
	et := executedFixture(t)
	w := WitnessFromExecuted(et)

	wc := et.WitnessCommitment()
	for i := 0; i < 4; i++ {
		if w.Limbs[i] != wc[i] {
			t.Errorf("limb %d = %d, want witness commitment felt %d", i, w.Limbs[i], wc[i])
		}
	}
	if w.Limbs[4] != 3 {
		t.Errorf("limb 4 = %d, want observed nonce 3", w.Limbs[4])
	}
	if w.Limbs[5] != 2 {
		t.Errorf("limb 5 = %d, want 2 consumed notes", w.Limbs[5])
	}
	if w.Limbs[6] != 1 {
		t.Errorf("limb 6 = %d, want 1 created note", w.Limbs[6])
	}
	if w.Limbs[7] != 0 {
		t.Errorf("limb 7 = %d, want reserved zero", w.Limbs[7])
	}
}

func TestBindingDeterministic(t *testing.T) {
	et := executedFixture(t)
	w := WitnessFromExecuted(et)

	b1 := w.Binding()
	b2 := w.Binding()
	if b1.Cmp(b2) != 0 {
		t.Error("binding is not deterministic")
	}
	if b1.Sign() == 0 {
		t.Error("binding should not be zero")
	}
}

func TestBindingCoversEveryLimb(t *testing.T) {
	et := executedFixture(t)
	base := WitnessFromExecuted(et).Binding()

	for i := 0; i < NumWitnessLimbs; i++ {
		w := WitnessFromExecuted(et)
		w.Limbs[i]++
		if WitnessFromExecuted(et).Binding().Cmp(base) != 0 {
			t.Fatal("fixture binding drifted")
		}
		if w.Binding().Cmp(base) == 0 {
			t.Errorf("flipping limb %d did not change the binding", i)
		}
	}
}

func TestWitnessTracksTransaction(t *testing.T) {
	et := executedFixture(t)
	base := WitnessFromExecuted(et).Binding()

	// Any change to the executed transaction moves the binding.
	et.ObservedNonce++
	if WitnessFromExecuted(et).Binding().Cmp(base) == 0 {
		t.Error("nonce change did not move the binding")
	}
	et.ObservedNonce--

	et.Delta.SetItem(1, word.NewWord(0, 0, 0, 1))
	if WitnessFromExecuted(et).Binding().Cmp(base) == 0 {
		t.Error("delta change did not move the binding")
	}
}
