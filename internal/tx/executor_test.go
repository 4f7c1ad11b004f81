package tx

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notevm/internal/account"
	"notevm/internal/asset"
	"notevm/internal/errkind"
	"notevm/internal/note"
	"notevm/internal/word"
)

// mapResolver serves notes from a plain map, standing in for the ledger.
type mapResolver map[word.Word]*note.Note

func (m mapResolver) GetNote(id word.Word) (*note.Note, error) {
	n, ok := m[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "mapResolver", "note %s unknown", id.Hex())
	}
	return n, nil
}

type testEnv struct {
	store     *account.Store
	lib       *ScriptLibrary
	exec      *Executor
	faucet    *account.Account
	alice     *account.Account
	bob       *account.Account
	p2idRoot  word.Word
	p2idhRoot word.Word
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	lib, p2idRoot, p2idhRoot, err := DefaultLibrary()
	require.NoError(t, err)

	store := account.NewStore(zerolog.Nop())
	faucet := account.New(account.Faucet, account.PublicState, nil, nil, word.NewWord(1, 0, 0, 0))
	alice := account.New(account.Wallet, account.PrivateState, nil, nil, word.NewWord(2, 0, 0, 0))
	bob := account.New(account.Wallet, account.PrivateState, nil, nil, word.NewWord(3, 0, 0, 0))
	store.Put(faucet)
	store.Put(alice)
	store.Put(bob)

	return &testEnv{
		store:     store,
		lib:       lib,
		exec:      NewExecutor(store, lib, zerolog.Nop()),
		faucet:    faucet,
		alice:     alice,
		bob:       bob,
		p2idRoot:  p2idRoot,
		p2idhRoot: p2idhRoot,
	}
}

func (e *testEnv) lockedNote(t *testing.T, owner account.ID, amount uint64, scriptRoot word.Word, inputs []word.Word) *note.Note {
	t.Helper()
	v := asset.NewVault()
	require.NoError(t, v.Add(asset.FungibleAsset{FaucetID: e.faucet.ID, Amount: amount}))
	n, err := note.New(v, scriptRoot, inputs, word.RandomWord(), note.Metadata{
		Sender: e.faucet.ID,
		Type:   note.Public,
		Tag:    uint32(owner[0]),
		Hint:   note.HintAlways,
	})
	require.NoError(t, err)
	return n
}

// mint runs a faucet mint transaction for the given pre-built note and
// commits it, so consumption tests start from settled state.
func (e *testEnv) mint(t *testing.T, n *note.Note) {
	t.Helper()
	script, err := CompileScript(MintSource(n.Recipient(), n.Meta.Tag, n.Vault.Assets()[0].Amount))
	require.NoError(t, err)

	req, err := NewRequestBuilder(e.faucet.ID).
		WithCustomScript(script, "mint").
		WithOwnOutputNotes(n).
		Build()
	require.NoError(t, err)

	et, err := e.exec.Execute(context.Background(), req, mapResolver{})
	require.NoError(t, err)
	require.NoError(t, e.store.Commit(et.Delta, et.ObservedNonce))
}

func TestMintCreatesDeclaredNote(t *testing.T) {
	e := newTestEnv(t)
	n := e.lockedNote(t, e.alice.ID, 500, e.p2idRoot, []word.Word{e.alice.ID})

	script, err := CompileScript(MintSource(n.Recipient(), n.Meta.Tag, 500))
	require.NoError(t, err)
	req, err := NewRequestBuilder(e.faucet.ID).
		WithCustomScript(script, "mint").
		WithOwnOutputNotes(n).
		Build()
	require.NoError(t, err)

	et, err := e.exec.Execute(context.Background(), req, mapResolver{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), et.ObservedNonce)
	assert.Len(t, et.CreatedNotes, 1)
	assert.True(t, et.Delta.NonceIncremented)
	assert.Empty(t, et.ConsumedNotes)

	require.NoError(t, e.store.Commit(et.Delta, et.ObservedNonce))
	nonce, err := e.store.Nonce(e.faucet.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestP2IDConsumption(t *testing.T) {
	e := newTestEnv(t)
	n := e.lockedNote(t, e.alice.ID, 500, e.p2idRoot, []word.Word{e.alice.ID})
	e.mint(t, n)

	req, err := NewRequestBuilder(e.alice.ID).
		WithAuthenticatedInput(n.ID()).
		Build()
	require.NoError(t, err)

	et, err := e.exec.Execute(context.Background(), req, mapResolver{n.ID(): n})
	require.NoError(t, err)
	assert.Equal(t, []word.Word{n.ID()}, et.ConsumedNotes)
	assert.True(t, et.Delta.NonceIncremented)

	require.NoError(t, e.store.Commit(et.Delta, et.ObservedNonce))
	acct, err := e.store.Get(e.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), acct.Vault.Balance(e.faucet.ID))
}

func TestDuplicateInputRejected(t *testing.T) {
	e := newTestEnv(t)
	n := e.lockedNote(t, e.alice.ID, 500, e.p2idRoot, []word.Word{e.alice.ID})
	e.mint(t, n)

	// Listing the same note twice must not credit it twice.
	req, err := NewRequestBuilder(e.alice.ID).
		WithAuthenticatedInput(n.ID()).
		WithAuthenticatedInput(n.ID()).
		Build()
	require.NoError(t, err)

	_, err = e.exec.Execute(context.Background(), req, mapResolver{n.ID(): n})
	require.Error(t, err)
	assert.True(t, errkind.IsBuild(err))

	acct, err := e.store.Get(e.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acct.Vault.Balance(e.faucet.ID))
	assert.Equal(t, uint64(0), acct.Nonce)
}

func TestP2IDRejectsWrongAccount(t *testing.T) {
	e := newTestEnv(t)
	n := e.lockedNote(t, e.alice.ID, 100, e.p2idRoot, []word.Word{e.alice.ID})
	e.mint(t, n)

	// Bob tries to consume a note locked to alice.
	req, err := NewRequestBuilder(e.bob.ID).
		WithAuthenticatedInput(n.ID()).
		Build()
	require.NoError(t, err)

	_, err = e.exec.Execute(context.Background(), req, mapResolver{n.ID(): n})
	require.Error(t, err)
	assert.True(t, errkind.IsExecution(err))
}

func TestP2IDHPreimageLock(t *testing.T) {
	e := newTestEnv(t)
	secret := word.NewWord(11, 22, 33, 44)
	n := e.lockedNote(t, e.alice.ID, 250, e.p2idhRoot,
		[]word.Word{e.alice.ID, word.HashWords(secret)})
	e.mint(t, n)

	// The wrong preimage fails the hash check.
	req, err := NewRequestBuilder(e.alice.ID).
		WithAuthenticatedInput(n.ID(), word.NewWord(9, 9, 9, 9)).
		Build()
	require.NoError(t, err)
	_, err = e.exec.Execute(context.Background(), req, mapResolver{n.ID(): n})
	require.Error(t, err)
	assert.True(t, errkind.IsExecution(err))

	// The right preimage unlocks the note.
	req, err = NewRequestBuilder(e.alice.ID).
		WithAuthenticatedInput(n.ID(), secret).
		Build()
	require.NoError(t, err)
	et, err := e.exec.Execute(context.Background(), req, mapResolver{n.ID(): n})
	require.NoError(t, err)

	require.NoError(t, e.store.Commit(et.Delta, et.ObservedNonce))
	acct, _ := e.store.Get(e.alice.ID)
	assert.Equal(t, uint64(250), acct.Vault.Balance(e.faucet.ID))
}

func TestMissingAuthenticatedInputIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	req, err := NewRequestBuilder(e.alice.ID).
		WithAuthenticatedInput(word.NewWord(9, 9, 9, 9)).
		Build()
	require.NoError(t, err)

	_, err = e.exec.Execute(context.Background(), req, mapResolver{})
	require.Error(t, err)
	assert.True(t, errkind.IsNotFound(err))
}

func TestUnauthenticatedInputCarriesOwnEvidence(t *testing.T) {
	e := newTestEnv(t)
	n := e.lockedNote(t, e.alice.ID, 75, e.p2idRoot, []word.Word{e.alice.ID})

	// No resolver entry: the full note data rides along in the request.
	req, err := NewRequestBuilder(e.alice.ID).
		WithUnauthenticatedInput(n).
		Build()
	require.NoError(t, err)

	et, err := e.exec.Execute(context.Background(), req, mapResolver{})
	require.NoError(t, err)
	require.Len(t, et.InputNotes, 1)
	assert.True(t, et.InputNotes[0].Unauthenticated)
}

func TestNonceRuleRequiresAuthorization(t *testing.T) {
	e := newTestEnv(t)
	script, err := CompileScript(`
proc poke
    push.1
    push.0
    push.0
    push.0
    set_item.0
end
`)
	require.NoError(t, err)

	// A mutating script that never increments the nonce needs the key holder.
	req, err := NewRequestBuilder(e.alice.ID).
		WithCustomScript(script, "poke").
		Build()
	require.NoError(t, err)
	_, err = e.exec.Execute(context.Background(), req, mapResolver{})
	require.Error(t, err)
	assert.True(t, errkind.IsExecution(err))

	// The owner's signature stands in for the increment.
	req, err = NewRequestBuilder(e.alice.ID).
		WithCustomScript(script, "poke").
		Authenticated().
		Build()
	require.NoError(t, err)
	et, err := e.exec.Execute(context.Background(), req, mapResolver{})
	require.NoError(t, err)
	assert.True(t, et.Delta.NonceIncremented, "the version must still advance exactly once")
}

func TestDeclaredOutputsMustMatchEmitted(t *testing.T) {
	e := newTestEnv(t)
	n := e.lockedNote(t, e.alice.ID, 500, e.p2idRoot, []word.Word{e.alice.ID})
	other := e.lockedNote(t, e.bob.ID, 500, e.p2idRoot, []word.Word{e.bob.ID})

	script, err := CompileScript(MintSource(n.Recipient(), n.Meta.Tag, 500))
	require.NoError(t, err)

	// Declaring a note the script never creates fails.
	req, err := NewRequestBuilder(e.faucet.ID).
		WithCustomScript(script, "mint").
		WithOwnOutputNotes(other).
		Build()
	require.NoError(t, err)
	_, err = e.exec.Execute(context.Background(), req, mapResolver{})
	require.Error(t, err)
	assert.True(t, errkind.IsBuild(err))

	// Declaring nothing while the script creates a note also fails.
	req, err = NewRequestBuilder(e.faucet.ID).
		WithCustomScript(script, "mint").
		Build()
	require.NoError(t, err)
	_, err = e.exec.Execute(context.Background(), req, mapResolver{})
	require.Error(t, err)
	assert.True(t, errkind.IsBuild(err))
}

func TestCounterRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	storage := account.NewStorage(1)
	counter := account.New(account.Contract, account.PublicState, nil, storage, word.NewWord(7, 0, 0, 0))
	e.store.Put(counter)

	bump, err := CompileScript(`
proc bump
    get_item.0
    push.1
    add
    set_item.0
    incr_nonce
end
`)
	require.NoError(t, err)

	run := func() {
		req, err := NewRequestBuilder(counter.ID).
			WithCustomScript(bump, "bump").
			Build()
		require.NoError(t, err)
		et, err := e.exec.Execute(ctx, req, mapResolver{})
		require.NoError(t, err)
		require.NoError(t, e.store.Commit(et.Delta, et.ObservedNonce))
	}

	run()
	acct, err := e.store.Get(counter.ID)
	require.NoError(t, err)
	assert.Equal(t, word.NewWord(0, 0, 0, 1), acct.Storage.GetItem(0))
	assert.Equal(t, uint64(1), acct.Nonce)

	run()
	acct, err = e.store.Get(counter.ID)
	require.NoError(t, err)
	assert.Equal(t, word.NewWord(0, 0, 0, 2), acct.Storage.GetItem(0))
	assert.Equal(t, uint64(2), acct.Nonce)
}

func TestFailedScriptLeavesStateUntouched(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	storage := account.NewStorage(1)
	target := account.New(account.Contract, account.PublicState, nil, storage, word.NewWord(8, 0, 0, 0))
	e.store.Put(target)

	// Writes a slot, then fails an assertion: nothing may survive.
	script, err := CompileScript(`
proc write_then_fail
    pushw.0000000000000000000000000000000000000000000000000000000000000063
    set_item.0
    incr_nonce
    push.0
    assert
end
`)
	require.NoError(t, err)

	req, err := NewRequestBuilder(target.ID).
		WithCustomScript(script, "write_then_fail").
		Build()
	require.NoError(t, err)

	_, err = e.exec.Execute(ctx, req, mapResolver{})
	assert.True(t, errkind.IsExecution(err), "err = %v", err)

	acct, err := e.store.Get(target.ID)
	require.NoError(t, err)
	assert.Equal(t, word.ZeroWord, acct.Storage.GetItem(0))
	assert.Equal(t, uint64(0), acct.Nonce)
}

func TestMatchOutputsMultiAssetNote(t *testing.T) {
	e := newTestEnv(t)
	a1 := asset.FungibleAsset{FaucetID: e.faucet.ID, Amount: 100}
	a2 := asset.FungibleAsset{FaucetID: word.NewWord(9, 0, 0, 0), Amount: 25}

	v := asset.NewVault()
	require.NoError(t, v.Add(a1))
	require.NoError(t, v.Add(a2))
	n, err := note.New(v, e.p2idRoot, []word.Word{e.alice.ID}, word.RandomWord(), note.Metadata{
		Type: note.Public,
		Tag:  4,
		Hint: note.HintAlways,
	})
	require.NoError(t, err)

	em := func(a asset.FungibleAsset) emittedNote {
		return emittedNote{Recipient: n.Recipient(), Tag: n.Meta.Tag, Asset: a}
	}

	// A two-asset note is evidenced by two emissions to its recipient.
	assert.NoError(t, matchOutputs([]*note.Note{n}, []emittedNote{em(a1), em(a2)}))

	// A missing emission is a subset, rejected.
	err = matchOutputs([]*note.Note{n}, []emittedNote{em(a1)})
	assert.True(t, errkind.IsBuild(err), "err = %v", err)

	// An emission with the wrong amount never matches.
	wrong := a2
	wrong.Amount = 26
	err = matchOutputs([]*note.Note{n}, []emittedNote{em(a1), em(wrong)})
	assert.True(t, errkind.IsBuild(err), "err = %v", err)

	// A declared note with an empty vault has no emission evidencing it.
	empty, err := note.New(asset.NewVault(), e.p2idRoot, []word.Word{e.alice.ID}, word.RandomWord(), note.Metadata{
		Type: note.Public,
		Tag:  4,
		Hint: note.HintAlways,
	})
	require.NoError(t, err)
	err = matchOutputs([]*note.Note{empty}, nil)
	assert.True(t, errkind.IsBuild(err), "err = %v", err)
}

func TestSendOverdrawFails(t *testing.T) {
	e := newTestEnv(t)
	out := e.lockedNote(t, e.bob.ID, 100, e.p2idRoot, []word.Word{e.bob.ID})

	// Alice holds nothing; paying 100 out of her vault must fail during
	// execution, before anything is staged for commit.
	script, err := CompileScript(SendSource(e.faucet.ID, out.Recipient(), out.Meta.Tag, 100))
	require.NoError(t, err)
	req, err := NewRequestBuilder(e.alice.ID).
		WithCustomScript(script, "send").
		WithOwnOutputNotes(out).
		Build()
	require.NoError(t, err)

	_, err = e.exec.Execute(context.Background(), req, mapResolver{})
	require.Error(t, err)
	assert.True(t, errkind.IsExecution(err))
}

func TestSendMovesAssets(t *testing.T) {
	e := newTestEnv(t)
	funding := e.lockedNote(t, e.alice.ID, 300, e.p2idRoot, []word.Word{e.alice.ID})
	e.mint(t, funding)

	out := e.lockedNote(t, e.bob.ID, 120, e.p2idRoot, []word.Word{e.bob.ID})
	script, err := CompileScript(SendSource(e.faucet.ID, out.Recipient(), out.Meta.Tag, 120))
	require.NoError(t, err)

	// Consume the funding note and emit the payment in one transaction.
	req, err := NewRequestBuilder(e.alice.ID).
		WithAuthenticatedInput(funding.ID()).
		WithCustomScript(script, "send").
		WithOwnOutputNotes(out).
		Build()
	require.NoError(t, err)

	et, err := e.exec.Execute(context.Background(), req, mapResolver{funding.ID(): funding})
	require.NoError(t, err)
	require.NoError(t, e.store.Commit(et.Delta, et.ObservedNonce))

	acct, _ := e.store.Get(e.alice.ID)
	assert.Equal(t, uint64(180), acct.Vault.Balance(e.faucet.ID))
}

func TestExecuteUnknownAccount(t *testing.T) {
	e := newTestEnv(t)
	req, err := NewRequestBuilder(word.NewWord(42, 42, 42, 42)).
		WithAuthenticatedInput(word.NewWord(1, 1, 1, 1)).
		Build()
	require.NoError(t, err)

	_, err = e.exec.Execute(context.Background(), req, mapResolver{})
	require.Error(t, err)
	assert.True(t, errkind.IsNotFound(err))
}

func TestRequestBuilderValidation(t *testing.T) {
	_, err := NewRequestBuilder(word.ZeroWord).
		WithAuthenticatedInput(word.NewWord(1, 1, 1, 1)).
		Build()
	assert.Error(t, err, "zero target should be rejected")

	_, err = NewRequestBuilder(word.NewWord(1, 1, 1, 1)).Build()
	assert.Error(t, err, "a request with no inputs and no script is empty")

	_, err = NewRequestBuilder(word.NewWord(1, 1, 1, 1)).
		WithUnauthenticatedInput(nil).
		Build()
	assert.Error(t, err, "unauthenticated inputs need full note data")
}
