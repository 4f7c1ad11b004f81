// main.go - End-to-end settlement scenario.
//
// This walks the full pipeline on one in-process node:
//   - deploy a faucet, two wallets and a counter contract
//   - mint a preimage-locked note and consume it with the secret
//   - read the counter contract's storage through a foreign procedure call
//   - chain three unauthenticated note consumptions inside a single block
//
// Usage:
//   go run main.go

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/asset"
	"notevm/internal/client"
	"notevm/internal/note"
	"notevm/internal/prover"
	"notevm/internal/settle"
	"notevm/internal/store"
	"notevm/internal/tx"
	"notevm/internal/word"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("scenario failed")
	}
}

func run(logger zerolog.Logger) error {
	ctx := context.Background()

	// 1. Shared state: account store, script library, prover, ledger.
	accounts := account.NewStore(logger)
	library, p2idRoot, p2idhRoot, err := tx.DefaultLibrary()
	if err != nil {
		return err
	}

	logger.Info().Msg("compiling circuit and loading keys")
	prv, err := prover.NewLocalProver("keys", logger)
	if err != nil {
		return err
	}
	ledger := settle.NewLedger(accounts, prv.VerifyingKey(), settle.Config{}, logger)

	// 2. Deploy accounts.
	faucet := account.New(account.Faucet, account.PublicState, nil, nil, word.RandomWord())
	alice := account.New(account.Wallet, account.PrivateState, nil, nil, word.RandomWord())
	bob := account.New(account.Wallet, account.PrivateState, nil, nil, word.RandomWord())

	counterCode, err := tx.CompileScript(`
proc get_count
    get_item.0
end
`)
	if err != nil {
		return err
	}
	counterStorage := account.NewStorage(1)
	counterStorage.SetItem(0, word.NewWord(0, 0, 0, 42))
	counter := account.New(account.Contract, account.PublicState, counterCode, counterStorage, word.RandomWord())

	for _, a := range []*account.Account{faucet, alice, bob, counter} {
		accounts.Put(a)
	}
	logger.Info().
		Str("faucet", faucet.ID.Hex()).
		Str("alice", alice.ID.Hex()).
		Str("bob", bob.ID.Hex()).
		Str("counter", counter.ID.Hex()).
		Msg("accounts deployed")

	// 3. Sessions, one per participant, over in-memory caches.
	cacheF, err := store.Open("", logger)
	if err != nil {
		return err
	}
	defer cacheF.Close()
	cacheA, err := store.Open("", logger)
	if err != nil {
		return err
	}
	defer cacheA.Close()
	cacheB, err := store.Open("", logger)
	if err != nil {
		return err
	}
	defer cacheB.Close()

	faucetSession := client.NewSession(accounts, library, prv, ledger, cacheF, logger)
	aliceSession := client.NewSession(accounts, library, prv, ledger, cacheA, logger)
	bobSession := client.NewSession(accounts, library, prv, ledger, cacheB, logger)

	aliceTag := uint32(alice.ID[0])
	bobTag := uint32(bob.ID[0])

	// 4. Mint a preimage-locked note to alice: consuming it requires both
	// alice's account and the secret preimage.
	secret := word.RandomWord()
	locked, err := buildNote(faucet.ID, 500, p2idhRoot,
		[]word.Word{alice.ID, word.HashWords(secret)}, faucet.ID, aliceTag)
	if err != nil {
		return err
	}
	mintScript, err := tx.CompileScript(tx.MintSource(locked.Recipient(), aliceTag, 500))
	if err != nil {
		return err
	}
	mintReq, err := tx.NewRequestBuilder(faucet.ID).
		WithCustomScript(mintScript, "mint").
		WithOwnOutputNotes(locked).
		Build()
	if err != nil {
		return err
	}
	if _, err := faucetSession.Submit(ctx, mintReq); err != nil {
		return err
	}
	if _, _, err := ledger.ProduceBlock(); err != nil {
		return err
	}
	faucetSession.Sync()
	logger.Info().Str("note", locked.ID().Hex()).Msg("preimage-locked note minted")

	// 5. Alice consumes the locked note, supplying the preimage as a note
	// argument. In the same transaction she reads the counter contract over a
	// foreign procedure call and asserts the expected count.
	getCountRoot, err := counterCode.LookupProcedureRoot("get_count")
	if err != nil {
		return err
	}
	fpiScript, err := tx.CompileScript(fmt.Sprintf(`
proc check_count
    fpi %s %s 0
    push.42
    assert_eq
end
`, counter.ID.Hex(), getCountRoot.Hex()))
	if err != nil {
		return err
	}
	consumeReq, err := tx.NewRequestBuilder(alice.ID).
		WithAuthenticatedInput(locked.ID(), secret).
		WithCustomScript(fpiScript, "check_count").
		Build()
	if err != nil {
		return err
	}
	if _, err := aliceSession.Submit(ctx, consumeReq); err != nil {
		return err
	}
	if _, _, err := ledger.ProduceBlock(); err != nil {
		return err
	}
	aliceSession.Sync()
	logger.Info().Msg("locked note consumed; counter verified over FPI")

	// 6. Three-hop unauthenticated chain, all inside one block:
	//    faucet mints n1 to alice, alice forwards to bob as n2, bob forwards
	//    back to alice as n3. Only the mint is committed state when the later
	//    transactions execute; the consumers carry full note data.
	n1, err := buildNote(faucet.ID, 100, p2idRoot, []word.Word{alice.ID}, faucet.ID, aliceTag)
	if err != nil {
		return err
	}
	mint2, err := tx.CompileScript(tx.MintSource(n1.Recipient(), aliceTag, 100))
	if err != nil {
		return err
	}
	mint2Req, err := tx.NewRequestBuilder(faucet.ID).
		WithCustomScript(mint2, "mint").
		WithOwnOutputNotes(n1).
		Build()
	if err != nil {
		return err
	}
	if _, err := faucetSession.Submit(ctx, mint2Req); err != nil {
		return err
	}

	n2, err := buildNote(faucet.ID, 100, p2idRoot, []word.Word{bob.ID}, alice.ID, bobTag)
	if err != nil {
		return err
	}
	forward1, err := tx.CompileScript(tx.SendSource(faucet.ID, n2.Recipient(), bobTag, 100))
	if err != nil {
		return err
	}
	fwd1Req, err := tx.NewRequestBuilder(alice.ID).
		WithUnauthenticatedInput(n1).
		WithCustomScript(forward1, "send").
		WithOwnOutputNotes(n2).
		Build()
	if err != nil {
		return err
	}
	if _, err := aliceSession.Submit(ctx, fwd1Req); err != nil {
		return err
	}

	n3, err := buildNote(faucet.ID, 100, p2idRoot, []word.Word{alice.ID}, bob.ID, aliceTag)
	if err != nil {
		return err
	}
	forward2, err := tx.CompileScript(tx.SendSource(faucet.ID, n3.Recipient(), aliceTag, 100))
	if err != nil {
		return err
	}
	fwd2Req, err := tx.NewRequestBuilder(bob.ID).
		WithUnauthenticatedInput(n2).
		WithCustomScript(forward2, "send").
		WithOwnOutputNotes(n3).
		Build()
	if err != nil {
		return err
	}
	if _, err := bobSession.Submit(ctx, fwd2Req); err != nil {
		return err
	}

	block, results, err := ledger.ProduceBlock()
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Status != settle.StatusCommitted {
			return fmt.Errorf("chained transaction %s unexpectedly %s: %v",
				res.TxID.Hex(), res.Status, res.Err)
		}
	}
	aliceSession.Sync()
	bobSession.Sync()

	aliceAcct, err := accounts.Get(alice.ID)
	if err != nil {
		return err
	}
	logger.Info().
		Uint64("block", block.Num).
		Int("txs", len(block.TxIDs)).
		Uint64("alice_balance", aliceAcct.Vault.Balance(faucet.ID)).
		Msg("three-hop unauthenticated chain committed in one block")

	fmt.Println("\n=== Scenario complete ===")
	fmt.Printf("Blocks produced:    %d\n", ledger.Height())
	fmt.Printf("Alice balance:      %d\n", aliceAcct.Vault.Balance(faucet.ID))
	fmt.Printf("Final note (n3):    %s\n", n3.ID().Hex())
	return nil
}

// buildNote assembles a single-asset note.
func buildNote(faucetID word.Word, amount uint64, scriptRoot word.Word,
	inputs []word.Word, sender word.Word, tag uint32) (*note.Note, error) {
	vault := asset.NewVault()
	if err := vault.Add(asset.FungibleAsset{FaucetID: faucetID, Amount: amount}); err != nil {
		return nil, err
	}
	return note.New(vault, scriptRoot, inputs, word.RandomWord(), note.Metadata{
		Sender: sender,
		Type:   note.Public,
		Tag:    tag,
		Hint:   note.HintAlways,
	})
}
