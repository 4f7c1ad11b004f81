// host.go - The execution host backing the vm engine during a transaction.
//
// The host overlays a staged delta on top of a snapshot of the target
// account, tracks the note currently being consumed, records emitted output
// notes, and routes foreign calls into the pre-resolved FPI context. Nothing
// here touches the account store; the delta is handed to settlement only if
// the whole transaction succeeds.

package tx

import (
	"context"

	"notevm/internal/account"
	"notevm/internal/asset"
	"notevm/internal/errkind"
	"notevm/internal/fpi"
	"notevm/internal/note"
	"notevm/internal/word"
)

// emittedNote is one output-note creation recorded during execution.
type emittedNote struct {
	Recipient word.Word
	Tag       uint32
	Asset     asset.FungibleAsset
}

type host struct {
	ctx     context.Context
	acct    *account.Account // immutable snapshot
	delta   *account.Delta
	foreign *fpi.Context

	// consumed note context; nil outside note-script execution
	current *note.Note

	emitted []emittedNote

	// vault balances as staged so far, for overdraw checks during emission
	staged *asset.Vault

	nonceIncremented bool
}

func newHost(ctx context.Context, acct *account.Account, foreign *fpi.Context) *host {
	return &host{
		ctx:     ctx,
		acct:    acct,
		delta:   account.NewDelta(acct.ID),
		foreign: foreign,
		staged:  acct.Vault.Clone(),
	}
}

func (h *host) AccountID() word.Word { return h.acct.ID }

func (h *host) GetItem(slot uint8) (word.Word, error) {
	if v, ok := h.delta.SlotWrite(slot); ok {
		return v, nil
	}
	return h.acct.Storage.GetItem(slot), nil
}

func (h *host) SetItem(slot uint8, value word.Word) error {
	h.delta.SetItem(slot, value)
	return nil
}

func (h *host) GetMapItem(slot uint8, key word.Word) (word.Word, error) {
	if v, ok := h.delta.MapWrite(slot, key); ok {
		return v, nil
	}
	return h.acct.Storage.GetMapItem(slot, key), nil
}

func (h *host) SetMapItem(slot uint8, key, value word.Word) error {
	h.delta.SetMapItem(slot, key, value)
	return nil
}

// IncrementNonce authorizes the transaction's state changes. The nonce
// advances once per committed transaction no matter how many consumed note
// scripts request it, so repeat calls are no-ops.
func (h *host) IncrementNonce() error {
	h.nonceIncremented = true
	h.delta.IncrementNonce()
	return nil
}

func (h *host) NoteInput(i int) (word.Word, error) {
	if h.current == nil {
		return word.ZeroWord, errkind.New(errkind.Execution, "tx.NoteInput",
			"no note is being consumed")
	}
	if i < 0 || i >= len(h.current.Inputs) {
		return word.ZeroWord, errkind.New(errkind.Execution, "tx.NoteInput",
			"note input %d out of range (note has %d inputs)", i, len(h.current.Inputs))
	}
	return h.current.Inputs[i], nil
}

func (h *host) MoveNoteAssets() error {
	if h.current == nil {
		return errkind.New(errkind.Execution, "tx.MoveNoteAssets",
			"no note is being consumed")
	}
	for _, a := range h.current.Vault.Assets() {
		if err := h.staged.Add(a); err != nil {
			return err
		}
		h.delta.AddAsset(a)
	}
	return nil
}

func (h *host) EmitNote(recipient word.Word, tag word.Felt, faucet word.Word, amount word.Felt) error {
	a, err := asset.NewFungibleAsset(faucet, amount)
	if err != nil {
		return err
	}
	// A faucet mints its own asset out of thin air; any other emission pays
	// out of the executing account's vault.
	if !(h.acct.Type == account.Faucet && faucet == h.acct.ID) {
		if err := h.staged.Remove(a); err != nil {
			return err
		}
		h.delta.RemoveAsset(a)
	}
	h.emitted = append(h.emitted, emittedNote{
		Recipient: recipient,
		Tag:       uint32(tag),
		Asset:     a,
	})
	return nil
}

func (h *host) CallForeign(accountID, procRoot word.Word, args []word.Felt) ([]word.Felt, error) {
	if h.foreign == nil {
		return nil, errkind.New(errkind.Execution, "tx.CallForeign",
			"transaction declared no foreign accounts")
	}
	return h.foreign.Call(h.ctx, accountID, procRoot, args)
}
