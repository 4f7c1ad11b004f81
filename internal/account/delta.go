// delta.go - Staged account state changes.
//
// Script execution never touches an account directly: every write lands in a
// delta, and the delta is applied atomically only when the enclosing
// transaction completes without failure. A transaction that fails anywhere
// simply drops its delta.

package account

import (
	"encoding/json"
	"sort"

	"notevm/internal/asset"
	"notevm/internal/word"
)

// Delta is the staged effect of one transaction on one account.
type Delta struct {
	AccountID ID

	slotWrites map[uint8]word.Word
	mapWrites  map[uint8][]MapEntry // in program order per slot

	AddedAssets   []asset.FungibleAsset
	RemovedAssets []asset.FungibleAsset

	// NonceIncremented marks the delta as publicly authorized. A mutating
	// delta without it is only acceptable from the account's key holder.
	NonceIncremented bool
}

// NewDelta creates an empty delta for an account.
func NewDelta(id ID) *Delta {
	return &Delta{
		AccountID:  id,
		slotWrites: make(map[uint8]word.Word),
		mapWrites:  make(map[uint8][]MapEntry),
	}
}

// SetItem stages a scalar slot write.
func (d *Delta) SetItem(index uint8, value word.Word) {
	d.slotWrites[index] = value
}

// SetMapItem stages a map write. Writes to the same key keep program order.
func (d *Delta) SetMapItem(index uint8, key, value word.Word) {
	d.mapWrites[index] = append(d.mapWrites[index], MapEntry{Key: key, Value: value})
}

// SlotWrite returns the staged value for a slot, if any.
func (d *Delta) SlotWrite(index uint8) (word.Word, bool) {
	v, ok := d.slotWrites[index]
	return v, ok
}

// MapWrite returns the latest staged value for a map key, if any.
func (d *Delta) MapWrite(index uint8, key word.Word) (word.Word, bool) {
	writes := d.mapWrites[index]
	for i := len(writes) - 1; i >= 0; i-- {
		if writes[i].Key == key {
			return writes[i].Value, true
		}
	}
	return word.ZeroWord, false
}

// AddAsset stages an asset deposit.
func (d *Delta) AddAsset(a asset.FungibleAsset) {
	d.AddedAssets = append(d.AddedAssets, a)
}

// RemoveAsset stages an asset withdrawal.
func (d *Delta) RemoveAsset(a asset.FungibleAsset) {
	d.RemovedAssets = append(d.RemovedAssets, a)
}

// IncrementNonce marks the delta as authorized-by-nonce.
func (d *Delta) IncrementNonce() {
	d.NonceIncremented = true
}

// MutatesState reports whether the delta stages any storage or vault change.
func (d *Delta) MutatesState() bool {
	return len(d.slotWrites) > 0 || len(d.mapWrites) > 0 ||
		len(d.AddedAssets) > 0 || len(d.RemovedAssets) > 0
}

// IsEmpty reports whether the delta has no effect at all.
func (d *Delta) IsEmpty() bool {
	return !d.MutatesState() && !d.NonceIncremented
}

// Digest hashes the delta's canonical form. Part of the transaction witness,
// so it must be deterministic: writes are folded in sorted slot order.
func (d *Delta) Digest() word.Word {
	var words []word.Word
	for _, idx := range sortedSlots(d.slotWrites) {
		words = append(words, word.NewWord(uint64(idx), 0, 0, 0), d.slotWrites[idx])
	}
	for _, idx := range sortedMapSlots(d.mapWrites) {
		for _, e := range d.mapWrites[idx] {
			words = append(words, word.NewWord(uint64(idx), 0, 0, 1), e.Key, e.Value)
		}
	}
	for _, a := range d.AddedAssets {
		words = append(words, a.FaucetID, word.NewWord(0, 0, 1, a.Amount))
	}
	for _, a := range d.RemovedAssets {
		words = append(words, a.FaucetID, word.NewWord(0, 0, 2, a.Amount))
	}
	var nonceFlag word.Felt
	if d.NonceIncremented {
		nonceFlag = 1
	}
	words = append(words, word.NewWord(0, 0, 0, nonceFlag))
	return word.HashWithDomain("delta", append([]word.Word{d.AccountID}, words...)...)
}

type deltaWire struct {
	AccountID        ID                   `json:"account_id"`
	SlotWrites       map[uint8]word.Word  `json:"slot_writes,omitempty"`
	MapWrites        map[uint8][]MapEntry `json:"map_writes,omitempty"`
	AddedAssets      []asset.FungibleAsset `json:"added_assets,omitempty"`
	RemovedAssets    []asset.FungibleAsset `json:"removed_assets,omitempty"`
	NonceIncremented bool                  `json:"nonce_incremented"`
}

// MarshalJSON encodes the delta for transport between nodes.
func (d *Delta) MarshalJSON() ([]byte, error) {
	return json.Marshal(deltaWire{
		AccountID:        d.AccountID,
		SlotWrites:       d.slotWrites,
		MapWrites:        d.mapWrites,
		AddedAssets:      d.AddedAssets,
		RemovedAssets:    d.RemovedAssets,
		NonceIncremented: d.NonceIncremented,
	})
}

// UnmarshalJSON decodes a delta received from another node.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var w deltaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.AccountID = w.AccountID
	d.slotWrites = w.SlotWrites
	if d.slotWrites == nil {
		d.slotWrites = make(map[uint8]word.Word)
	}
	d.mapWrites = w.MapWrites
	if d.mapWrites == nil {
		d.mapWrites = make(map[uint8][]MapEntry)
	}
	d.AddedAssets = w.AddedAssets
	d.RemovedAssets = w.RemovedAssets
	d.NonceIncremented = w.NonceIncremented
	return nil
}

func sortedSlots(m map[uint8]word.Word) []uint8 {
	out := make([]uint8, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedMapSlots(m map[uint8][]MapEntry) []uint8 {
	out := make([]uint8, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// applyTo writes the delta into an account. Callers hold the store's
// per-account lock; the nonce CAS has already passed.
func (d *Delta) applyTo(a *Account) error {
	for idx, val := range d.slotWrites {
		a.Storage.SetItem(idx, val)
	}
	for idx, writes := range d.mapWrites {
		for _, e := range writes {
			a.Storage.SetMapItem(idx, e.Key, e.Value)
		}
	}
	for _, as := range d.AddedAssets {
		if err := a.Vault.Add(as); err != nil {
			return err
		}
	}
	for _, as := range d.RemovedAssets {
		if err := a.Vault.Remove(as); err != nil {
			return err
		}
	}
	if d.NonceIncremented {
		a.Nonce++
	}
	return nil
}
