// asset.go - Fungible assets and note/account vaults.
//
// A fungible asset is an amount issued by a faucet account. Amounts are
// capped at 2^63-1 so that aggregate balances can never exceed the field
// range used by the proof system.

package asset

import (
	"sort"

	"notevm/internal/errkind"
	"notevm/internal/word"
)

// MaxFungibleAmount is the largest representable amount of a single fungible
// asset. Aggregate per-faucet balances must never exceed it.
const MaxFungibleAmount uint64 = (1 << 63) - 1

// FungibleAsset is an amount of a fungible token identified by the faucet
// account that issued it.
type FungibleAsset struct {
	FaucetID word.Word `json:"faucet_id"`
	Amount   uint64    `json:"amount"`
}

// NewFungibleAsset builds a fungible asset, rejecting amounts above the
// 63-bit cap.
func NewFungibleAsset(faucetID word.Word, amount uint64) (FungibleAsset, error) {
	if amount > MaxFungibleAmount {
		return FungibleAsset{}, errkind.New(errkind.Build, "asset.NewFungibleAsset",
			"amount %d exceeds maximum fungible amount %d", amount, MaxFungibleAmount)
	}
	return FungibleAsset{FaucetID: faucetID, Amount: amount}, nil
}

// Vault holds the assets of a note or an account, keyed by issuing faucet.
type Vault struct {
	assets map[word.Word]uint64
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{assets: make(map[word.Word]uint64)}
}

// Add deposits an asset into the vault. The aggregate balance per faucet is
// still bounded by MaxFungibleAmount; an overflowing add fails before any
// execution happens.
func (v *Vault) Add(a FungibleAsset) error {
	cur := v.assets[a.FaucetID]
	if a.Amount > MaxFungibleAmount-cur {
		return errkind.New(errkind.Build, "asset.Vault.Add",
			"adding %d to balance %d overflows maximum fungible amount", a.Amount, cur)
	}
	v.assets[a.FaucetID] = cur + a.Amount
	return nil
}

// Remove withdraws an asset from the vault, failing on insufficient balance.
func (v *Vault) Remove(a FungibleAsset) error {
	cur := v.assets[a.FaucetID]
	if a.Amount > cur {
		return errkind.New(errkind.Execution, "asset.Vault.Remove",
			"balance %d insufficient to remove %d", cur, a.Amount)
	}
	if cur == a.Amount {
		delete(v.assets, a.FaucetID)
	} else {
		v.assets[a.FaucetID] = cur - a.Amount
	}
	return nil
}

// Balance returns the vault's balance for a faucet. Unknown faucets read zero.
func (v *Vault) Balance(faucetID word.Word) uint64 {
	return v.assets[faucetID]
}

// IsEmpty reports whether the vault holds no assets.
func (v *Vault) IsEmpty() bool {
	return len(v.assets) == 0
}

// Assets returns the vault contents in canonical (sorted) order.
func (v *Vault) Assets() []FungibleAsset {
	out := make([]FungibleAsset, 0, len(v.assets))
	for id, amt := range v.assets {
		out = append(out, FungibleAsset{FaucetID: id, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		return lessWord(out[i].FaucetID, out[j].FaucetID)
	})
	return out
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	c := NewVault()
	for id, amt := range v.assets {
		c.assets[id] = amt
	}
	return c
}

// Commitment hashes the canonical vault contents. Two vaults with the same
// assets have the same commitment regardless of insertion order.
func (v *Vault) Commitment() word.Word {
	assets := v.Assets()
	words := make([]word.Word, 0, 2*len(assets))
	for _, a := range assets {
		words = append(words, a.FaucetID, word.NewWord(0, 0, 0, a.Amount))
	}
	return word.HashWithDomain("vault", words...)
}

func lessWord(a, b word.Word) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
