// account.go - Accounts: the unit of execution and ownership.
//
// An account holds storage slots, a monotonically increasing nonce, a code
// component, and an asset vault. Its identity commits to the account type,
// the code root, the initial storage, and an optional deployment seed.

package account

import (
	"notevm/internal/asset"
	"notevm/internal/vm"
	"notevm/internal/word"
)

// Type distinguishes the built-in account kinds.
type Type uint8

const (
	Wallet Type = iota
	Faucet
	Contract
)

func (t Type) String() string {
	switch t {
	case Faucet:
		return "faucet"
	case Contract:
		return "contract"
	default:
		return "wallet"
	}
}

// Visibility controls how much account state the network replicates.
type Visibility uint8

const (
	// PublicState: full state visible and replicated.
	PublicState Visibility = iota
	// PrivateState: state kept off-chain, known only to the owner.
	PrivateState
)

// ID is an account identifier: a word whose first two felts form the prefix
// and last two the suffix.
type ID = word.Word

// Account is a stateful entity with storage, code, nonce, and a vault.
type Account struct {
	ID         ID
	Type       Type
	Visibility Visibility
	Nonce      uint64
	Storage    *Storage
	Code       *vm.Component
	Vault      *asset.Vault
}

// DeriveID computes the account identity from type tag, code root, initial
// storage commitment, and deployment seed.
func DeriveID(t Type, codeRoot, storageCommitment, seed word.Word) ID {
	tag := word.NewWord(uint64(t), 0, 0, 0)
	return word.HashWithDomain("account-id", tag, codeRoot, storageCommitment, seed)
}

// IDPrefix returns the first two felts of an account id.
func IDPrefix(id ID) [2]word.Felt { return [2]word.Felt{id[0], id[1]} }

// IDSuffix returns the last two felts of an account id.
func IDSuffix(id ID) [2]word.Felt { return [2]word.Felt{id[2], id[3]} }

// New creates an account from its components, deriving the id.
func New(t Type, vis Visibility, code *vm.Component, storage *Storage, seed word.Word) *Account {
	if storage == nil {
		storage = NewStorage(0)
	}
	var codeRoot word.Word
	if code != nil {
		codeRoot = code.Root()
	}
	id := DeriveID(t, codeRoot, storage.Commitment(), seed)
	return &Account{
		ID:         id,
		Type:       t,
		Visibility: vis,
		Storage:    storage,
		Code:       code,
		Vault:      asset.NewVault(),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	return &Account{
		ID:         a.ID,
		Type:       a.Type,
		Visibility: a.Visibility,
		Nonce:      a.Nonce,
		Storage:    a.Storage.Clone(),
		Code:       a.Code, // components are immutable
		Vault:      a.Vault.Clone(),
	}
}

// CodeRoot returns the MAST root of the account's code, or the zero word for
// a codeless account.
func (a *Account) CodeRoot() word.Word {
	if a.Code == nil {
		return word.ZeroWord
	}
	return a.Code.Root()
}

// StateCommitment hashes the full account state: storage, nonce, code, vault.
func (a *Account) StateCommitment() word.Word {
	return word.HashWithDomain("account-state",
		a.Storage.Commitment(),
		word.NewWord(0, 0, 0, a.Nonce),
		a.CodeRoot(),
		a.Vault.Commitment(),
	)
}
