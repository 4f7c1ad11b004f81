// store.go - The versioned account state store.
//
// The store is the single shared mutable resource in the engine. It is keyed
// by account id and versioned by nonce: every transaction reads an account at
// some nonce and must compare-and-swap against that nonce when committing its
// delta. Transactions targeting the same account are serialized by a
// per-account lock; transactions targeting different accounts proceed
// independently.

package account

import (
	"sync"

	"github.com/rs/zerolog"

	"notevm/internal/errkind"
	"notevm/internal/word"
)

// Store holds all known accounts.
type Store struct {
	mu       sync.RWMutex
	accounts map[ID]*Account
	locks    map[ID]*sync.Mutex
	logger   zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		accounts: make(map[ID]*Account),
		locks:    make(map[ID]*sync.Mutex),
		logger:   logger,
	}
}

// Put registers an account. Used at deployment and when syncing foreign state.
func (s *Store) Put(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a.Clone()
	if _, ok := s.locks[a.ID]; !ok {
		s.locks[a.ID] = &sync.Mutex{}
	}
	s.logger.Debug().Str("account", a.ID.Hex()).Uint64("nonce", a.Nonce).Msg("account registered")
}

// Get returns a deep copy of an account, so callers can never mutate the
// store's view outside a commit.
func (s *Store) Get(id ID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "account.Store.Get",
			"account %s not found", id.Hex())
	}
	return a.Clone(), nil
}

// Has reports whether the store knows an account.
func (s *Store) Has(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[id]
	return ok
}

// Nonce returns an account's current nonce.
func (s *Store) Nonce(id ID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, errkind.New(errkind.NotFound, "account.Store.Nonce",
			"account %s not found", id.Hex())
	}
	return a.Nonce, nil
}

// GetItem reads a scalar slot; unknown accounts fail, unknown slots read zero.
func (s *Store) GetItem(id ID, index uint8) (word.Word, error) {
	a, err := s.Get(id)
	if err != nil {
		return word.ZeroWord, err
	}
	return a.Storage.GetItem(index), nil
}

// GetMapItem reads a map key; unknown keys read zero.
func (s *Store) GetMapItem(id ID, index uint8, key word.Word) (word.Word, error) {
	a, err := s.Get(id)
	if err != nil {
		return word.ZeroWord, err
	}
	return a.Storage.GetMapItem(index, key), nil
}

// Commit applies a delta atomically, compare-and-swapping on the nonce the
// transaction observed when it executed. A nonce that advanced underneath the
// transaction is a conflict: the caller must rebuild against fresh state.
func (s *Store) Commit(delta *Delta, observedNonce uint64) error {
	lock := s.accountLock(delta.AccountID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[delta.AccountID]
	if !ok {
		return errkind.New(errkind.NotFound, "account.Store.Commit",
			"account %s not found", delta.AccountID.Hex())
	}
	if a.Nonce != observedNonce {
		return errkind.New(errkind.Conflict, "account.Store.Commit",
			"account %s nonce advanced: observed %d, current %d",
			delta.AccountID.Hex(), observedNonce, a.Nonce)
	}

	// Apply to a copy first so a vault failure leaves the store untouched.
	next := a.Clone()
	if err := delta.applyTo(next); err != nil {
		return errkind.Wrap(errkind.Execution, "account.Store.Commit", err)
	}
	s.accounts[delta.AccountID] = next
	s.logger.Debug().
		Str("account", delta.AccountID.Hex()).
		Uint64("nonce", next.Nonce).
		Bool("authorized", delta.NonceIncremented).
		Msg("delta committed")
	return nil
}

// IDs returns all known account ids.
func (s *Store) IDs() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ID, 0, len(s.accounts))
	for id := range s.accounts {
		out = append(out, id)
	}
	return out
}

func (s *Store) accountLock(id ID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}
