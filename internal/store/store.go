// store.go - Badger-backed local cache.
//
// The cache is not a source of truth: the ledger is. It holds what a client
// has learned so far (known notes with consumption status, account
// snapshots, transaction status history) so a restarted client resumes from
// its last sync point instead of replaying from genesis.

package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/note"
	"notevm/internal/word"
)

const (
	notePrefix = "note:"
	acctPrefix = "acct:"
	txPrefix   = "txrec:"
	metaPrefix = "meta:"
)

// Cache is a local persistent view of ledger state.
type Cache struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens or creates a cache at path. An empty path opens an in-memory
// cache, useful for tests.
func Open(path string, logger zerolog.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errkind.Wrap(errkind.Network, "store.Open", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

type noteEntry struct {
	Wire     []byte      `json:"wire,omitempty"` // full note data when known
	Header   note.Header `json:"header"`
	Consumed bool        `json:"consumed"`
	SpentAt  uint64      `json:"spent_at,omitempty"`
}

// PutNote records a note with full data.
func (c *Cache) PutNote(n *note.Note) error {
	wire, err := note.Encode(n)
	if err != nil {
		return err
	}
	entry := noteEntry{Wire: wire, Header: n.Header()}
	return c.putJSON(notePrefix+n.ID().Hex(), entry)
}

// PutNoteHeader records a note the client only knows the envelope of.
// Full data already on disk is preserved.
func (c *Cache) PutNoteHeader(h note.Header) error {
	key := notePrefix + h.ID.Hex()
	var existing noteEntry
	if err := c.getJSON(key, &existing); err == nil && len(existing.Wire) > 0 {
		return nil
	}
	return c.putJSON(key, noteEntry{Header: h})
}

// MarkConsumed flags a known note as spent.
func (c *Cache) MarkConsumed(id word.Word, block uint64) error {
	key := notePrefix + id.Hex()
	var entry noteEntry
	if err := c.getJSON(key, &entry); err != nil {
		return err
	}
	entry.Consumed = true
	entry.SpentAt = block
	return c.putJSON(key, entry)
}

// GetNote returns a cached note and whether it has been consumed. The note
// pointer is nil when only the header is known.
func (c *Cache) GetNote(id word.Word) (*note.Note, bool, error) {
	var entry noteEntry
	if err := c.getJSON(notePrefix+id.Hex(), &entry); err != nil {
		return nil, false, err
	}
	if len(entry.Wire) == 0 {
		return nil, entry.Consumed, nil
	}
	n, err := note.Decode(entry.Wire)
	if err != nil {
		return nil, false, errkind.Wrap(errkind.Build, "store.Cache.GetNote", err)
	}
	return n, entry.Consumed, nil
}

// UnspentNotes returns all cached notes with full data that are not consumed.
func (c *Cache) UnspentNotes() ([]*note.Note, error) {
	var out []*note.Note
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(notePrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var entry noteEntry
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			if entry.Consumed || len(entry.Wire) == 0 {
				continue
			}
			n, err := note.Decode(entry.Wire)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Network, "store.Cache.UnspentNotes", err)
	}
	return out, nil
}

type acctEntry struct {
	ID    string `json:"id"`
	Nonce uint64 `json:"nonce"`
	Type  uint8  `json:"type"`
}

// PutAccountSnapshot records the last observed nonce of an account.
func (c *Cache) PutAccountSnapshot(a *account.Account) error {
	entry := acctEntry{ID: a.ID.Hex(), Nonce: a.Nonce, Type: uint8(a.Type)}
	return c.putJSON(acctPrefix+a.ID.Hex(), entry)
}

// AccountNonce returns the last cached nonce for an account.
func (c *Cache) AccountNonce(id account.ID) (uint64, error) {
	var entry acctEntry
	if err := c.getJSON(acctPrefix+id.Hex(), &entry); err != nil {
		return 0, err
	}
	return entry.Nonce, nil
}

// StatusChange is one step in a transaction's recorded lifecycle.
type StatusChange struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// TxRecord is the cached status history of a submitted transaction.
type TxRecord struct {
	TxID    string         `json:"tx_id"`
	History []StatusChange `json:"history"`
}

// AppendTxStatus appends a status change to a transaction's history,
// creating the record on first use.
func (c *Cache) AppendTxStatus(txID word.Word, status, reason string) error {
	key := txPrefix + txID.Hex()
	var rec TxRecord
	if err := c.getJSON(key, &rec); err != nil {
		if !errkind.IsNotFound(err) {
			return err
		}
		rec = TxRecord{TxID: txID.Hex()}
	}
	rec.History = append(rec.History, StatusChange{Status: status, At: time.Now(), Reason: reason})
	return c.putJSON(key, rec)
}

// GetTxRecord returns the status history of a transaction.
func (c *Cache) GetTxRecord(txID word.Word) (*TxRecord, error) {
	var rec TxRecord
	if err := c.getJSON(txPrefix+txID.Hex(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetSyncHeight records the last block the client has synced to.
func (c *Cache) SetSyncHeight(h uint64) error {
	return c.putJSON(metaPrefix+"sync_height", h)
}

// SyncHeight returns the last synced block, zero when never synced.
func (c *Cache) SyncHeight() (uint64, error) {
	var h uint64
	err := c.getJSON(metaPrefix+"sync_height", &h)
	if errkind.IsNotFound(err) {
		return 0, nil
	}
	return h, err
}

func (c *Cache) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errkind.Wrap(errkind.Build, "store.Cache", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return errkind.Wrap(errkind.Network, "store.Cache", err)
	}
	return nil
}

func (c *Cache) getJSON(key string, v interface{}) error {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errkind.New(errkind.NotFound, "store.Cache", "key %s not cached", key)
	}
	if err != nil {
		return errkind.Wrap(errkind.Network, "store.Cache", err)
	}
	return nil
}
