// settle.go - Transaction lifecycle types for the settlement layer.

package settle

import (
	"time"

	"notevm/internal/account"
	"notevm/internal/note"
	"notevm/internal/prover"
	"notevm/internal/tx"
	"notevm/internal/word"
)

// Status is the lifecycle position of a transaction.
type Status uint8

const (
	StatusBuilt Status = iota
	StatusExecuted
	StatusProven
	StatusSubmitted
	StatusPending
	StatusCommitted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusBuilt:
		return "built"
	case StatusExecuted:
		return "executed"
	case StatusProven:
		return "proven"
	case StatusSubmitted:
		return "submitted"
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ProvenTransaction pairs an executed transaction with the proof covering it.
type ProvenTransaction struct {
	Executed *tx.ExecutedTransaction
	Proof    *prover.Proof
}

// ID is the transaction identifier, the witness commitment of the execution.
func (pt *ProvenTransaction) ID() word.Word {
	return pt.Executed.WitnessCommitment()
}

// TxResult is the commit-time outcome of one pending transaction.
type TxResult struct {
	TxID   word.Word
	Status Status
	Err    error // set when Status is StatusRejected
}

// Block is a committed batch of transactions.
type Block struct {
	Num             uint64
	Timestamp       time.Time
	TxIDs           []word.Word
	UpdatedAccounts []account.ID
	CreatedNotes    []word.Word
	Nullifiers      []word.Word
	Commitment      word.Word
}

// SyncState summarizes everything that changed since a given block.
type SyncState struct {
	BlockNum        uint64
	UpdatedAccounts []account.ID
	NewNotes        []note.Header
	ConsumedNotes   []word.Word
}

// NoteRecord is the ledger's view of a note: the public header always, the
// full data only when the note is public.
type NoteRecord struct {
	Header   note.Header
	Full     *note.Note // nil for private notes
	Created  uint64     // block number, 0 while pending
	Consumed bool
	SpentAt  uint64 // block number, valid when Consumed
}
