// ledger.go - Append-only settlement ledger.
//
// The ledger holds committed blocks, the nullifier set of consumed note ids,
// the note set, and a pool of pending proven transactions. Submission checks
// are advisory; the binding checks happen at ProduceBlock, under the
// account store's nonce compare-and-swap. A transaction that passes
// submission can still be rejected at commit time if a conflicting
// transaction lands first.

package settle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/note"
	"notevm/internal/prover"
	"notevm/internal/word"
)

// DefaultMaxEphemeralChainDepth bounds how many unauthenticated consumptions
// may chain on each other inside one block.
const DefaultMaxEphemeralChainDepth = 256

// Config tunes ledger behavior.
type Config struct {
	// MaxEphemeralChainDepth caps same-block note chains. Zero means the
	// default.
	MaxEphemeralChainDepth int
}

type pendingTx struct {
	pt    *ProvenTransaction
	id    word.Word
	depth int
}

// Ledger is the settlement layer's source of truth.
type Ledger struct {
	mu sync.Mutex

	store *account.Store
	vk    groth16.VerifyingKey // nil disables proof verification

	blocks     []*Block
	notes      map[word.Word]*NoteRecord
	nullifiers map[word.Word]uint64 // note id -> block that consumed it
	pending    []*pendingTx
	statuses   map[word.Word]*TxResult

	maxDepth int
	subs     map[int]chan struct{}
	nextSub  int
	logger   zerolog.Logger
}

// NewLedger creates an empty ledger backed by the given account store.
// A nil verifying key disables proof verification, for in-process setups
// that execute and settle on the same node.
func NewLedger(store *account.Store, vk groth16.VerifyingKey, cfg Config, logger zerolog.Logger) *Ledger {
	depth := cfg.MaxEphemeralChainDepth
	if depth <= 0 {
		depth = DefaultMaxEphemeralChainDepth
	}
	return &Ledger{
		store:      store,
		vk:         vk,
		notes:      make(map[word.Word]*NoteRecord),
		nullifiers: make(map[word.Word]uint64),
		statuses:   make(map[word.Word]*TxResult),
		maxDepth:   depth,
		subs:       make(map[int]chan struct{}),
		logger:     logger,
	}
}

// Height returns the number of committed blocks.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.blocks))
}

// PendingCount returns the size of the pending pool.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Note returns the ledger's record for a note id.
func (l *Ledger) Note(id word.Word) (*NoteRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.notes[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "settle.Ledger.Note",
			"note %s not found", id.Hex())
	}
	cp := *rec
	return &cp, nil
}

// TxStatus returns the last known status of a submitted transaction.
func (l *Ledger) TxStatus(id word.Word) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.statuses[id]
	if !ok {
		return 0, errkind.New(errkind.NotFound, "settle.Ledger.TxStatus",
			"transaction %s not found", id.Hex())
	}
	return res.Status, nil
}

// TxResult returns the full commit-time result, including the rejection
// reason when there is one.
func (l *Ledger) TxResult(id word.Word) (*TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.statuses[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "settle.Ledger.TxResult",
			"transaction %s not found", id.Hex())
	}
	cp := *res
	return &cp, nil
}

// RegisterNote records a note created outside transaction execution, e.g. a
// genesis note. The note is immediately consumable.
func (l *Ledger) RegisterNote(n *note.Note) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes[n.ID()] = &NoteRecord{Header: n.Header(), Full: n, Created: uint64(len(l.blocks))}
}

// SubmitTransaction verifies the proof and queues the transaction for the
// next block. Unauthenticated inputs may reference notes no committed block
// has seen yet, as long as a pending transaction creates them and the chain
// stays within the configured depth.
func (l *Ledger) SubmitTransaction(pt *ProvenTransaction) error {
	const op = "settle.Ledger.SubmitTransaction"
	if l.vk != nil {
		w := prover.WitnessFromExecuted(pt.Executed)
		if err := prover.Verify(pt.Proof, w, l.vk); err != nil {
			return err
		}
	}

	// The binding proof covers the witness limbs, not the input structure:
	// a submission must nullify exactly the notes it consumes, each once.
	et := pt.Executed
	if len(et.ConsumedNotes) != len(et.InputNotes) {
		return errkind.New(errkind.Build, op,
			"transaction nullifies %d notes but consumes %d inputs",
			len(et.ConsumedNotes), len(et.InputNotes))
	}
	dup := make(map[word.Word]bool, len(et.InputNotes))
	for i, in := range et.InputNotes {
		if et.ConsumedNotes[i] != in.ID {
			return errkind.New(errkind.Build, op,
				"nullifier %s does not match input note %s",
				et.ConsumedNotes[i].Hex(), in.ID.Hex())
		}
		if dup[in.ID] {
			return errkind.New(errkind.Build, op,
				"input note %s listed more than once", in.ID.Hex())
		}
		dup[in.ID] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Map of note ids created by already-pending txs, for chained inputs.
	ephemeral := make(map[word.Word]*pendingTx)
	for _, p := range l.pending {
		for _, n := range p.pt.Executed.CreatedNotes {
			ephemeral[n.ID()] = p
		}
	}

	depth := 1
	for _, in := range pt.Executed.InputNotes {
		if spentAt, spent := l.nullifiers[in.ID]; spent {
			return errkind.New(errkind.Conflict, op,
				"input note %s already consumed in block %d", in.ID.Hex(), spentAt)
		}
		if !in.Unauthenticated {
			if _, ok := l.notes[in.ID]; !ok {
				return errkind.New(errkind.NotFound, op,
					"input note %s not committed; sync or consume unauthenticated", in.ID.Hex())
			}
			continue
		}
		if in.Note == nil || in.Note.ID() != in.ID {
			return errkind.New(errkind.Build, op,
				"unauthenticated input %s carries mismatched note data", in.ID.Hex())
		}
		if _, committed := l.notes[in.ID]; committed {
			continue
		}
		creator, ok := ephemeral[in.ID]
		if !ok {
			return errkind.New(errkind.NotFound, op,
				"unauthenticated input %s has no pending creator", in.ID.Hex())
		}
		if d := creator.depth + 1; d > depth {
			depth = d
		}
	}
	if depth > l.maxDepth {
		return errkind.New(errkind.Build, op,
			"ephemeral note chain depth %d exceeds limit %d", depth, l.maxDepth)
	}

	id := pt.ID()
	l.pending = append(l.pending, &pendingTx{pt: pt, id: id, depth: depth})
	l.statuses[id] = &TxResult{TxID: id, Status: StatusPending}
	l.logger.Info().
		Str("tx", id.Hex()).
		Str("account", pt.Executed.TargetID.Hex()).
		Int("chain_depth", depth).
		Msg("transaction pending")
	return nil
}

// ProduceBlock commits the pending pool as one block. Transactions creating
// notes are ordered before transactions consuming them; a rejected upstream
// transaction cascades rejection to everything chained on its outputs.
// Rejection for a stale nonce or an already-consumed note is a conflict,
// distinct from an execution failure: the transaction was valid against the
// state it observed.
func (l *Ledger) ProduceBlock() (*Block, []TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool := l.pending
	l.pending = nil
	ordered := orderCreatorsFirst(pool)

	blockNum := uint64(len(l.blocks)) + 1
	block := &Block{Num: blockNum, Timestamp: time.Now()}
	results := make([]TxResult, 0, len(ordered))

	// Outcome of each tx in this block, for cascade checks.
	outcome := make(map[word.Word]bool) // tx id -> committed
	createdBy := make(map[word.Word]word.Word)
	for _, p := range ordered {
		for _, n := range p.pt.Executed.CreatedNotes {
			createdBy[n.ID()] = p.id
		}
	}

	accountsSeen := make(map[account.ID]bool)
	for _, p := range ordered {
		res := l.commitOne(p, block, outcome, createdBy)
		outcome[p.id] = res.Status == StatusCommitted
		if res.Status == StatusCommitted && !accountsSeen[p.pt.Executed.TargetID] {
			accountsSeen[p.pt.Executed.TargetID] = true
			block.UpdatedAccounts = append(block.UpdatedAccounts, p.pt.Executed.TargetID)
		}
		l.statuses[p.id] = &res
		results = append(results, res)
	}

	block.Commitment = l.blockCommitment(block)
	l.blocks = append(l.blocks, block)
	l.logger.Info().
		Uint64("block", block.Num).
		Int("committed", len(block.TxIDs)).
		Int("rejected", len(results)-len(block.TxIDs)).
		Msg("block produced")

	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return block, results, nil
}

func (l *Ledger) commitOne(p *pendingTx, block *Block, outcome map[word.Word]bool, createdBy map[word.Word]word.Word) TxResult {
	const op = "settle.Ledger.ProduceBlock"
	et := p.pt.Executed

	for _, in := range et.InputNotes {
		if spentAt, spent := l.nullifiers[in.ID]; spent {
			return TxResult{TxID: p.id, Status: StatusRejected,
				Err: errkind.New(errkind.Conflict, op,
					"input note %s consumed in block %d", in.ID.Hex(), spentAt)}
		}
		if _, committed := l.notes[in.ID]; committed {
			continue
		}
		creator, chained := createdBy[in.ID]
		if !chained {
			return TxResult{TxID: p.id, Status: StatusRejected,
				Err: errkind.New(errkind.NotFound, op,
					"input note %s unknown", in.ID.Hex())}
		}
		if !outcome[creator] {
			return TxResult{TxID: p.id, Status: StatusRejected,
				Err: errkind.New(errkind.Conflict, op,
					"input note %s depends on rejected transaction %s",
					in.ID.Hex(), creator.Hex())}
		}
	}

	if err := l.store.Commit(et.Delta, et.ObservedNonce); err != nil {
		return TxResult{TxID: p.id, Status: StatusRejected, Err: err}
	}

	for _, id := range et.ConsumedNotes {
		l.nullifiers[id] = block.Num
		if rec, ok := l.notes[id]; ok {
			rec.Consumed = true
			rec.SpentAt = block.Num
		}
		block.Nullifiers = append(block.Nullifiers, id)
	}
	for _, n := range et.CreatedNotes {
		id := n.ID()
		rec := &NoteRecord{Header: n.Header(), Created: block.Num}
		if n.Meta.Type == note.Public {
			rec.Full = n
		}
		// An ephemeral note consumed within this same block lands already
		// spent; the consumer's pass fills in SpentAt.
		l.notes[id] = rec
		block.CreatedNotes = append(block.CreatedNotes, id)
	}
	block.TxIDs = append(block.TxIDs, p.id)
	return TxResult{TxID: p.id, Status: StatusCommitted}
}

// orderCreatorsFirst topologically sorts the pool so that a transaction
// creating a note precedes any transaction consuming it unauthenticated.
// Submission order breaks ties, keeping the ordering deterministic.
func orderCreatorsFirst(pool []*pendingTx) []*pendingTx {
	byID := make(map[word.Word]*pendingTx, len(pool))
	creator := make(map[word.Word]word.Word) // note id -> creating tx id
	for _, p := range pool {
		byID[p.id] = p
		for _, n := range p.pt.Executed.CreatedNotes {
			creator[n.ID()] = p.id
		}
	}

	visited := make(map[word.Word]bool, len(pool))
	ordered := make([]*pendingTx, 0, len(pool))
	var visit func(p *pendingTx)
	visit = func(p *pendingTx) {
		if visited[p.id] {
			return
		}
		visited[p.id] = true
		for _, in := range p.pt.Executed.InputNotes {
			if up, ok := creator[in.ID]; ok && up != p.id {
				visit(byID[up])
			}
		}
		ordered = append(ordered, p)
	}
	for _, p := range pool {
		visit(p)
	}
	return ordered
}

func (l *Ledger) blockCommitment(b *Block) word.Word {
	prev := word.ZeroWord
	if n := len(l.blocks); n > 0 {
		prev = l.blocks[n-1].Commitment
	}
	words := make([]word.Word, 0, len(b.TxIDs)+2)
	words = append(words, prev, word.NewWord(b.Num, 0, 0, 0))
	words = append(words, b.TxIDs...)
	return word.HashWithDomain("block", words...)
}

// SyncState reports everything that changed after the given block number.
func (l *Ledger) SyncState(sinceBlock uint64) *SyncState {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := &SyncState{BlockNum: uint64(len(l.blocks))}
	accounts := make(map[account.ID]bool)
	for _, b := range l.blocks {
		if b.Num <= sinceBlock {
			continue
		}
		for _, id := range b.UpdatedAccounts {
			if !accounts[id] {
				accounts[id] = true
				out.UpdatedAccounts = append(out.UpdatedAccounts, id)
			}
		}
		for _, id := range b.CreatedNotes {
			if rec, ok := l.notes[id]; ok {
				out.NewNotes = append(out.NewNotes, rec.Header)
			}
		}
		out.ConsumedNotes = append(out.ConsumedNotes, b.Nullifiers...)
	}
	return out
}

// ConsumableNotes returns unconsumed note records matching a discovery tag.
func (l *Ledger) ConsumableNotes(tag uint32) []*NoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*NoteRecord
	for _, rec := range l.notes {
		if rec.Consumed || rec.Header.Meta.Tag != tag {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// WaitForNotes blocks until the predicate holds over the current note set or
// the context is cancelled. The predicate is re-evaluated after every
// produced block, replacing client-side polling.
func (l *Ledger) WaitForNotes(ctx context.Context, predicate func(records []*NoteRecord) bool) error {
	check := func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		recs := make([]*NoteRecord, 0, len(l.notes))
		for _, rec := range l.notes {
			cp := *rec
			recs = append(recs, &cp)
		}
		return predicate(recs)
	}
	if check() {
		return nil
	}

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan struct{}, 1)
	l.subs[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return errkind.Wrap(errkind.Network, "settle.Ledger.WaitForNotes",
				fmt.Errorf("wait cancelled: %w", ctx.Err()))
		case <-ch:
			if check() {
				return nil
			}
		}
	}
}
