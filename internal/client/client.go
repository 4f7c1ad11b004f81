// client.go - Session orchestration: build, execute, prove, submit, sync.
//
// A Session is one participant's view of the system. It drives a transaction
// through the full pipeline, tracks per-transaction status records in the
// local cache, and keeps a wallet-style set of consumable notes up to date
// against the ledger.

package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/note"
	"notevm/internal/prover"
	"notevm/internal/settle"
	"notevm/internal/store"
	"notevm/internal/tx"
	"notevm/internal/word"
)

// Session drives transactions for one participant.
type Session struct {
	accounts *account.Store
	executor *tx.Executor
	prover   prover.Prover
	ledger   *settle.Ledger
	cache    *store.Cache
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSync uint64
	tracked  map[word.Word]settle.Status
}

// NewSession wires a session over shared account state and ledger. The cache
// may be nil; status history and wallet persistence are then skipped.
func NewSession(accounts *account.Store, library *tx.ScriptLibrary, prv prover.Prover,
	ledger *settle.Ledger, cache *store.Cache, logger zerolog.Logger) *Session {
	return &Session{
		accounts: accounts,
		executor: tx.NewExecutor(accounts, library, logger),
		prover:   prv,
		ledger:   ledger,
		cache:    cache,
		logger:   logger,
		tracked:  make(map[word.Word]settle.Status),
	}
}

// Submission is the handle returned for a submitted transaction.
type Submission struct {
	TxID     word.Word
	Executed *tx.ExecutedTransaction
	Status   settle.Status
}

// Submit runs a built request through execute, prove and submit. A conflict
// during execution triggers one re-sync and retry against fresh state; a
// conflict at commit time is reported through the tracked status instead,
// since the transaction is out of the session's hands by then.
func (s *Session) Submit(ctx context.Context, req *tx.Request) (*Submission, error) {
	executed, err := s.execute(ctx, req)
	if err != nil && errkind.IsConflict(err) {
		s.Sync()
		executed, err = s.execute(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	id := executed.WitnessCommitment()
	s.record(id, "executed", "")

	w := prover.WitnessFromExecuted(executed)
	proof, err := s.prover.Prove(ctx, w)
	if err != nil {
		s.record(id, "proving_failed", err.Error())
		return nil, err
	}
	s.record(id, "proven", "")

	pt := &settle.ProvenTransaction{Executed: executed, Proof: proof}
	if err := s.ledger.SubmitTransaction(pt); err != nil {
		s.record(id, "rejected", err.Error())
		return nil, err
	}
	s.record(id, "pending", "")
	s.mu.Lock()
	s.tracked[id] = settle.StatusPending
	s.mu.Unlock()

	s.logger.Info().Str("tx", id.Hex()).Msg("transaction submitted")
	return &Submission{TxID: id, Executed: executed, Status: settle.StatusPending}, nil
}

func (s *Session) execute(ctx context.Context, req *tx.Request) (*tx.ExecutedTransaction, error) {
	return s.executor.Execute(ctx, req, s.resolver())
}

// Sync pulls ledger changes since the last sync into the cache and refreshes
// the status of tracked transactions, surfacing cascade rejections.
func (s *Session) Sync() *settle.SyncState {
	s.mu.Lock()
	since := s.lastSync
	s.mu.Unlock()

	state := s.ledger.SyncState(since)

	if s.cache != nil {
		for _, h := range state.NewNotes {
			if err := s.cache.PutNoteHeader(h); err != nil {
				s.logger.Warn().Err(err).Str("note", h.ID.Hex()).Msg("cache header write failed")
			}
		}
		for _, id := range state.ConsumedNotes {
			err := s.cache.MarkConsumed(id, state.BlockNum)
			if err != nil && !errkind.IsNotFound(err) {
				s.logger.Warn().Err(err).Str("note", id.Hex()).Msg("cache consume mark failed")
			}
		}
		if err := s.cache.SetSyncHeight(state.BlockNum); err != nil {
			s.logger.Warn().Err(err).Msg("cache sync height write failed")
		}
	}

	s.mu.Lock()
	s.lastSync = state.BlockNum
	ids := make([]word.Word, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		res, err := s.ledger.TxResult(id)
		if err != nil {
			continue
		}
		s.mu.Lock()
		prev := s.tracked[id]
		s.tracked[id] = res.Status
		s.mu.Unlock()
		if res.Status == prev {
			continue
		}
		switch res.Status {
		case settle.StatusCommitted:
			s.record(id, "committed", "")
		case settle.StatusRejected:
			reason := ""
			if res.Err != nil {
				reason = res.Err.Error()
			}
			s.record(id, "rejected", reason)
			s.logger.Warn().Str("tx", id.Hex()).Str("reason", reason).Msg("transaction rejected")
		}
	}
	return state
}

// Status returns the last known status of a tracked transaction.
func (s *Session) Status(id word.Word) (settle.Status, error) {
	return s.ledger.TxStatus(id)
}

// TrackNote stores full note data in the wallet, typically after decrypting
// a private-note transfer.
func (s *Session) TrackNote(n *note.Note) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.PutNote(n)
}

// UnspentNotes returns the wallet's consumable notes.
func (s *Session) UnspentNotes() ([]*note.Note, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.UnspentNotes()
}

// WaitForNotes blocks until the predicate holds over the ledger's note set.
func (s *Session) WaitForNotes(ctx context.Context, predicate func([]*settle.NoteRecord) bool) error {
	return s.ledger.WaitForNotes(ctx, predicate)
}

func (s *Session) record(id word.Word, status, reason string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.AppendTxStatus(id, status, reason); err != nil {
		s.logger.Warn().Err(err).Str("tx", id.Hex()).Msg("status record write failed")
	}
}

// resolver looks notes up in the ledger first, then the wallet cache for
// private notes whose data never touched the ledger.
func (s *Session) resolver() tx.NoteResolver {
	return resolverFunc(func(id word.Word) (*note.Note, error) {
		rec, err := s.ledger.Note(id)
		if err == nil && rec.Full != nil {
			if rec.Consumed {
				return nil, errkind.New(errkind.Conflict, "client.resolver",
					"note %s already consumed", id.Hex())
			}
			return rec.Full, nil
		}
		if s.cache != nil {
			n, consumed, cErr := s.cache.GetNote(id)
			if cErr == nil && n != nil {
				if consumed {
					return nil, errkind.New(errkind.Conflict, "client.resolver",
						"note %s already consumed", id.Hex())
				}
				return n, nil
			}
		}
		return nil, errkind.New(errkind.NotFound, "client.resolver",
			"note %s unknown; sync and retry", id.Hex())
	})
}

type resolverFunc func(id word.Word) (*note.Note, error)

func (f resolverFunc) GetNote(id word.Word) (*note.Note, error) { return f(id) }
