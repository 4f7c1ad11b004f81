// executor.go - Local transaction execution.
//
// Executing a request is a pure function of (target account state, input
// notes, script code): it resolves all foreign state upfront, runs every
// input note's spend script and then the custom script, enforces the
// nonce-increment authorization rule, and checks the declared output-note set
// against what the scripts actually created. Any failure aborts the whole
// transaction with zero staged state.

package tx

import (
	"context"

	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/fpi"
	"notevm/internal/note"
	"notevm/internal/vm"
	"notevm/internal/word"
)

// NoteResolver supplies full note data for authenticated input references.
// Implemented by the settlement ledger and by the local note cache.
type NoteResolver interface {
	GetNote(id word.Word) (*note.Note, error)
}

// ExecutedTransaction is the result of local execution: everything the
// prover needs to commit to, plus the staged account delta.
type ExecutedTransaction struct {
	TargetID      account.ID
	ObservedNonce uint64

	ConsumedNotes []word.Word
	InputNotes    []InputNote // full references, evidence for unauthenticated inputs
	CreatedNotes  []*note.Note

	Delta *account.Delta

	// BlockNum is a placeholder filled in by the settlement layer when the
	// transaction is committed.
	BlockNum uint64
}

// WitnessCommitment digests everything the proof attests to.
func (et *ExecutedTransaction) WitnessCommitment() word.Word {
	words := []word.Word{et.TargetID, word.NewWord(0, 0, 0, et.ObservedNonce)}
	words = append(words, et.ConsumedNotes...)
	for _, n := range et.CreatedNotes {
		words = append(words, n.Commitment())
	}
	words = append(words, et.Delta.Digest())
	return word.HashWithDomain("witness", words...)
}

// Executor runs transaction requests against the local account store.
type Executor struct {
	store   *account.Store
	library *ScriptLibrary
	engine  *vm.Engine
	logger  zerolog.Logger
}

// NewExecutor builds an executor.
func NewExecutor(store *account.Store, library *ScriptLibrary, logger zerolog.Logger) *Executor {
	return &Executor{
		store:   store,
		library: library,
		engine:  vm.NewEngine(),
		logger:  logger,
	}
}

// Execute runs a request and yields the executed transaction. The returned
// error classifies the failure: NotFound errors are recoverable by syncing,
// execution errors are deterministic and final for these inputs.
func (e *Executor) Execute(ctx context.Context, req *Request, notes NoteResolver) (*ExecutedTransaction, error) {
	const op = "tx.Execute"

	acct, err := e.store.Get(req.TargetID)
	if err != nil {
		return nil, err
	}

	// Materialize every input note. Authenticated references must already be
	// visible locally; unauthenticated references carry their own evidence.
	// Each note may be consumed once per transaction.
	inputs := make([]InputNote, len(req.Inputs))
	seen := make(map[word.Word]bool, len(req.Inputs))
	for i, in := range req.Inputs {
		if seen[in.ID] {
			return nil, errkind.New(errkind.Build, op,
				"input note %s listed more than once", in.ID.Hex())
		}
		seen[in.ID] = true
		if in.Note == nil {
			n, err := notes.GetNote(in.ID)
			if err != nil {
				return nil, errkind.New(errkind.NotFound, op,
					"input note %s not found locally; sync and retry", in.ID.Hex())
			}
			in.Note = n
		}
		if in.Note.ID() != in.ID {
			return nil, errkind.New(errkind.Build, op,
				"input note data does not hash to its id %s", in.ID.Hex())
		}
		inputs[i] = in
	}

	// Resolve the complete foreign call graph before anything executes.
	roots := e.executionRoots(req, inputs)
	foreign, err := fpi.Resolve(ctx, e.store, roots, req.ForeignRefs)
	if err != nil {
		return nil, err
	}

	h := newHost(ctx, acct, foreign)

	// Consume each input note in order.
	for _, in := range inputs {
		comp, proc, err := e.library.Lookup(in.Note.ScriptRoot)
		if err != nil {
			return nil, err
		}
		h.current = in.Note
		stackIn := flattenArgs(in.Args)
		if _, err := e.engine.Execute(ctx, comp, proc, stackIn, h); err != nil {
			return nil, err
		}
		h.current = nil
	}

	// Then the custom transaction script, if any.
	if req.Script != nil {
		proc, err := req.Script.Procedure(req.ScriptProc)
		if err != nil {
			return nil, errkind.Wrap(errkind.Build, op, err)
		}
		if _, err := e.engine.Execute(ctx, req.Script, proc, nil, h); err != nil {
			return nil, err
		}
	}

	// Nonce-increment-as-authorization: a state-mutating transaction whose
	// scripts never incremented the nonce is only acceptable from the key
	// holder. The key holder's signature stands in for the increment so the
	// account version still advances exactly once.
	if h.delta.MutatesState() && !h.delta.NonceIncremented {
		if !req.OwnerAuthenticated {
			return nil, errkind.New(errkind.Execution, op,
				"state mutation without nonce increment requires the account key holder")
		}
		h.delta.IncrementNonce()
	}

	// The declared output-note set must be exactly what the scripts created.
	if err := matchOutputs(req.OutputNotes, h.emitted); err != nil {
		return nil, err
	}

	consumed := make([]word.Word, len(inputs))
	for i, in := range inputs {
		consumed[i] = in.ID
	}

	et := &ExecutedTransaction{
		TargetID:      req.TargetID,
		ObservedNonce: acct.Nonce,
		ConsumedNotes: consumed,
		InputNotes:    inputs,
		CreatedNotes:  req.OutputNotes,
		Delta:         h.delta,
	}
	e.logger.Debug().
		Str("account", req.TargetID.Hex()).
		Int("consumed", len(consumed)).
		Int("created", len(req.OutputNotes)).
		Msg("transaction executed")
	return et, nil
}

// executionRoots collects every component that will run locally, for the
// upfront foreign-call-graph scan.
func (e *Executor) executionRoots(req *Request, inputs []InputNote) []*vm.Component {
	var roots []*vm.Component
	if req.Script != nil {
		roots = append(roots, req.Script)
	}
	if acct, err := e.store.Get(req.TargetID); err == nil && acct.Code != nil {
		roots = append(roots, acct.Code)
	}
	for _, in := range inputs {
		if comp, _, err := e.library.Lookup(in.Note.ScriptRoot); err == nil {
			roots = append(roots, comp)
		}
	}
	return roots
}

// matchOutputs checks that declared and emitted output notes carry the same
// multiset of assets. Each create_note emission carries one asset; a
// multi-asset declared note is evidenced by several emissions to its
// recipient. Declaring a superset or subset of what the scripts created is a
// hard error, not silently ignored.
func matchOutputs(declared []*note.Note, emitted []emittedNote) error {
	const op = "tx.Execute"
	total := 0
	for _, d := range declared {
		assets := d.Vault.Assets()
		if len(assets) == 0 {
			return errkind.New(errkind.Build, op,
				"declared output note %s holds no assets", d.ID().Hex())
		}
		total += len(assets)
	}
	if total != len(emitted) {
		return errkind.New(errkind.Build, op,
			"declared output notes carry %d assets but scripts created %d", total, len(emitted))
	}
	used := make([]bool, len(emitted))
	for _, d := range declared {
		recipient := d.Recipient()
		for _, a := range d.Vault.Assets() {
			found := false
			for i, em := range emitted {
				if used[i] {
					continue
				}
				if em.Recipient == recipient && em.Tag == d.Meta.Tag && em.Asset == a {
					used[i] = true
					found = true
					break
				}
			}
			if !found {
				return errkind.New(errkind.Build, op,
					"declared output note %s was not created by the scripts", d.ID().Hex())
			}
		}
	}
	return nil
}

func flattenArgs(args []word.Word) []word.Felt {
	out := make([]word.Felt, 0, 4*len(args))
	for _, w := range args {
		out = append(out, w[0], w[1], w[2], w[3])
	}
	return out
}
