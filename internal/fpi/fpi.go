// fpi.go - Foreign procedure invocation: read-only, hash-pinned cross-account
// calls.
//
// Because foreign execution happens inside a provable transaction, every
// foreign target and the storage slice it reads must be resolved, fetched,
// and hashed before execution begins. The resolver walks the static call
// graph of the code about to run, recursively gathers all transitively
// referenced foreign accounts (A calls B which calls C), and pins each target
// procedure by its content root. There is no lazy fetch mid-execution: a
// foreign call that was not resolved upfront is a hard failure.

package fpi

import (
	"context"

	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/vm"
	"notevm/internal/word"
)

// ForeignAccountRef declares a foreign account a transaction intends to read:
// the account id, the procedure roots it will invoke, and the storage-map
// keys it needs per slot. The manifest lets the executor fetch a minimal
// authenticated slice of the foreign account instead of the whole state.
type ForeignAccountRef struct {
	ID                  account.ID
	ProcedureRoots      []word.Word
	StorageRequirements map[uint8][]word.Word // slot index -> map keys needed
}

// Context is the fully resolved foreign state for one transaction: every
// transitively reachable foreign account, its pinned procedures, and an
// immutable snapshot of the storage slice it exposes.
type Context struct {
	engine   *vm.Engine
	accounts map[account.ID]*foreignAccount
}

type foreignAccount struct {
	id    account.ID
	code  *vm.Component
	slice *storageSlice
}

// storageSlice is the immutable snapshot of the parts of a foreign account's
// public storage that execution may read.
type storageSlice struct {
	scalars  map[uint8]word.Word
	mapSlots map[uint8]map[word.Word]word.Word
	nonce    uint64
	stateCm  word.Word
}

// Resolve gathers the complete foreign call graph of the given components
// before execution. Roots are all components about to execute locally
// (account code, note scripts, transaction script). Refs carry the caller's
// declared storage requirements; accounts reached transitively without a
// declared ref get a scalar-only slice.
func Resolve(ctx context.Context, store *account.Store, roots []*vm.Component, refs []ForeignAccountRef) (*Context, error) {
	const op = "fpi.Resolve"

	refByID := make(map[account.ID]ForeignAccountRef, len(refs))
	for _, r := range refs {
		refByID[r.ID] = r
	}

	fc := &Context{
		engine:   vm.NewEngine(),
		accounts: make(map[account.ID]*foreignAccount),
	}

	// Seed the frontier with every direct target of the local code, plus the
	// explicitly declared refs (a ref with no static call site is harmless).
	var frontier []vm.ForeignTarget
	for _, comp := range roots {
		frontier = append(frontier, comp.ForeignTargets()...)
	}
	for _, r := range refs {
		for _, root := range r.ProcedureRoots {
			frontier = append(frontier, vm.ForeignTarget{AccountID: r.ID, ProcRoot: root})
		}
	}

	visited := make(map[vm.ForeignTarget]struct{})
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errkind.Wrap(errkind.Network, op, err)
		}
		t := frontier[0]
		frontier = frontier[1:]
		if _, ok := visited[t]; ok {
			continue
		}
		visited[t] = struct{}{}

		fa, ok := fc.accounts[t.AccountID]
		if !ok {
			acct, err := store.Get(t.AccountID)
			if err != nil {
				return nil, errkind.New(errkind.NotFound, op,
					"foreign account %s not available locally", t.AccountID.Hex())
			}
			if acct.Code == nil {
				return nil, errkind.New(errkind.Execution, op,
					"foreign account %s has no code", t.AccountID.Hex())
			}
			fa = &foreignAccount{
				id:    acct.ID,
				code:  acct.Code,
				slice: snapshotSlice(acct, refByID[acct.ID]),
			}
			fc.accounts[acct.ID] = fa
		}

		// Hash pinning: the pinned root must name a procedure the foreign
		// account actually exports. A mismatch means someone substituted
		// different logic and is a hard failure.
		proc, err := fa.code.ProcedureByRoot(t.ProcRoot)
		if err != nil {
			return nil, errkind.New(errkind.Execution, op,
				"foreign account %s: pinned procedure root %s not exported",
				t.AccountID.Hex(), t.ProcRoot.Hex())
		}

		// Recurse: the foreign procedure may itself call further accounts,
		// directly or through local calls inside its component.
		frontier = append(frontier, transitiveTargets(fa.code, proc)...)
	}

	return fc, nil
}

// transitiveTargets scans a procedure and everything it locally calls for
// foreign call sites.
func transitiveTargets(comp *vm.Component, proc *vm.Procedure) []vm.ForeignTarget {
	var out []vm.ForeignTarget
	seen := make(map[string]struct{})
	var walk func(p *vm.Procedure)
	walk = func(p *vm.Procedure) {
		if _, ok := seen[p.Name]; ok {
			return
		}
		seen[p.Name] = struct{}{}
		out = append(out, vm.ScanForeignTargets(p)...)
		for _, in := range p.Code {
			if in.Op == vm.OpCall {
				if callee, err := comp.Procedure(in.Proc); err == nil {
					walk(callee)
				}
			}
		}
	}
	walk(proc)
	return out
}

func snapshotSlice(acct *account.Account, ref ForeignAccountRef) *storageSlice {
	s := &storageSlice{
		scalars:  make(map[uint8]word.Word),
		mapSlots: make(map[uint8]map[word.Word]word.Word),
		nonce:    acct.Nonce,
		stateCm:  acct.StateCommitment(),
	}
	for i := 0; i < acct.Storage.NumSlots() && i < 256; i++ {
		s.scalars[uint8(i)] = acct.Storage.GetItem(uint8(i))
	}
	for slot, keys := range ref.StorageRequirements {
		m := make(map[word.Word]word.Word, len(keys))
		for _, k := range keys {
			m[k] = acct.Storage.GetMapItem(slot, k)
		}
		s.mapSlots[slot] = m
	}
	return s
}

// Call executes a pinned foreign procedure against its snapshot. Nested
// foreign calls dispatch back into the same resolved context.
func (c *Context) Call(ctx context.Context, accountID, procRoot word.Word, args []word.Felt) ([]word.Felt, error) {
	const op = "fpi.Call"
	fa, ok := c.accounts[accountID]
	if !ok {
		return nil, errkind.New(errkind.Execution, op,
			"foreign account %s was not resolved before execution", accountID.Hex())
	}
	proc, err := fa.code.ProcedureByRoot(procRoot)
	if err != nil {
		return nil, errkind.New(errkind.Execution, op,
			"foreign account %s: procedure root %s not pinned",
			accountID.Hex(), procRoot.Hex())
	}
	host := &readOnlyHost{ctx: c, execCtx: ctx, acct: fa}
	return c.engine.Execute(ctx, fa.code, proc, args, host)
}

// Has reports whether an account was resolved into the context.
func (c *Context) Has(id account.ID) bool {
	_, ok := c.accounts[id]
	return ok
}

// readOnlyHost exposes a foreign account's snapshot to the engine. Every
// mutation path is a hard error: foreign execution can never touch the
// foreign account's storage, vault, or nonce.
type readOnlyHost struct {
	ctx     *Context
	execCtx context.Context
	acct    *foreignAccount
}

func (h *readOnlyHost) AccountID() word.Word { return h.acct.id }

func (h *readOnlyHost) GetItem(slot uint8) (word.Word, error) {
	return h.acct.slice.scalars[slot], nil
}

func (h *readOnlyHost) GetMapItem(slot uint8, key word.Word) (word.Word, error) {
	m, ok := h.acct.slice.mapSlots[slot]
	if !ok {
		return word.ZeroWord, errkind.New(errkind.Execution, "fpi.GetMapItem",
			"map slot %d of foreign account %s was not declared in the storage requirements",
			slot, h.acct.id.Hex())
	}
	v, ok := m[key]
	if !ok {
		return word.ZeroWord, errkind.New(errkind.Execution, "fpi.GetMapItem",
			"map key %s of foreign account %s was not declared in the storage requirements",
			key.Hex(), h.acct.id.Hex())
	}
	return v, nil
}

func (h *readOnlyHost) SetItem(uint8, word.Word) error {
	return errkind.New(errkind.Execution, "fpi.SetItem", "foreign execution is read-only")
}

func (h *readOnlyHost) SetMapItem(uint8, word.Word, word.Word) error {
	return errkind.New(errkind.Execution, "fpi.SetMapItem", "foreign execution is read-only")
}

func (h *readOnlyHost) IncrementNonce() error {
	return errkind.New(errkind.Execution, "fpi.IncrementNonce", "foreign execution is read-only")
}

func (h *readOnlyHost) NoteInput(int) (word.Word, error) {
	return word.ZeroWord, errkind.New(errkind.Execution, "fpi.NoteInput", "no note context in foreign execution")
}

func (h *readOnlyHost) MoveNoteAssets() error {
	return errkind.New(errkind.Execution, "fpi.MoveNoteAssets", "no note context in foreign execution")
}

func (h *readOnlyHost) EmitNote(word.Word, word.Felt, word.Word, word.Felt) error {
	return errkind.New(errkind.Execution, "fpi.EmitNote", "foreign execution is read-only")
}

func (h *readOnlyHost) CallForeign(accountID, procRoot word.Word, args []word.Felt) ([]word.Felt, error) {
	return h.ctx.Call(h.execCtx, accountID, procRoot, args)
}
