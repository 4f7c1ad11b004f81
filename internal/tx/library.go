// library.go - The script library: note spend scripts keyed by content root.
//
// A note carries only its script root; the executor needs the actual code to
// run it. The library maps roots to registered components. Well-known scripts
// (pay-to-id, preimage-locked) are registered by scripts.go; wallets register
// anything custom they expect to consume.

package tx

import (
	"sync"

	"notevm/internal/errkind"
	"notevm/internal/vm"
	"notevm/internal/word"
)

// ScriptLibrary resolves note script roots to executable procedures.
type ScriptLibrary struct {
	mu      sync.RWMutex
	entries map[word.Word]scriptEntry
}

type scriptEntry struct {
	comp *vm.Component
	proc *vm.Procedure
}

// NewScriptLibrary returns an empty library.
func NewScriptLibrary() *ScriptLibrary {
	return &ScriptLibrary{entries: make(map[word.Word]scriptEntry)}
}

// Register adds a component's procedure under its content root and returns
// the root.
func (l *ScriptLibrary) Register(comp *vm.Component, procName string) (word.Word, error) {
	proc, err := comp.Procedure(procName)
	if err != nil {
		return word.ZeroWord, errkind.Wrap(errkind.Build, "tx.ScriptLibrary.Register", err)
	}
	root := proc.Root()
	l.mu.Lock()
	l.entries[root] = scriptEntry{comp: comp, proc: proc}
	l.mu.Unlock()
	return root, nil
}

// Lookup finds a registered script by root.
func (l *ScriptLibrary) Lookup(root word.Word) (*vm.Component, *vm.Procedure, error) {
	l.mu.RLock()
	e, ok := l.entries[root]
	l.mu.RUnlock()
	if !ok {
		return nil, nil, errkind.New(errkind.NotFound, "tx.ScriptLibrary.Lookup",
			"no script registered for root %s", root.Hex())
	}
	return e.comp, e.proc, nil
}
