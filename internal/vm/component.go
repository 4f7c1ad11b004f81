// component.go - Procedures and compiled components.
//
// A component is a set of named, exported procedures. Each procedure has a
// content-addressed root; the component's MAST root folds the sorted
// procedure roots. Components are immutable once built.

package vm

import (
	"sort"

	"notevm/internal/errkind"
	"notevm/internal/word"
)

// Procedure is a named, executable instruction list.
type Procedure struct {
	Name string
	Code []Instruction

	root     word.Word
	hasRoot  bool
	numSlots int
}

// NewProcedure builds a procedure from code.
func NewProcedure(name string, code []Instruction) *Procedure {
	return &Procedure{Name: name, Code: code}
}

// Root returns the content hash of the procedure's code. Cached after first
// computation; procedures are never mutated after construction.
func (p *Procedure) Root() word.Word {
	if !p.hasRoot {
		buf := []byte("procedure")
		for _, in := range p.Code {
			buf = in.encode(buf)
		}
		p.root = word.HashBytes(buf)
		p.hasRoot = true
	}
	return p.root
}

// Component is a compiled account or note script module: exported procedures
// plus the slot count its storage layout expects.
type Component struct {
	procs    map[string]*Procedure
	byRoot   map[word.Word]*Procedure
	NumSlots int
}

// NewComponent assembles a component from procedures.
func NewComponent(numSlots int, procs ...*Procedure) *Component {
	c := &Component{
		procs:    make(map[string]*Procedure, len(procs)),
		byRoot:   make(map[word.Word]*Procedure, len(procs)),
		NumSlots: numSlots,
	}
	for _, p := range procs {
		c.procs[p.Name] = p
		c.byRoot[p.Root()] = p
	}
	return c
}

// Procedure looks up an exported procedure by name.
func (c *Component) Procedure(name string) (*Procedure, error) {
	p, ok := c.procs[name]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "vm.Component.Procedure",
			"no exported procedure %q", name)
	}
	return p, nil
}

// ProcedureByRoot looks up an exported procedure by its pinned root hash.
func (c *Component) ProcedureByRoot(root word.Word) (*Procedure, error) {
	p, ok := c.byRoot[root]
	if !ok {
		return nil, errkind.New(errkind.Execution, "vm.Component.ProcedureByRoot",
			"no exported procedure with root %s", root.Hex())
	}
	return p, nil
}

// LookupProcedureRoot returns the content hash of a named procedure.
func (c *Component) LookupProcedureRoot(name string) (word.Word, error) {
	p, err := c.Procedure(name)
	if err != nil {
		return word.ZeroWord, err
	}
	return p.Root(), nil
}

// ProcedureNames returns the exported names in sorted order.
func (c *Component) ProcedureNames() []string {
	names := make([]string, 0, len(c.procs))
	for name := range c.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Root returns the MAST root: the hash of the sorted procedure roots.
func (c *Component) Root() word.Word {
	roots := make([]word.Word, 0, len(c.procs))
	for _, name := range c.ProcedureNames() {
		roots = append(roots, c.procs[name].Root())
	}
	return word.HashWithDomain("mast", roots...)
}

// ForeignTargets returns the direct FPI targets referenced anywhere in the
// component's code: (account id, procedure root) pairs. The resolver uses
// this to gather the transitive call graph before execution begins.
func (c *Component) ForeignTargets() []ForeignTarget {
	seen := make(map[ForeignTarget]struct{})
	var out []ForeignTarget
	for _, name := range c.ProcedureNames() {
		for _, t := range ScanForeignTargets(c.procs[name]) {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

// ForeignTarget is one hash-pinned foreign call site.
type ForeignTarget struct {
	AccountID word.Word
	ProcRoot  word.Word
}

// ScanForeignTargets statically collects the FPI targets of one procedure.
func ScanForeignTargets(p *Procedure) []ForeignTarget {
	var out []ForeignTarget
	for _, in := range p.Code {
		if in.Op == OpFpiCall {
			out = append(out, ForeignTarget{AccountID: in.Foreign, ProcRoot: in.ForeignProc})
		}
	}
	return out
}
