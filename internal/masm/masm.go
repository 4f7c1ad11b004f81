// masm.go - Minimal text assembler for account and note scripts.
//
// This is the engine-side half of the compiler boundary: it turns source text
// like
//
//	proc increment
//	    get_item.0
//	    push.1
//	    add
//	    set_item.0
//	    incr_nonce
//	end
//
// into a compiled component exposing named procedures with content-addressed
// roots. Everything downstream treats compilation as opaque; a full external
// assembler could replace this package behind the same Compile signature.

package masm

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"notevm/internal/errkind"
	"notevm/internal/vm"
	"notevm/internal/word"
)

const componentCacheSize = 256

// componentCache memoizes compilations keyed by source digest. Compilation is
// deterministic, so a hit is always safe to reuse.
var componentCache, _ = lru.New[word.Word, *vm.Component](componentCacheSize)

// Compile parses source text into a component with the given storage slot
// count.
func Compile(source string, numSlots int) (*vm.Component, error) {
	key := word.HashWithDomain("masm-src", word.HashBytes([]byte(source)), word.NewWord(uint64(numSlots), 0, 0, 0))
	if c, ok := componentCache.Get(key); ok {
		return c, nil
	}

	var procs []*vm.Procedure
	var name string
	var code []Instruction
	inProc := false

	for lineNo, raw := range strings.Split(source, "\n") {
		line := raw
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "proc":
			if inProc {
				return nil, parseErr(lineNo, "nested proc")
			}
			if len(fields) != 2 {
				return nil, parseErr(lineNo, "proc needs exactly one name")
			}
			inProc = true
			name = fields[1]
			code = nil
		case "end":
			if !inProc {
				return nil, parseErr(lineNo, "end outside proc")
			}
			procs = append(procs, vm.NewProcedure(name, flatten(code)))
			inProc = false
		default:
			if !inProc {
				return nil, parseErr(lineNo, "instruction %q outside proc", fields[0])
			}
			ins, err := parseInstruction(fields)
			if err != nil {
				return nil, parseErr(lineNo, "%v", err)
			}
			code = append(code, ins)
		}
	}
	if inProc {
		return nil, errkind.New(errkind.Build, "masm.Compile", "proc %q not terminated", name)
	}
	if len(procs) == 0 {
		return nil, errkind.New(errkind.Build, "masm.Compile", "no procedures in source")
	}

	comp := vm.NewComponent(numSlots, procs...)
	componentCache.Add(key, comp)
	return comp, nil
}

// LookupProcedureRoot returns the content hash of a named procedure of a
// compiled component.
func LookupProcedureRoot(c *vm.Component, name string) (word.Word, error) {
	return c.LookupProcedureRoot(name)
}

// Instruction is a parsed mnemonic that may expand to several vm instructions
// (pushw expands to four pushes).
type Instruction struct {
	expanded []vm.Instruction
}

func flatten(code []Instruction) []vm.Instruction {
	var out []vm.Instruction
	for _, c := range code {
		out = append(out, c.expanded...)
	}
	return out
}

func one(in vm.Instruction) Instruction {
	return Instruction{expanded: []vm.Instruction{in}}
}

var plainOps = map[string]vm.Op{
	"noop":             vm.OpNoop,
	"drop":             vm.OpDrop,
	"swap":             vm.OpSwap,
	"add":              vm.OpAdd,
	"sub":              vm.OpSub,
	"mul":              vm.OpMul,
	"eq":               vm.OpEq,
	"assert":           vm.OpAssert,
	"assert_eq":        vm.OpAssertEq,
	"assert_eqw":       vm.OpAssertEqW,
	"hash":             vm.OpHash,
	"incr_nonce":       vm.OpIncrNonce,
	"move_note_assets": vm.OpMoveNoteAssets,
	"account_id":       vm.OpAccountID,
	"create_note":      vm.OpCreateNote,
}

var immOps = map[string]vm.Op{
	"push":         vm.OpPush,
	"dup":          vm.OpDup,
	"get_item":     vm.OpGetItem,
	"set_item":     vm.OpSetItem,
	"get_map_item": vm.OpGetMapItem,
	"set_map_item": vm.OpSetMapItem,
	"push_input":   vm.OpPushInput,
}

func parseInstruction(fields []string) (Instruction, error) {
	mnemonic := fields[0]
	var immStr string
	if i := strings.IndexByte(mnemonic, '.'); i >= 0 {
		immStr = mnemonic[i+1:]
		mnemonic = mnemonic[:i]
	}

	if op, ok := plainOps[mnemonic]; ok {
		if immStr != "" || len(fields) > 1 {
			return Instruction{}, fmt.Errorf("%s takes no operand", mnemonic)
		}
		return one(vm.Instruction{Op: op}), nil
	}

	if op, ok := immOps[mnemonic]; ok {
		if immStr == "" && len(fields) == 2 {
			immStr = fields[1]
		}
		imm, err := strconv.ParseUint(immStr, 10, 64)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s needs a numeric immediate: %v", mnemonic, err)
		}
		return one(vm.Instruction{Op: op, Imm: imm}), nil
	}

	switch mnemonic {
	case "pushw":
		// pushw <hex word>: pushes the four felts of a word constant.
		if immStr == "" && len(fields) == 2 {
			immStr = fields[1]
		}
		w, err := word.WordFromHex(immStr)
		if err != nil {
			return Instruction{}, fmt.Errorf("pushw needs a hex word: %v", err)
		}
		ins := make([]vm.Instruction, 4)
		for i, f := range w {
			ins[i] = vm.Instruction{Op: vm.OpPush, Imm: f}
		}
		return Instruction{expanded: ins}, nil

	case "call":
		if immStr == "" && len(fields) == 2 {
			immStr = fields[1]
		}
		if immStr == "" {
			return Instruction{}, fmt.Errorf("call needs a procedure name")
		}
		return one(vm.Instruction{Op: vm.OpCall, Proc: immStr}), nil

	case "fpi":
		// fpi <account hex> <proc root hex> <nargs>
		if len(fields) != 4 {
			return Instruction{}, fmt.Errorf("fpi needs: fpi <account> <proc root> <nargs>")
		}
		acct, err := word.WordFromHex(fields[1])
		if err != nil {
			return Instruction{}, fmt.Errorf("fpi account: %v", err)
		}
		root, err := word.WordFromHex(fields[2])
		if err != nil {
			return Instruction{}, fmt.Errorf("fpi proc root: %v", err)
		}
		nargs, err := strconv.ParseUint(fields[3], 10, 8)
		if err != nil {
			return Instruction{}, fmt.Errorf("fpi nargs: %v", err)
		}
		return one(vm.Instruction{Op: vm.OpFpiCall, Foreign: acct, ForeignProc: root, Imm: nargs}), nil
	}

	return Instruction{}, fmt.Errorf("unknown mnemonic %q", mnemonic)
}

func parseErr(lineNo int, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return errkind.New(errkind.Build, "masm.Compile", "line %d: %s", lineNo+1, msg)
}
