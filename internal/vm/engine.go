// engine.go - The deterministic stack machine that runs note and account
// procedures.
//
// Execution is a pure function of (procedure, input stack, host state):
// identical inputs always produce identical outputs, which is what makes an
// executed transaction provable. Every effect goes through the Host, so the
// engine itself holds no state between runs.

package vm

import (
	"context"

	"notevm/internal/errkind"
	"notevm/internal/word"
)

const (
	// DefaultMaxStack bounds the operand stack.
	DefaultMaxStack = 1024
	// DefaultMaxSteps bounds execution so a procedure always terminates.
	DefaultMaxSteps = 1 << 16
	// DefaultMaxCallDepth bounds local call nesting.
	DefaultMaxCallDepth = 64
)

// Host is the engine's only window onto the world: the executing account's
// storage, the note being consumed, note creation, and the foreign-call
// channel. All storage writes are staged by the host into a delta; nothing is
// applied until the whole transaction succeeds.
type Host interface {
	AccountID() word.Word

	GetItem(slot uint8) (word.Word, error)
	SetItem(slot uint8, value word.Word) error
	GetMapItem(slot uint8, key word.Word) (word.Word, error)
	SetMapItem(slot uint8, key, value word.Word) error
	IncrementNonce() error

	// NoteInput returns input i of the note currently being consumed.
	NoteInput(i int) (word.Word, error)
	// MoveNoteAssets deposits all assets of the consumed note into the
	// executing account's vault.
	MoveNoteAssets() error

	// EmitNote stages creation of an output note.
	EmitNote(recipient word.Word, tag word.Felt, faucet word.Word, amount word.Felt) error

	// CallForeign invokes a hash-pinned read-only procedure of a foreign
	// account that was resolved before execution began.
	CallForeign(accountID, procRoot word.Word, args []word.Felt) ([]word.Felt, error)
}

// Engine executes procedures against a host.
type Engine struct {
	MaxStack     int
	MaxSteps     int
	MaxCallDepth int
}

// NewEngine returns an engine with default bounds.
func NewEngine() *Engine {
	return &Engine{
		MaxStack:     DefaultMaxStack,
		MaxSteps:     DefaultMaxSteps,
		MaxCallDepth: DefaultMaxCallDepth,
	}
}

// Execute runs a procedure of a component with the given input stack and
// returns the output stack. Any failure is an execution error that aborts
// the enclosing transaction.
func (e *Engine) Execute(ctx context.Context, comp *Component, proc *Procedure, stackIn []word.Felt, host Host) ([]word.Felt, error) {
	run := &run{
		engine: e,
		comp:   comp,
		host:   host,
		stack:  append([]word.Felt(nil), stackIn...),
	}
	if err := run.exec(ctx, proc, 0); err != nil {
		return nil, err
	}
	return run.stack, nil
}

type run struct {
	engine *Engine
	comp   *Component
	host   Host
	stack  []word.Felt
	steps  int
}

func (r *run) exec(ctx context.Context, proc *Procedure, depth int) error {
	const op = "vm.Execute"
	if depth > r.engine.MaxCallDepth {
		return errkind.New(errkind.Execution, op, "call depth exceeds %d", r.engine.MaxCallDepth)
	}
	for _, in := range proc.Code {
		if err := ctx.Err(); err != nil {
			return errkind.Wrap(errkind.Execution, op, err)
		}
		r.steps++
		if r.steps > r.engine.MaxSteps {
			return errkind.New(errkind.Execution, op, "step budget %d exhausted", r.engine.MaxSteps)
		}

		switch in.Op {
		case OpNoop:

		case OpPush:
			if err := r.push(in.Imm); err != nil {
				return err
			}

		case OpDrop:
			if _, err := r.pop(); err != nil {
				return err
			}

		case OpDup:
			if in.Imm >= uint64(len(r.stack)) {
				return errkind.New(errkind.Execution, op, "dup.%d on stack of %d", in.Imm, len(r.stack))
			}
			idx := len(r.stack) - 1 - int(in.Imm)
			if err := r.push(r.stack[idx]); err != nil {
				return err
			}

		case OpSwap:
			if len(r.stack) < 2 {
				return errkind.New(errkind.Execution, op, "swap on stack of %d", len(r.stack))
			}
			n := len(r.stack)
			r.stack[n-1], r.stack[n-2] = r.stack[n-2], r.stack[n-1]

		case OpAdd:
			b, a, err := r.pop2()
			if err != nil {
				return err
			}
			if err := r.push(a + b); err != nil {
				return err
			}

		case OpSub:
			b, a, err := r.pop2()
			if err != nil {
				return err
			}
			if b > a {
				return errkind.New(errkind.Execution, op, "sub underflow: %d - %d", a, b)
			}
			if err := r.push(a - b); err != nil {
				return err
			}

		case OpMul:
			b, a, err := r.pop2()
			if err != nil {
				return err
			}
			if err := r.push(a * b); err != nil {
				return err
			}

		case OpEq:
			b, a, err := r.pop2()
			if err != nil {
				return err
			}
			var v word.Felt
			if a == b {
				v = 1
			}
			if err := r.push(v); err != nil {
				return err
			}

		case OpAssert:
			v, err := r.pop()
			if err != nil {
				return err
			}
			if v == 0 {
				return errkind.New(errkind.Execution, op, "assertion failed in %q", proc.Name)
			}

		case OpAssertEq:
			b, a, err := r.pop2()
			if err != nil {
				return err
			}
			if a != b {
				return errkind.New(errkind.Execution, op,
					"assert_eq failed in %q: %d != %d", proc.Name, a, b)
			}

		case OpAssertEqW:
			b, err := r.popWord()
			if err != nil {
				return err
			}
			a, err := r.popWord()
			if err != nil {
				return err
			}
			if a != b {
				return errkind.New(errkind.Execution, op,
					"assert_eqw failed in %q: %s != %s", proc.Name, a, b)
			}

		case OpHash:
			w, err := r.popWord()
			if err != nil {
				return err
			}
			if err := r.pushWord(word.HashWords(w)); err != nil {
				return err
			}

		case OpGetItem:
			w, err := r.host.GetItem(uint8(in.Imm))
			if err != nil {
				return err
			}
			if err := r.pushWord(w); err != nil {
				return err
			}

		case OpSetItem:
			w, err := r.popWord()
			if err != nil {
				return err
			}
			if err := r.host.SetItem(uint8(in.Imm), w); err != nil {
				return err
			}

		case OpGetMapItem:
			key, err := r.popWord()
			if err != nil {
				return err
			}
			w, err := r.host.GetMapItem(uint8(in.Imm), key)
			if err != nil {
				return err
			}
			if err := r.pushWord(w); err != nil {
				return err
			}

		case OpSetMapItem:
			value, err := r.popWord()
			if err != nil {
				return err
			}
			key, err := r.popWord()
			if err != nil {
				return err
			}
			if err := r.host.SetMapItem(uint8(in.Imm), key, value); err != nil {
				return err
			}

		case OpIncrNonce:
			if err := r.host.IncrementNonce(); err != nil {
				return err
			}

		case OpPushInput:
			w, err := r.host.NoteInput(int(in.Imm))
			if err != nil {
				return err
			}
			if err := r.pushWord(w); err != nil {
				return err
			}

		case OpMoveNoteAssets:
			if err := r.host.MoveNoteAssets(); err != nil {
				return err
			}

		case OpAccountID:
			if err := r.pushWord(r.host.AccountID()); err != nil {
				return err
			}

		case OpCreateNote:
			recipient, err := r.popWord()
			if err != nil {
				return err
			}
			tag, err := r.pop()
			if err != nil {
				return err
			}
			faucet, err := r.popWord()
			if err != nil {
				return err
			}
			amount, err := r.pop()
			if err != nil {
				return err
			}
			if err := r.host.EmitNote(recipient, tag, faucet, amount); err != nil {
				return err
			}

		case OpCall:
			callee, err := r.comp.Procedure(in.Proc)
			if err != nil {
				return errkind.Wrap(errkind.Execution, op, err)
			}
			if err := r.exec(ctx, callee, depth+1); err != nil {
				return err
			}

		case OpFpiCall:
			args := make([]word.Felt, in.Imm)
			for i := int(in.Imm) - 1; i >= 0; i-- {
				v, err := r.pop()
				if err != nil {
					return err
				}
				args[i] = v
			}
			out, err := r.host.CallForeign(in.Foreign, in.ForeignProc, args)
			if err != nil {
				return err
			}
			for _, v := range out {
				if err := r.push(v); err != nil {
					return err
				}
			}

		default:
			return errkind.New(errkind.Execution, op, "invalid opcode %d", in.Op)
		}
	}
	return nil
}

func (r *run) push(v word.Felt) error {
	if len(r.stack) >= r.engine.MaxStack {
		return errkind.New(errkind.Execution, "vm.Execute", "stack limit %d exceeded", r.engine.MaxStack)
	}
	r.stack = append(r.stack, v)
	return nil
}

func (r *run) pop() (word.Felt, error) {
	if len(r.stack) == 0 {
		return 0, errkind.New(errkind.Execution, "vm.Execute", "pop on empty stack")
	}
	v := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return v, nil
}

func (r *run) pop2() (top, below word.Felt, err error) {
	if top, err = r.pop(); err != nil {
		return
	}
	below, err = r.pop()
	return
}

// pushWord pushes w[0] first so w[3] ends up on top.
func (r *run) pushWord(w word.Word) error {
	for _, f := range w {
		if err := r.push(f); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) popWord() (word.Word, error) {
	var w word.Word
	for i := 3; i >= 0; i-- {
		v, err := r.pop()
		if err != nil {
			return word.ZeroWord, err
		}
		w[i] = v
	}
	return w, nil
}
