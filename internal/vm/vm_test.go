package vm

import (
	"context"
	"testing"

	"notevm/internal/errkind"
	"notevm/internal/word"
)

// stubHost backs engine tests with plain maps, no staging.
type stubHost struct {
	id         word.Word
	slots      map[uint8]word.Word
	maps       map[uint8]map[word.Word]word.Word
	noteInputs []word.Word
	nonce      int
	moved      int
	emitted    int
	foreign    func(accountID, procRoot word.Word, args []word.Felt) ([]word.Felt, error)
}

func newStubHost() *stubHost {
	return &stubHost{
		id:    word.NewWord(1, 2, 3, 4),
		slots: make(map[uint8]word.Word),
		maps:  make(map[uint8]map[word.Word]word.Word),
	}
}

func (h *stubHost) AccountID() word.Word { return h.id }

func (h *stubHost) GetItem(slot uint8) (word.Word, error) { return h.slots[slot], nil }

func (h *stubHost) SetItem(slot uint8, value word.Word) error {
	h.slots[slot] = value
	return nil
}

func (h *stubHost) GetMapItem(slot uint8, key word.Word) (word.Word, error) {
	return h.maps[slot][key], nil
}

func (h *stubHost) SetMapItem(slot uint8, key, value word.Word) error {
	if h.maps[slot] == nil {
		h.maps[slot] = make(map[word.Word]word.Word)
	}
	h.maps[slot][key] = value
	return nil
}

func (h *stubHost) IncrementNonce() error {
	h.nonce++
	return nil
}

func (h *stubHost) NoteInput(i int) (word.Word, error) {
	if i >= len(h.noteInputs) {
		return word.ZeroWord, errkind.New(errkind.Execution, "stubHost", "no input %d", i)
	}
	return h.noteInputs[i], nil
}

func (h *stubHost) MoveNoteAssets() error {
	h.moved++
	return nil
}

func (h *stubHost) EmitNote(word.Word, word.Felt, word.Word, word.Felt) error {
	h.emitted++
	return nil
}

func (h *stubHost) CallForeign(accountID, procRoot word.Word, args []word.Felt) ([]word.Felt, error) {
	if h.foreign == nil {
		return nil, errkind.New(errkind.Execution, "stubHost", "no foreign calls wired")
	}
	return h.foreign(accountID, procRoot, args)
}

func runProc(t *testing.T, code []Instruction, stackIn []word.Felt, h Host) ([]word.Felt, error) {
	t.Helper()
	if h == nil {
		h = newStubHost()
	}
	proc := NewProcedure("test", code)
	comp := NewComponent(0, proc)
	return NewEngine().Execute(context.Background(), comp, proc, stackIn, h)
}

func TestArithmetic(t *testing.T) {
	out, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 7},
		{Op: OpPush, Imm: 5},
		{Op: OpAdd},
		{Op: OpPush, Imm: 2},
		{Op: OpMul},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(out) != 1 || out[0] != 24 {
		t.Errorf("stack = %v, want [24]", out)
	}
}

func TestSubUnderflowFails(t *testing.T) {
	_, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 3},
		{Op: OpPush, Imm: 5},
		{Op: OpSub},
	}, nil, nil)
	if err == nil {
		t.Fatal("sub underflow should fail")
	}
	if !errkind.IsExecution(err) {
		t.Errorf("underflow should be an execution error, got %v", err)
	}
}

func TestStackOps(t *testing.T) {
	out, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 1},
		{Op: OpPush, Imm: 2},
		{Op: OpSwap},
		{Op: OpDup, Imm: 1},
		{Op: OpDrop},
		{Op: OpDrop},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(out) != 1 || out[0] != 2 {
		t.Errorf("stack = %v, want [2]", out)
	}

	if _, err := runProc(t, []Instruction{{Op: OpDrop}}, nil, nil); err == nil {
		t.Error("drop on empty stack should fail")
	}
	if _, err := runProc(t, []Instruction{{Op: OpSwap}}, []word.Felt{1}, nil); err == nil {
		t.Error("swap on a single-felt stack should fail")
	}
}

func TestDupDepthOutOfRange(t *testing.T) {
	// A dup depth at or past the stack size must fail as an execution error,
	// even for immediates that would go negative as a signed index.
	for _, imm := range []word.Felt{1, 64, 1 << 63, ^uint64(0)} {
		_, err := runProc(t, []Instruction{
			{Op: OpPush, Imm: 7},
			{Op: OpDup, Imm: imm},
		}, nil, nil)
		if !errkind.IsExecution(err) {
			t.Errorf("dup.%d: err = %v, want execution error", imm, err)
		}
	}
}

func TestAssertions(t *testing.T) {
	if _, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 1},
		{Op: OpAssert},
	}, nil, nil); err != nil {
		t.Errorf("assert on 1 should pass: %v", err)
	}
	if _, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 0},
		{Op: OpAssert},
	}, nil, nil); err == nil {
		t.Error("assert on 0 should fail")
	}
	if _, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 4},
		{Op: OpPush, Imm: 4},
		{Op: OpAssertEq},
	}, nil, nil); err != nil {
		t.Errorf("assert_eq on equal felts should pass: %v", err)
	}
	if _, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 4},
		{Op: OpPush, Imm: 5},
		{Op: OpAssertEq},
	}, nil, nil); err == nil {
		t.Error("assert_eq on unequal felts should fail")
	}
}

func TestWordStackConvention(t *testing.T) {
	// account_id pushes the id word; assert_eqw compares it against the same
	// word pushed element by element, element 0 first.
	h := newStubHost()
	code := []Instruction{
		{Op: OpPush, Imm: h.id[0]},
		{Op: OpPush, Imm: h.id[1]},
		{Op: OpPush, Imm: h.id[2]},
		{Op: OpPush, Imm: h.id[3]},
		{Op: OpAccountID},
		{Op: OpAssertEqW},
	}
	if _, err := runProc(t, code, nil, h); err != nil {
		t.Fatalf("word equality across push order failed: %v", err)
	}
}

func TestHashOp(t *testing.T) {
	w := word.NewWord(9, 8, 7, 6)
	want := word.HashWords(w)
	out, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: w[0]},
		{Op: OpPush, Imm: w[1]},
		{Op: OpPush, Imm: w[2]},
		{Op: OpPush, Imm: w[3]},
		{Op: OpHash},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("hash should leave one word, got %d felts", len(out))
	}
	got := word.NewWord(out[0], out[1], out[2], out[3])
	if got != want {
		t.Errorf("hash = %v, want %v", got, want)
	}
}

func TestStorageOps(t *testing.T) {
	h := newStubHost()
	v := word.NewWord(0, 0, 0, 42)
	code := []Instruction{
		{Op: OpPush, Imm: v[0]},
		{Op: OpPush, Imm: v[1]},
		{Op: OpPush, Imm: v[2]},
		{Op: OpPush, Imm: v[3]},
		{Op: OpSetItem, Imm: 3},
		{Op: OpGetItem, Imm: 3},
	}
	out, err := runProc(t, code, nil, h)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := word.NewWord(out[0], out[1], out[2], out[3]); got != v {
		t.Errorf("get after set = %v, want %v", got, v)
	}
	if h.slots[3] != v {
		t.Error("set_item did not reach the host")
	}
}

func TestMapStorageOps(t *testing.T) {
	h := newStubHost()
	key := word.NewWord(9, 9, 9, 9)
	val := word.NewWord(0, 0, 0, 7)
	code := []Instruction{
		{Op: OpPush, Imm: key[0]},
		{Op: OpPush, Imm: key[1]},
		{Op: OpPush, Imm: key[2]},
		{Op: OpPush, Imm: key[3]},
		{Op: OpPush, Imm: val[0]},
		{Op: OpPush, Imm: val[1]},
		{Op: OpPush, Imm: val[2]},
		{Op: OpPush, Imm: val[3]},
		{Op: OpSetMapItem, Imm: 2},
		{Op: OpPush, Imm: key[0]},
		{Op: OpPush, Imm: key[1]},
		{Op: OpPush, Imm: key[2]},
		{Op: OpPush, Imm: key[3]},
		{Op: OpGetMapItem, Imm: 2},
	}
	out, err := runProc(t, code, nil, h)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := word.NewWord(out[0], out[1], out[2], out[3]); got != val {
		t.Errorf("map get after set = %v, want %v", got, val)
	}

	// An unwritten key reads back as the zero word.
	other := word.NewWord(8, 8, 8, 8)
	code = []Instruction{
		{Op: OpPush, Imm: other[0]},
		{Op: OpPush, Imm: other[1]},
		{Op: OpPush, Imm: other[2]},
		{Op: OpPush, Imm: other[3]},
		{Op: OpGetMapItem, Imm: 2},
	}
	out, err = runProc(t, code, nil, h)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := word.NewWord(out[0], out[1], out[2], out[3]); got != word.ZeroWord {
		t.Errorf("unwritten map key = %v, want zero word", got)
	}
}

func TestNoteContextOps(t *testing.T) {
	h := newStubHost()
	h.noteInputs = []word.Word{word.NewWord(1, 1, 1, 1)}
	code := []Instruction{
		{Op: OpPushInput, Imm: 0},
		{Op: OpDrop}, {Op: OpDrop}, {Op: OpDrop}, {Op: OpDrop},
		{Op: OpMoveNoteAssets},
		{Op: OpIncrNonce},
	}
	if _, err := runProc(t, code, nil, h); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if h.moved != 1 || h.nonce != 1 {
		t.Errorf("moved=%d nonce=%d, want 1/1", h.moved, h.nonce)
	}

	if _, err := runProc(t, []Instruction{{Op: OpPushInput, Imm: 5}}, nil, h); err == nil {
		t.Error("out-of-range note input should fail")
	}
}

func TestLocalCall(t *testing.T) {
	inner := NewProcedure("inner", []Instruction{
		{Op: OpPush, Imm: 10},
		{Op: OpAdd},
	})
	outer := NewProcedure("outer", []Instruction{
		{Op: OpPush, Imm: 1},
		{Op: OpCall, Proc: "inner"},
	})
	comp := NewComponent(0, inner, outer)
	out, err := NewEngine().Execute(context.Background(), comp, outer, nil, newStubHost())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(out) != 1 || out[0] != 11 {
		t.Errorf("stack = %v, want [11]", out)
	}

	missing := NewProcedure("m", []Instruction{{Op: OpCall, Proc: "nowhere"}})
	comp2 := NewComponent(0, missing)
	if _, err := NewEngine().Execute(context.Background(), comp2, missing, nil, newStubHost()); err == nil {
		t.Error("call to an unknown procedure should fail")
	}
}

func TestCallDepthBounded(t *testing.T) {
	rec := NewProcedure("rec", []Instruction{{Op: OpCall, Proc: "rec"}})
	comp := NewComponent(0, rec)
	_, err := NewEngine().Execute(context.Background(), comp, rec, nil, newStubHost())
	if err == nil {
		t.Fatal("unbounded recursion should be cut off")
	}
	if !errkind.IsExecution(err) {
		t.Errorf("depth limit should be an execution error, got %v", err)
	}
}

func TestStepBudget(t *testing.T) {
	e := NewEngine()
	e.MaxSteps = 8
	code := make([]Instruction, 0, 16)
	for i := 0; i < 16; i++ {
		code = append(code, Instruction{Op: OpNoop})
	}
	proc := NewProcedure("spin", code)
	comp := NewComponent(0, proc)
	if _, err := e.Execute(context.Background(), comp, proc, nil, newStubHost()); err == nil {
		t.Error("step budget should abort the run")
	}
}

func TestStackLimit(t *testing.T) {
	e := NewEngine()
	e.MaxStack = 4
	code := make([]Instruction, 0, 8)
	for i := 0; i < 8; i++ {
		code = append(code, Instruction{Op: OpPush, Imm: 1})
	}
	proc := NewProcedure("fill", code)
	comp := NewComponent(0, proc)
	if _, err := e.Execute(context.Background(), comp, proc, nil, newStubHost()); err == nil {
		t.Error("stack limit should abort the run")
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := NewProcedure("p", []Instruction{{Op: OpNoop}})
	comp := NewComponent(0, proc)
	if _, err := NewEngine().Execute(ctx, comp, proc, nil, newStubHost()); err == nil {
		t.Error("cancelled context should abort execution")
	}
}

func TestForeignCallFlow(t *testing.T) {
	h := newStubHost()
	target := word.NewWord(5, 5, 5, 5)
	root := word.NewWord(6, 6, 6, 6)
	var gotArgs []word.Felt
	h.foreign = func(accountID, procRoot word.Word, args []word.Felt) ([]word.Felt, error) {
		if accountID != target || procRoot != root {
			t.Errorf("foreign call targeted %v/%v", accountID, procRoot)
		}
		gotArgs = args
		return []word.Felt{99}, nil
	}
	out, err := runProc(t, []Instruction{
		{Op: OpPush, Imm: 1},
		{Op: OpPush, Imm: 2},
		{Op: OpFpiCall, Imm: 2, Foreign: target, ForeignProc: root},
	}, nil, h)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(gotArgs) != 2 || gotArgs[0] != 1 || gotArgs[1] != 2 {
		t.Errorf("foreign args = %v, want [1 2]", gotArgs)
	}
	if len(out) != 1 || out[0] != 99 {
		t.Errorf("stack = %v, want [99]", out)
	}
}

func TestProcedureRootContentAddressed(t *testing.T) {
	p1 := NewProcedure("a", []Instruction{{Op: OpPush, Imm: 1}})
	p2 := NewProcedure("b", []Instruction{{Op: OpPush, Imm: 1}})
	p3 := NewProcedure("a", []Instruction{{Op: OpPush, Imm: 2}})
	if p1.Root() != p2.Root() {
		t.Error("the root should depend on code only, not the name")
	}
	if p1.Root() == p3.Root() {
		t.Error("different code should produce different roots")
	}

	comp := NewComponent(0, p3)
	got, err := comp.ProcedureByRoot(p3.Root())
	if err != nil {
		t.Fatalf("ProcedureByRoot failed: %v", err)
	}
	if got != p3 {
		t.Error("root lookup returned the wrong procedure")
	}
	if _, err := comp.ProcedureByRoot(word.NewWord(1, 2, 3, 4)); err == nil {
		t.Error("unknown root should not resolve")
	}
}
