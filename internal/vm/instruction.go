// instruction.go - The instruction set of the note script engine.
//
// Procedures are data: a flat list of tagged-variant instructions. Procedure
// identity is a content hash of the encoded instruction list, which is what
// lets foreign calls pin the exact logic they invoke.

package vm

import (
	"encoding/binary"

	"notevm/internal/word"
)

// Op is the instruction opcode.
type Op uint8

const (
	OpNoop Op = iota

	// Stack manipulation.
	OpPush // push immediate felt
	OpDrop
	OpDup  // duplicate the felt Imm positions below the top
	OpSwap // swap the top two felts

	// Arithmetic and comparison. Add and Mul wrap mod 2^64; Sub fails on
	// underflow so balance-style checks cannot silently wrap.
	OpAdd
	OpSub
	OpMul
	OpEq

	// Assertions. A failed assertion aborts the whole enclosing transaction.
	OpAssert
	OpAssertEq
	OpAssertEqW // pop two words, assert equality

	// Hashing: pop a word, push its MiMC digest.
	OpHash

	// Account storage. Imm is the slot index. Word operands travel on the
	// stack as four felts.
	OpGetItem
	OpSetItem
	OpGetMapItem
	OpSetMapItem

	// Nonce increment: marks the procedure's mutation as publicly authorized.
	OpIncrNonce

	// Note context. PushInput pushes note input word Imm; MoveNoteAssets
	// deposits all of the consumed note's assets into the executing account.
	OpPushInput
	OpMoveNoteAssets

	// Push the executing account's id word.
	OpAccountID

	// Note creation: pops recipient word, tag felt, faucet word, amount felt.
	OpCreateNote

	// Procedure calls. Call dispatches to a named procedure of the local
	// component; FpiCall invokes a hash-pinned read-only procedure of a
	// foreign account, passing Imm felts from the caller's stack.
	OpCall
	OpFpiCall
)

var opNames = map[Op]string{
	OpNoop:           "noop",
	OpPush:           "push",
	OpDrop:           "drop",
	OpDup:            "dup",
	OpSwap:           "swap",
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpEq:             "eq",
	OpAssert:         "assert",
	OpAssertEq:       "assert_eq",
	OpAssertEqW:      "assert_eqw",
	OpHash:           "hash",
	OpGetItem:        "get_item",
	OpSetItem:        "set_item",
	OpGetMapItem:     "get_map_item",
	OpSetMapItem:     "set_map_item",
	OpIncrNonce:      "incr_nonce",
	OpPushInput:      "push_input",
	OpMoveNoteAssets: "move_note_assets",
	OpAccountID:      "account_id",
	OpCreateNote:     "create_note",
	OpCall:           "call",
	OpFpiCall:        "fpi_call",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "invalid"
}

// Instruction is one tagged-variant instruction.
type Instruction struct {
	Op Op

	// Imm is the immediate: the pushed felt, a slot index, an input index, a
	// dup depth, or an FPI argument count, depending on Op.
	Imm word.Felt

	// Proc is the callee name for OpCall.
	Proc string

	// Foreign pins the target of an OpFpiCall: account id plus the exact
	// procedure root being invoked.
	Foreign     word.Word
	ForeignProc word.Word
}

// encode appends the canonical byte encoding of the instruction.
func (in Instruction) encode(buf []byte) []byte {
	buf = append(buf, byte(in.Op))
	var imm [8]byte
	binary.BigEndian.PutUint64(imm[:], in.Imm)
	buf = append(buf, imm[:]...)
	var plen [2]byte
	binary.BigEndian.PutUint16(plen[:], uint16(len(in.Proc)))
	buf = append(buf, plen[:]...)
	buf = append(buf, in.Proc...)
	buf = append(buf, in.Foreign.Bytes()...)
	buf = append(buf, in.ForeignProc.Bytes()...)
	return buf
}
