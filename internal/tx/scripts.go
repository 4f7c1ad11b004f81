// scripts.go - Well-known note and transaction scripts.
//
// Pay-to-id locks a note to a target account; the preimage-locked variant
// additionally demands a secret whose hash was committed into the note
// inputs. Both move the note's assets into the consuming account and
// increment the nonce, so any party may execute the consumption on the
// target's behalf.

package tx

import (
	"fmt"

	"notevm/internal/masm"
	"notevm/internal/vm"
	"notevm/internal/word"
)

// P2IDSource is the pay-to-id spend script. Note input 0 carries the target
// account id; consumption asserts the executing account is that target.
const P2IDSource = `
proc spend
    push_input.0
    account_id
    assert_eqw
    move_note_assets
    incr_nonce
end
`

// P2IDHSource is the preimage-locked pay-to-id script. Note input 1 carries
// the digest of a secret word; the consumer supplies the preimage as note
// argument 0 (the script's initial stack).
const P2IDHSource = `
proc spend
    hash
    push_input.1
    assert_eqw
    push_input.0
    account_id
    assert_eqw
    move_note_assets
    incr_nonce
end
`

// MintSource renders a faucet mint script: the faucet issues amount units of
// its own asset into a note aimed at the given recipient digest.
func MintSource(recipient word.Word, tag uint32, amount uint64) string {
	return fmt.Sprintf(`
proc mint
    push.%d
    account_id
    push.%d
    pushw.%s
    create_note
    incr_nonce
end
`, amount, tag, recipient.Hex())
}

// SendSource renders a wallet send script: move amount units of the faucet's
// asset out of the executing account into a note for the recipient digest.
func SendSource(faucet word.Word, recipient word.Word, tag uint32, amount uint64) string {
	return fmt.Sprintf(`
proc send
    push.%d
    pushw.%s
    push.%d
    pushw.%s
    create_note
    incr_nonce
end
`, amount, faucet.Hex(), tag, recipient.Hex())
}

// DefaultLibrary returns a script library with the well-known spend scripts
// registered, plus their roots.
func DefaultLibrary() (*ScriptLibrary, word.Word, word.Word, error) {
	lib := NewScriptLibrary()
	p2id, err := masm.Compile(P2IDSource, 0)
	if err != nil {
		return nil, word.ZeroWord, word.ZeroWord, err
	}
	p2idRoot, err := lib.Register(p2id, "spend")
	if err != nil {
		return nil, word.ZeroWord, word.ZeroWord, err
	}
	p2idh, err := masm.Compile(P2IDHSource, 0)
	if err != nil {
		return nil, word.ZeroWord, word.ZeroWord, err
	}
	p2idhRoot, err := lib.Register(p2idh, "spend")
	if err != nil {
		return nil, word.ZeroWord, word.ZeroWord, err
	}
	return lib, p2idRoot, p2idhRoot, nil
}

// CompileScript compiles a one-off transaction script and returns the
// component. Convenience over masm.Compile for call sites that only need the
// component.
func CompileScript(source string) (*vm.Component, error) {
	return masm.Compile(source, 0)
}
