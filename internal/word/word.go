// word.go - Field-element words, the basic unit of storage and note data.
//
// A Word is four 64-bit field elements. Words are what storage slots hold,
// what storage-map keys and values are, and what all commitments digest down to.

package word

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Felt is a single field element. Amounts carried in felts are capped at
// 2^63-1 so that aggregate balances can never wrap.
type Felt = uint64

// Word is a 4-element tuple of felts.
type Word [4]Felt

// ZeroWord is the default value of any unset storage slot or map key.
var ZeroWord = Word{}

// NewWord builds a word from four felts.
func NewWord(a, b, c, d Felt) Word {
	return Word{a, b, c, d}
}

// IsZero reports whether every element of the word is zero.
func (w Word) IsZero() bool {
	return w == ZeroWord
}

// Bytes returns the canonical 32-byte big-endian encoding of the word.
func (w Word) Bytes() []byte {
	out := make([]byte, 32)
	for i, f := range w {
		binary.BigEndian.PutUint64(out[i*8:], f)
	}
	return out
}

// WordFromBytes decodes a word from its canonical 32-byte encoding.
func WordFromBytes(b []byte) (Word, error) {
	if len(b) != 32 {
		return ZeroWord, fmt.Errorf("word must be 32 bytes, got %d", len(b))
	}
	var w Word
	for i := range w {
		w[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return w, nil
}

// Hex returns the word as a hex string.
func (w Word) Hex() string {
	return hex.EncodeToString(w.Bytes())
}

// WordFromHex decodes a word from a hex string.
func WordFromHex(s string) (Word, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroWord, err
	}
	return WordFromBytes(b)
}

// String implements fmt.Stringer.
func (w Word) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", w[0], w[1], w[2], w[3])
}
