// hash.go - MiMC-based hashing over words.
//
// Every content-addressed identity in the system (note ids, recipient digests,
// storage-map roots, procedure roots, account ids) is a MiMC digest truncated
// to a word. MiMC keeps the hash cheap to re-verify inside an arithmetic
// circuit, which is what makes executed transactions provable.

package word

import (
	"crypto/rand"
	"encoding/binary"
	stdhash "hash"

	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// HashBytes computes the MiMC digest of raw bytes, truncated to a word.
func HashBytes(data []byte) Word {
	h := mimcNative.NewMiMC()
	writeChunked(h, data)
	return sumToWord(h.Sum(nil))
}

// HashWords computes the MiMC digest of a sequence of words.
func HashWords(words ...Word) Word {
	h := mimcNative.NewMiMC()
	for _, w := range words {
		writeChunked(h, w.Bytes())
	}
	return sumToWord(h.Sum(nil))
}

// HashMerge computes the digest of an ordered pair of words. Used for the
// nested recipient commitment and for folding map roots.
func HashMerge(a, b Word) Word {
	return HashWords(a, b)
}

// HashWithDomain prefixes the digest input with a domain-separation tag so
// that, e.g., a note id can never collide with a procedure root.
func HashWithDomain(domain string, words ...Word) Word {
	h := mimcNative.NewMiMC()
	writeChunked(h, []byte(domain))
	for _, w := range words {
		writeChunked(h, w.Bytes())
	}
	return sumToWord(h.Sum(nil))
}

// writeChunked feeds arbitrary bytes to the MiMC hasher as canonical field
// elements. The hasher rejects any 48-byte block encoding an integer at or
// above the fr modulus, so raw input is split into chunks one byte short of
// the block size and left-padded with a zero byte: a 47-byte chunk is always
// below the 377-bit modulus.
func writeChunked(h stdhash.Hash, data []byte) {
	const chunk = mimcNative.BlockSize - 1
	buf := make([]byte, mimcNative.BlockSize)
	for start := 0; start < len(data); start += chunk {
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		for i := range buf {
			buf[i] = 0
		}
		copy(buf[mimcNative.BlockSize-(end-start):], data[start:end])
		if _, err := h.Write(buf); err != nil {
			panic("word: mimc rejected a sub-modulus block: " + err.Error())
		}
	}
}

// sumToWord folds a MiMC sum into a word. The digest of the bw6-761 scalar
// field is wider than 32 bytes; the low 32 bytes carry full entropy.
func sumToWord(sum []byte) Word {
	var w Word
	tail := sum
	if len(tail) > 32 {
		tail = tail[len(tail)-32:]
	}
	buf := make([]byte, 32)
	copy(buf[32-len(tail):], tail)
	for i := range w {
		w[i] = binary.BigEndian.Uint64(buf[i*8:])
	}
	return w
}

// RandomWord returns a word drawn from crypto/rand. Used for note serial
// numbers and account seeds.
func RandomWord() Word {
	b := make([]byte, 32)
	rand.Read(b)
	var w Word
	for i := range w {
		w[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return w
}
