// encrypt.go - Private-note delivery: DH key agreement plus MiMC masking.
//
// A private note travels off-chain. The sender and recipient agree a shared
// BLS12-377 point via Diffie-Hellman, derive a MiMC keystream from it, and
// mask the note's wire encoding with that stream. The recipient recognizes a
// note as theirs by unmasking and checking the result against the id that was
// published on-chain.

package note

import (
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// DHKeyPair is a BLS12-377 keypair for note-delivery key agreement.
type DHKeyPair struct {
	Sk *bls12377_fr.Element
	Pk *bls12377.G1Affine
}

// GenerateDHKeyPair generates a random BLS12-377 keypair.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	var sk bls12377_fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, err
	}
	g1Jac, _, _, _ := bls12377.Generators()
	var pk bls12377.G1Affine
	pk.FromJacobian(&g1Jac)
	pk.ScalarMultiplication(&pk, sk.BigInt(new(big.Int)))
	return &DHKeyPair{Sk: &sk, Pk: &pk}, nil
}

// ComputeDHShared computes the shared point given our secret and their public key.
func ComputeDHShared(sk *bls12377_fr.Element, pk *bls12377.G1Affine) *bls12377.G1Affine {
	var shared bls12377.G1Affine
	shared.ScalarMultiplication(pk, sk.BigInt(new(big.Int)))
	return &shared
}

// maskStream derives n keystream bytes from the shared point by chaining MiMC.
func maskStream(shared *bls12377.G1Affine, n int) []byte {
	h := mimcNative.NewMiMC()
	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	h.Write(x[:])
	h.Write(y[:])
	block := h.Sum(nil)

	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, block...)
		h.Write(block)
		block = h.Sum(nil)
	}
	return out[:n]
}

// Encrypt masks the note's wire encoding with the shared-key stream.
func Encrypt(n *Note, shared *bls12377.G1Affine) ([]byte, error) {
	plain, err := Encode(n)
	if err != nil {
		return nil, err
	}
	mask := maskStream(shared, len(plain))
	out := make([]byte, len(plain))
	for i := range plain {
		out[i] = plain[i] ^ mask[i]
	}
	return out, nil
}

// Decrypt unmasks a ciphertext produced by Encrypt.
func Decrypt(enc []byte, shared *bls12377.G1Affine) (*Note, error) {
	mask := maskStream(shared, len(enc))
	plain := make([]byte, len(enc))
	for i := range enc {
		plain[i] = enc[i] ^ mask[i]
	}
	return Decode(plain)
}

// Recognize attempts to decrypt a note and checks it against the published
// header id. Returns (false, nil, nil) when the note is simply not ours.
func Recognize(enc []byte, shared *bls12377.G1Affine, header Header) (bool, *Note, error) {
	n, err := Decrypt(enc, shared)
	if err != nil {
		// A failed parse means the keystream didn't match, i.e. not our note.
		return false, nil, nil
	}
	if n.ID() != header.ID {
		return false, nil, nil
	}
	return true, n, nil
}
