// prover.go - Witness construction and local proof generation.
//
// Re-proving the same witness is deterministic in outcome: the proof bytes
// differ (Groth16 is randomized) but verification against the same binding
// digest always succeeds, so a proving retry is always safe.

package prover

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	bw6761fr "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"notevm/internal/errkind"
	"notevm/internal/tx"
)

// Witness is the fixed-limb encoding of an executed transaction that the
// circuit binds to.
type Witness struct {
	Limbs [NumWitnessLimbs]uint64
}

// WitnessFromExecuted encodes an executed transaction into circuit limbs.
func WitnessFromExecuted(et *tx.ExecutedTransaction) *Witness {
	wc := et.WitnessCommitment()
	var w Witness
	w.Limbs[0], w.Limbs[1], w.Limbs[2], w.Limbs[3] = wc[0], wc[1], wc[2], wc[3]
	w.Limbs[4] = et.ObservedNonce
	w.Limbs[5] = uint64(len(et.ConsumedNotes))
	w.Limbs[6] = uint64(len(et.CreatedNotes))
	w.Limbs[7] = 0
	return &w
}

// Binding computes the public binding digest of the witness: MiMC over the
// limbs, each encoded as one bw6-761 scalar-field element so the native
// digest matches the in-circuit one block for block.
func (w *Witness) Binding() *big.Int {
	h := mimcNative.NewMiMC()
	for _, l := range w.Limbs {
		var e bw6761fr.Element
		e.SetUint64(l)
		b := e.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Proof is an opaque Groth16 proof plus the binding digest it verifies against.
type Proof struct {
	Bytes   []byte `json:"bytes"`
	Binding string `json:"binding"` // decimal binding digest
}

// Prover generates proofs over executed-transaction witnesses.
type Prover interface {
	Prove(ctx context.Context, w *Witness) (*Proof, error)
}

// LocalProver proves on this machine. Slower than delegating but the witness
// never leaves the process.
type LocalProver struct {
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey
	logger zerolog.Logger
}

// NewLocalProver compiles the circuit and generates or loads Groth16 keys
// from keyDir.
func NewLocalProver(keyDir string, logger zerolog.Logger) (*LocalProver, error) {
	var circuit TxCircuit
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, errkind.Wrap(errkind.Proving, "prover.NewLocalProver", err)
	}
	pk, vk, err := SetupOrLoadKeys(ccs, keyDir+"/proving.key", keyDir+"/verifying.key")
	if err != nil {
		return nil, errkind.Wrap(errkind.Proving, "prover.NewLocalProver", err)
	}
	return &LocalProver{ccs: ccs, pk: pk, vk: vk, logger: logger}, nil
}

// Prove generates a proof for the witness.
func (p *LocalProver) Prove(ctx context.Context, w *Witness) (*Proof, error) {
	const op = "prover.LocalProver.Prove"
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Proving, op, err)
	}
	binding := w.Binding()
	assignment := &TxCircuit{Binding: binding.String()}
	for i, l := range w.Limbs {
		assignment.Limbs[i] = new(big.Int).SetUint64(l)
	}
	fw, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, errkind.Wrap(errkind.Proving, op, fmt.Errorf("witness creation: %w", err))
	}
	proof, err := groth16.Prove(p.ccs, p.pk, fw)
	if err != nil {
		return nil, errkind.Wrap(errkind.Proving, op, fmt.Errorf("proof generation: %w", err))
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errkind.Wrap(errkind.Proving, op, fmt.Errorf("proof marshaling: %w", err))
	}
	p.logger.Debug().Str("binding", binding.String()).Msg("proof generated")
	return &Proof{Bytes: buf.Bytes(), Binding: binding.String()}, nil
}

// VerifyingKey exposes the verifying key for the settlement layer.
func (p *LocalProver) VerifyingKey() groth16.VerifyingKey { return p.vk }

// Verify checks a proof against the binding digest of a witness.
func Verify(proof *Proof, w *Witness, vk groth16.VerifyingKey) error {
	const op = "prover.Verify"
	binding := w.Binding()
	if proof.Binding != binding.String() {
		return errkind.New(errkind.Proving, op,
			"proof binds to a different witness")
	}
	public := &TxCircuit{Binding: binding.String()}
	fw, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errkind.Wrap(errkind.Proving, op, err)
	}
	g16 := groth16.NewProof(ecc.BW6_761)
	if _, err := g16.ReadFrom(bytes.NewReader(proof.Bytes)); err != nil {
		return errkind.Wrap(errkind.Proving, op, fmt.Errorf("proof unmarshaling: %w", err))
	}
	if err := groth16.Verify(g16, vk, fw); err != nil {
		return errkind.Wrap(errkind.Proving, op, fmt.Errorf("proof verification: %w", err))
	}
	return nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If keys exist on disk, loads them; otherwise, generates and saves new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
