// circuit.go - The ZK circuit binding a proof to an executed transaction.
//
// The circuit proves knowledge of the witness limbs behind a public MiMC
// binding digest. The binding digest commits to the transaction witness
// (target account, observed nonce, consumed ids, created note commitments,
// account delta), so a proof cannot be replayed against a different
// transaction.

package prover

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// NumWitnessLimbs is the fixed limb count of the circuit witness.
const NumWitnessLimbs = 8

// TxCircuit proves knowledge of the witness limbs behind Binding.
type TxCircuit struct {
	// ====== PUBLIC VARIABLES ======
	Binding frontend.Variable `gnark:",public"` // MiMC digest of the limbs

	// ====== PRIVATE VARIABLES ======
	Limbs [NumWitnessLimbs]frontend.Variable
}

// Define implements the binding constraint: MiMC(limbs) == Binding.
func (c *TxCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	for i := 0; i < NumWitnessLimbs; i++ {
		hasher.Write(c.Limbs[i])
	}
	api.AssertIsEqual(c.Binding, hasher.Sum())
	return nil
}
