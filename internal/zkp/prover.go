package zkp

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/apollonlabs/zkoracle/internal/circuit"
	"github.com/apollonlabs/zkoracle/internal/domain"
)

// Prover produces Groth16 proofs for the ensemble circuit. It is used by the
// off-ledger solver, never by the ledger itself; proving is CPU-bound and a
// single Prove call takes orders of magnitude longer than verification.
type Prover struct {
	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
}

// LoadProver reads the compiled constraint system and proving key from the
// key directory produced by circuit setup.
func LoadProver(keyDir string) (*Prover, error) {
	cs, err := circuit.LoadConstraintSystem(keyDir)
	if err != nil {
		return nil, fmt.Errorf("zkp: load constraint system: %w", err)
	}
	pk, err := circuit.LoadProvingKey(keyDir)
	if err != nil {
		return nil, fmt.Errorf("zkp: load proving key: %w", err)
	}
	return &Prover{cs: cs, pk: pk}, nil
}

// NewProver wraps an already-compiled constraint system and proving key.
func NewProver(cs constraint.ConstraintSystem, pk groth16.ProvingKey) *Prover {
	return &Prover{cs: cs, pk: pk}
}

// Prove generates a proof that the floor-divided weighted sum of in equals
// the returned price, bound to requestID. The sub-model predictions and
// weights in the witness are never recoverable from the returned object.
func (p *Prover) Prove(in domain.CircuitInputs, requestID uint64) (*domain.ProofObject, uint64, error) {
	assignment, price, err := circuit.NewAssignment(in, requestID)
	if err != nil {
		return nil, 0, fmt.Errorf("zkp: build assignment: %w", err)
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, 0, fmt.Errorf("zkp: build witness: %w", err)
	}

	proof, err := groth16.Prove(p.cs, p.pk, witness)
	if err != nil {
		return nil, 0, fmt.Errorf("zkp: prove: %w", err)
	}

	bn254Proof, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return nil, 0, fmt.Errorf("zkp: unexpected proof type %T", proof)
	}

	return encodeProof(bn254Proof, price, requestID), price, nil
}
