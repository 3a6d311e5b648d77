package zkp

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/apollonlabs/zkoracle/internal/circuit"
	"github.com/apollonlabs/zkoracle/internal/domain"
)

// Verifier is the proof-checking gate: a pure check of a wire proof against
// the process-wide verifying key and the claimed public inputs. It holds no
// mutable state and is safe for concurrent use.
type Verifier struct {
	vk groth16.VerifyingKey
}

// NewVerifier wraps an already-loaded verifying key.
func NewVerifier(vk groth16.VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// LoadVerifier reads the verifying key from the key directory. The key is
// generated once at circuit setup and treated as immutable configuration.
func LoadVerifier(keyDir string) (*Verifier, error) {
	vk, err := circuit.LoadVerifyingKey(keyDir)
	if err != nil {
		return nil, fmt.Errorf("zkp: load verifying key: %w", err)
	}
	return &Verifier{vk: vk}, nil
}

// Verify checks that po proves the statement "claimedPrice is the ensemble
// price for request requestID". It returns nil on acceptance,
// domain.ErrInvalidProofFormat for a malformed proof or public-signal vector
// (wrong shape, off-curve points), and domain.ErrProofInvalid for a
// well-formed proof that fails the pairing check or attests different public
// inputs than the caller claims.
func (v *Verifier) Verify(po *domain.ProofObject, claimedPrice, requestID uint64) error {
	proof, err := decodeProof(po)
	if err != nil {
		return err
	}

	if len(po.PublicSignals) != domain.PublicSignalCount {
		return fmt.Errorf("%w: expected %d public signals, got %d",
			domain.ErrInvalidProofFormat, domain.PublicSignalCount, len(po.PublicSignals))
	}

	// The declared signals must match what the caller claims; the pairing
	// check below is then run against the claimed values, so a proof
	// generated for a different price or request cannot pass.
	for i, want := range []uint64{claimedPrice, requestID} {
		got, err := parseBig(po.PublicSignals[i])
		if err != nil {
			return fmt.Errorf("%w: public signal %d: %v", domain.ErrInvalidProofFormat, i, err)
		}
		if got.Cmp(new(big.Int).SetUint64(want)) != 0 {
			return fmt.Errorf("%w: public signal %d is %s, claimed %d",
				domain.ErrProofInvalid, i, got, want)
		}
	}

	witness, err := frontend.NewWitness(
		circuit.PublicAssignment(claimedPrice, requestID),
		ecc.BN254.ScalarField(),
		frontend.PublicOnly(),
	)
	if err != nil {
		return fmt.Errorf("zkp: build public witness: %w", err)
	}

	if err := groth16.Verify(proof, v.vk, witness); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProofInvalid, err)
	}
	return nil
}
