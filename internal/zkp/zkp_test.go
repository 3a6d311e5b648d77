package zkp

import (
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/require"

	"github.com/apollonlabs/zkoracle/internal/circuit"
	"github.com/apollonlabs/zkoracle/internal/domain"
)

var (
	setupOnce      sync.Once
	sharedProver   *Prover
	sharedVerifier *Verifier
)

// testKeys runs the Groth16 setup once per test binary; the circuit is small
// but setup is still the slowest step.
func testKeys(t *testing.T) (*Prover, *Verifier) {
	t.Helper()
	setupOnce.Do(func() {
		cs, err := circuit.Compile()
		if err != nil {
			t.Fatalf("compile circuit: %v", err)
		}
		pk, vk, err := groth16.Setup(cs)
		if err != nil {
			t.Fatalf("groth16 setup: %v", err)
		}
		sharedProver = NewProver(cs, pk)
		sharedVerifier = NewVerifier(vk)
	})
	return sharedProver, sharedVerifier
}

var testInputs = domain.CircuitInputs{
	Predictions: [4]uint64{186234, 184567, 185123, 185804},
	Weights:     [4]uint64{350, 250, 250, 150},
}

func TestProveVerifyRoundTrip(t *testing.T) {
	prover, verifier := testKeys(t)

	po, price, err := prover.Prove(testInputs, 11)
	require.NoError(t, err)
	require.Equal(t, uint64(185475), price)
	require.Len(t, po.PublicSignals, domain.PublicSignalCount)

	require.NoError(t, verifier.Verify(po, price, 11))
}

func TestVerifyRejectsWrongPrice(t *testing.T) {
	prover, verifier := testKeys(t)

	po, price, err := prover.Prove(testInputs, 11)
	require.NoError(t, err)

	err = verifier.Verify(po, price+1, 11)
	require.ErrorIs(t, err, domain.ErrProofInvalid)
}

func TestVerifyRejectsReplayAgainstOtherRequest(t *testing.T) {
	prover, verifier := testKeys(t)

	po, price, err := prover.Prove(testInputs, 11)
	require.NoError(t, err)

	// Same price, different request id: the request binding in the public
	// input must make the proof unusable elsewhere.
	err = verifier.Verify(po, price, 12)
	require.ErrorIs(t, err, domain.ErrProofInvalid)
}

func TestVerifyRejectsTamperedProofElement(t *testing.T) {
	prover, verifier := testKeys(t)

	po, price, err := prover.Prove(testInputs, 11)
	require.NoError(t, err)

	tampered := *po
	tampered.PiA, tampered.PiC = po.PiC, po.PiA

	err = verifier.Verify(&tampered, price, 11)
	require.ErrorIs(t, err, domain.ErrProofInvalid)
}

func TestVerifyDistinguishesFormatErrors(t *testing.T) {
	prover, verifier := testKeys(t)

	po, price, err := prover.Prove(testInputs, 11)
	require.NoError(t, err)

	t.Run("nil proof", func(t *testing.T) {
		err := verifier.Verify(nil, price, 11)
		require.ErrorIs(t, err, domain.ErrInvalidProofFormat)
	})

	t.Run("off-curve point", func(t *testing.T) {
		bad := *po
		bad.PiA = [2]string{"1", "1"} // (1,1) does not satisfy y^2 = x^3 + 3
		err := verifier.Verify(&bad, price, 11)
		require.ErrorIs(t, err, domain.ErrInvalidProofFormat)
	})

	t.Run("garbage coordinate", func(t *testing.T) {
		bad := *po
		bad.PiC[0] = "not-a-number"
		err := verifier.Verify(&bad, price, 11)
		require.ErrorIs(t, err, domain.ErrInvalidProofFormat)
	})

	t.Run("wrong signal count", func(t *testing.T) {
		bad := *po
		bad.PublicSignals = bad.PublicSignals[:1]
		err := verifier.Verify(&bad, price, 11)
		require.ErrorIs(t, err, domain.ErrInvalidProofFormat)
	})
}

func TestParseBigAcceptsHexAndDecimal(t *testing.T) {
	dec, err := parseBig("208")
	require.NoError(t, err)

	hex, err := parseBig("0xD0")
	require.NoError(t, err)
	require.Zero(t, dec.Cmp(hex))

	_, err = parseBig("")
	require.Error(t, err)
	_, err = parseBig("-5")
	require.Error(t, err)
}
