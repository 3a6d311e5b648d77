package circuit

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// referenceInputs is the worked ensemble example used throughout the tests:
// weighted_sum = 186234*350 + 184567*250 + 185123*250 + 185804*150
//
//	= 185475000, quotient 185475, remainder 0.
var referenceInputs = domain.CircuitInputs{
	Predictions: [4]uint64{186234, 184567, 185123, 185804},
	Weights:     [4]uint64{350, 250, 250, 150},
}

func TestNewAssignmentComputesFloorDivision(t *testing.T) {
	in := domain.CircuitInputs{
		Predictions: [4]uint64{1001, 1001, 1001, 1001},
		Weights:     [4]uint64{250, 250, 250, 250},
	}
	// weighted_sum = 1001*1000 = 1001000 -> quotient 1001, remainder 0.
	a, price, err := NewAssignment(in, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(1001), price)
	require.Equal(t, a.Quotient, uint64(1001))

	in.Predictions[0] = 1002 // weighted_sum = 1001250 -> floor 1001, rem 250
	a, price, err = NewAssignment(in, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(1001), price)
	require.Equal(t, a.Remainder, uint64(250))
}

func TestNewAssignmentRejectsBadWeightSum(t *testing.T) {
	in := referenceInputs
	in.Weights[3] = 151
	_, _, err := NewAssignment(in, 1)
	require.Error(t, err)
}

func TestCircuitAcceptsValidWitness(t *testing.T) {
	assignment, price, err := NewAssignment(referenceInputs, 42)
	require.NoError(t, err)
	require.Equal(t, uint64(185475), price)

	assert := test.NewAssert(t)
	assert.ProverSucceeded(&EnsembleCircuit{}, assignment,
		test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestCircuitRejectsOffByOnePrice(t *testing.T) {
	assignment, price, err := NewAssignment(referenceInputs, 42)
	require.NoError(t, err)

	assignment.PredictedPrice = price + 1

	assert := test.NewAssert(t)
	assert.ProverFailed(&EnsembleCircuit{}, assignment,
		test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestCircuitRejectsWeightSumViolation(t *testing.T) {
	assignment, _, err := NewAssignment(referenceInputs, 42)
	require.NoError(t, err)

	// Shift one weight so the sum is 1001; the weight-sum constraint must
	// fail proof generation even though the claimed price is recomputed to
	// match the shifted weights.
	assignment.WeightXGBoost = uint64(151)
	in := referenceInputs
	in.Weights[3] = 151
	sum := in.WeightedSum()
	assignment.Quotient = sum / WeightScale
	assignment.Remainder = sum % WeightScale
	assignment.PredictedPrice = sum / WeightScale

	assert := test.NewAssert(t)
	assert.ProverFailed(&EnsembleCircuit{}, assignment,
		test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestCircuitRejectsOutOfRangeRemainder(t *testing.T) {
	// weighted_sum = 185475000 also satisfies the linear equation as
	// quotient 185473, remainder 2000; without the range check this witness
	// would prove a lower price. The circuit must reject it.
	assignment, _, err := NewAssignment(referenceInputs, 42)
	require.NoError(t, err)

	assignment.Quotient = uint64(185473)
	assignment.Remainder = uint64(2000)
	assignment.PredictedPrice = uint64(185473)

	assert := test.NewAssert(t)
	assert.ProverFailed(&EnsembleCircuit{}, assignment,
		test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestCircuitRejectsRemainderAtScale(t *testing.T) {
	// Remainder exactly WeightScale with quotient reduced by one keeps the
	// linear equation intact; only the comparator rules it out.
	in := domain.CircuitInputs{
		Predictions: [4]uint64{2000, 2000, 2000, 2000},
		Weights:     [4]uint64{250, 250, 250, 250},
	}
	assignment, price, err := NewAssignment(in, 9)
	require.NoError(t, err)

	assignment.Quotient = price - 1
	assignment.Remainder = uint64(WeightScale)
	assignment.PredictedPrice = price - 1

	assert := test.NewAssert(t)
	assert.ProverFailed(&EnsembleCircuit{}, assignment,
		test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}
