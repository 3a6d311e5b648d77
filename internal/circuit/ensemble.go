// Package circuit defines the arithmetic verification circuit for ensemble
// price predictions: a fixed set of R1CS constraints over BN254 that a prover
// can satisfy only if a public integer price equals the floor-divided
// weighted sum of four scaled sub-model predictions under weights that sum to
// exactly the fixed-point scale. The per-model predictions and weights stay
// private witness; only the price and the request id binding the proof to one
// ledger entry are public.
package circuit

import (
	"fmt"

	"github.com/consensys/gnark/frontend"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

const (
	// WeightScale pins the ensemble to a normalized convex combination: the
	// four weights must sum to exactly this compile-time constant, never a
	// bounded range.
	WeightScale = domain.WeightScale

	// remainderBits is the comparator width for the remainder range check.
	// The remainder of division by WeightScale is always below 1000, so 10
	// bits suffice.
	remainderBits = 10

	// predictionBits bounds each scaled prediction so four products of
	// prediction and weight stay far from the field modulus.
	predictionBits = 64
)

// EnsembleCircuit proves the claim
//
//	PredictedPrice == floor((Σ prediction_i * weight_i) / WeightScale)
//
// with Σ weight_i == WeightScale. Finite-field circuits have no native
// division gate, so the floor division is encoded with free witness signals
// Quotient and Remainder satisfying
//
//	weighted_sum == Quotient*WeightScale + Remainder,  0 <= Remainder < WeightScale.
//
// The range check on Remainder is load-bearing: the linear equation alone
// admits many (quotient, remainder) solutions, and only the one with the
// remainder in range is the true floor-division result.
type EnsembleCircuit struct {
	// Private witness: scaled sub-model predictions and weights.
	PredLSTM    frontend.Variable
	PredGRU     frontend.Variable
	PredProphet frontend.Variable
	PredXGBoost frontend.Variable

	WeightLSTM    frontend.Variable
	WeightGRU     frontend.Variable
	WeightProphet frontend.Variable
	WeightXGBoost frontend.Variable

	// Free witness signals for the division encoding.
	Quotient  frontend.Variable
	Remainder frontend.Variable

	// Public inputs.
	PredictedPrice frontend.Variable `gnark:",public"`
	RequestID      frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints.
func (c *EnsembleCircuit) Define(api frontend.API) error {
	preds := [4]frontend.Variable{c.PredLSTM, c.PredGRU, c.PredProphet, c.PredXGBoost}
	weights := [4]frontend.Variable{c.WeightLSTM, c.WeightGRU, c.WeightProphet, c.WeightXGBoost}

	// Bound every private signal so products cannot wrap the field. Each
	// weight individually fits the comparator width of the scale; combined
	// with the sum constraint this keeps the combination convex.
	for i := range preds {
		api.ToBinary(preds[i], predictionBits)
		api.AssertIsLessOrEqual(weights[i], WeightScale)
	}

	// Weight-sum constraint: exactly the fixed scale.
	weightSum := api.Add(weights[0], weights[1], weights[2], weights[3])
	api.AssertIsEqual(weightSum, WeightScale)

	// One multiplication constraint per model, then the summation.
	weightedSum := frontend.Variable(0)
	for i := range preds {
		weightedSum = api.Add(weightedSum, api.Mul(preds[i], weights[i]))
	}

	// Division with remainder, plus the remainder range check.
	api.AssertIsEqual(weightedSum, api.Add(api.Mul(c.Quotient, WeightScale), c.Remainder))
	api.ToBinary(c.Remainder, remainderBits)
	api.AssertIsLessOrEqual(c.Remainder, WeightScale-1)

	// Output constraint.
	api.AssertIsEqual(c.PredictedPrice, c.Quotient)

	// RequestID carries no arithmetic constraint. Being public it is folded
	// into the verifier's input commitment, which is what prevents a proof
	// produced for one request from being replayed against another pending
	// request at the same price.
	_ = c.RequestID

	return nil
}

// NewAssignment builds a full witness assignment from scaled inputs and the
// request the proof will be bound to. It returns the assignment together with
// the price the circuit will attest to.
func NewAssignment(in domain.CircuitInputs, requestID uint64) (*EnsembleCircuit, uint64, error) {
	var weightSum uint64
	for _, w := range in.Weights {
		weightSum += w
	}
	if weightSum != WeightScale {
		return nil, 0, fmt.Errorf("circuit: weights sum to %d, want %d", weightSum, WeightScale)
	}

	sum := in.WeightedSum()
	quotient := sum / WeightScale
	remainder := sum % WeightScale

	return &EnsembleCircuit{
		PredLSTM:       in.Predictions[0],
		PredGRU:        in.Predictions[1],
		PredProphet:    in.Predictions[2],
		PredXGBoost:    in.Predictions[3],
		WeightLSTM:     in.Weights[0],
		WeightGRU:      in.Weights[1],
		WeightProphet:  in.Weights[2],
		WeightXGBoost:  in.Weights[3],
		Quotient:       quotient,
		Remainder:      remainder,
		PredictedPrice: quotient,
		RequestID:      requestID,
	}, quotient, nil
}

// PublicAssignment builds a public-only assignment used by the verifier gate
// to bind a claimed price and request id to the proof being checked.
func PublicAssignment(price, requestID uint64) *EnsembleCircuit {
	return &EnsembleCircuit{
		PredictedPrice: price,
		RequestID:      requestID,
	}
}
