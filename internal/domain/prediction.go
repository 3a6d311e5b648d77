package domain

import (
	"fmt"
	"math"
	"time"
)

// WeightScale is the fixed-point scale for ensemble weights and prices. The
// four model weights always sum to exactly WeightScale (three decimal
// fixed-point representing weights that sum to 1.0), and prices are carried
// as integers scaled by the same factor.
const WeightScale = 1000

// ModelOutputs holds one value per sub-model of the ensemble.
type ModelOutputs struct {
	LSTM    float64 `json:"lstm"`
	GRU     float64 `json:"gru"`
	Prophet float64 `json:"prophet"`
	XGBoost float64 `json:"xgboost"`
}

// EnsemblePrediction is the opaque output of the ML prediction service: four
// per-model price predictions, their weights, and the weighted ensemble price.
// How the sub-models are trained is out of scope; the ledger only consumes
// this shape.
type EnsemblePrediction struct {
	Asset         string       `json:"asset"`
	Timeframe     Timeframe    `json:"timeframe"`
	PerModel      ModelOutputs `json:"per_model"`
	Weights       ModelOutputs `json:"weights"`
	WeightedPrice float64      `json:"weighted_price"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

// CircuitInputs are the pre-scaled integers fed to the verification circuit
// as private witness: predictions scaled by WeightScale, weights normalized
// so they sum to exactly WeightScale.
type CircuitInputs struct {
	Predictions [4]uint64 // lstm, gru, prophet, xgboost
	Weights     [4]uint64
}

// WeightedSum returns the scaled weighted sum of the four contributions.
func (in CircuitInputs) WeightedSum() uint64 {
	var sum uint64
	for i := range in.Predictions {
		sum += in.Predictions[i] * in.Weights[i]
	}
	return sum
}

// Price returns the ensemble price the circuit attests to: the floor-divided
// weighted sum.
func (in CircuitInputs) Price() uint64 {
	return in.WeightedSum() / WeightScale
}

// Scale converts the floating-point service output into circuit inputs.
// Weights are rounded to the fixed-point scale and the rounding drift is
// absorbed into the largest weight so the sum lands exactly on WeightScale;
// a drift larger than one scale unit per weight means the service returned
// weights that do not sum to 1.0 and is rejected.
func (p *EnsemblePrediction) Scale() (CircuitInputs, error) {
	preds := [4]float64{p.PerModel.LSTM, p.PerModel.GRU, p.PerModel.Prophet, p.PerModel.XGBoost}
	weights := [4]float64{p.Weights.LSTM, p.Weights.GRU, p.Weights.Prophet, p.Weights.XGBoost}

	var in CircuitInputs
	for i, v := range preds {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return CircuitInputs{}, fmt.Errorf("ensemble prediction %d out of range: %f", i, v)
		}
		in.Predictions[i] = uint64(math.Round(v * WeightScale))
	}

	var sum uint64
	largest := 0
	for i, w := range weights {
		if w < 0 || w > 1 || math.IsNaN(w) {
			return CircuitInputs{}, fmt.Errorf("ensemble weight %d out of range: %f", i, w)
		}
		in.Weights[i] = uint64(math.Round(w * WeightScale))
		sum += in.Weights[i]
		if in.Weights[i] > in.Weights[largest] {
			largest = i
		}
	}

	switch {
	case sum == WeightScale:
	case sum > WeightScale && sum-WeightScale <= 4:
		in.Weights[largest] -= sum - WeightScale
	case sum < WeightScale && WeightScale-sum <= 4:
		in.Weights[largest] += WeightScale - sum
	default:
		return CircuitInputs{}, fmt.Errorf("ensemble weights sum to %d/%d, not a convex combination", sum, WeightScale)
	}

	return in, nil
}
