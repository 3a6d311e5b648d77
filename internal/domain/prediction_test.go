package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScaleExactWeights(t *testing.T) {
	p := EnsemblePrediction{
		PerModel: ModelOutputs{LSTM: 100, GRU: 102, Prophet: 98, XGBoost: 101},
		Weights:  ModelOutputs{LSTM: 0.4, GRU: 0.3, Prophet: 0.2, XGBoost: 0.1},
	}

	in, err := p.Scale()
	require.NoError(t, err)

	require.Equal(t, [4]uint64{100_000, 102_000, 98_000, 101_000}, in.Predictions)
	require.Equal(t, [4]uint64{400, 300, 200, 100}, in.Weights)

	var sum uint64
	for _, w := range in.Weights {
		sum += w
	}
	require.Equal(t, uint64(WeightScale), sum)
}

func TestScaleAbsorbsRoundingDrift(t *testing.T) {
	// Thirds do not land exactly on the fixed-point scale; the drift must be
	// folded into the largest weight so the sum is exact.
	p := EnsemblePrediction{
		PerModel: ModelOutputs{LSTM: 50, GRU: 50, Prophet: 50, XGBoost: 50},
		Weights:  ModelOutputs{LSTM: 1.0 / 3, GRU: 1.0 / 3, Prophet: 1.0 / 3, XGBoost: 0},
	}

	in, err := p.Scale()
	require.NoError(t, err)

	var sum uint64
	for _, w := range in.Weights {
		sum += w
	}
	require.Equal(t, uint64(WeightScale), sum)
}

func TestScaleRejectsBadWeights(t *testing.T) {
	cases := map[string]ModelOutputs{
		"sum far below one": {LSTM: 0.1, GRU: 0.1, Prophet: 0.1, XGBoost: 0.1},
		"weight above one":  {LSTM: 1.5, GRU: 0, Prophet: 0, XGBoost: 0},
		"negative weight":   {LSTM: 0.6, GRU: 0.6, Prophet: -0.2, XGBoost: 0},
	}
	for name, weights := range cases {
		t.Run(name, func(t *testing.T) {
			p := EnsemblePrediction{
				PerModel: ModelOutputs{LSTM: 100, GRU: 100, Prophet: 100, XGBoost: 100},
				Weights:  weights,
			}
			_, err := p.Scale()
			require.Error(t, err)
		})
	}
}

func TestScaleRejectsNegativePrediction(t *testing.T) {
	p := EnsemblePrediction{
		PerModel: ModelOutputs{LSTM: -1, GRU: 100, Prophet: 100, XGBoost: 100},
		Weights:  ModelOutputs{LSTM: 0.25, GRU: 0.25, Prophet: 0.25, XGBoost: 0.25},
	}
	_, err := p.Scale()
	require.Error(t, err)
}

func TestPriceFloorsWeightedSum(t *testing.T) {
	in := CircuitInputs{
		Predictions: [4]uint64{1001, 1001, 1001, 1001},
		Weights:     [4]uint64{333, 333, 333, 1},
	}
	// Weighted sum is 1001*1000 = 1001000; price floors to 1001.
	require.Equal(t, uint64(1001*1000), in.WeightedSum())
	require.Equal(t, uint64(1001), in.Price())

	// A sum not divisible by the scale floors, never rounds.
	in = CircuitInputs{
		Predictions: [4]uint64{999, 0, 0, 0},
		Weights:     [4]uint64{999, 1, 0, 0},
	}
	require.Equal(t, uint64(999*999), in.WeightedSum())
	require.Equal(t, uint64(998), in.Price())
}
