package mlengine

import (
	"time"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// predictionResponse is the wire shape of the prediction engine's
// /v1/predict endpoint.
type predictionResponse struct {
	Asset         string  `json:"asset"`
	Timeframe     string  `json:"timeframe"`
	Predictions   outputs `json:"predictions"`
	Weights       outputs `json:"weights"`
	WeightedPrice float64 `json:"weighted_price"`
	GeneratedAt   int64   `json:"generated_at"` // unix seconds
}

// outputs carries one float per ensemble sub-model.
type outputs struct {
	LSTM    float64 `json:"lstm"`
	GRU     float64 `json:"gru"`
	Prophet float64 `json:"prophet"`
	XGBoost float64 `json:"xgboost"`
}

// healthResponse is the wire shape of the engine's /v1/health endpoint.
type healthResponse struct {
	Status string   `json:"status"`
	Models []string `json:"models"`
}

// toDomain converts a wire prediction into the domain representation.
func (r predictionResponse) toDomain() domain.EnsemblePrediction {
	return domain.EnsemblePrediction{
		Asset:     r.Asset,
		Timeframe: domain.Timeframe(r.Timeframe),
		PerModel: domain.ModelOutputs{
			LSTM:    r.Predictions.LSTM,
			GRU:     r.Predictions.GRU,
			Prophet: r.Predictions.Prophet,
			XGBoost: r.Predictions.XGBoost,
		},
		Weights: domain.ModelOutputs{
			LSTM:    r.Weights.LSTM,
			GRU:     r.Weights.GRU,
			Prophet: r.Weights.Prophet,
			XGBoost: r.Weights.XGBoost,
		},
		WeightedPrice: r.WeightedPrice,
		GeneratedAt:   time.Unix(r.GeneratedAt, 0).UTC(),
	}
}

// errorResponse is the engine's error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
