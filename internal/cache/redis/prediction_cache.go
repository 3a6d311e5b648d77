package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// PredictionCache implements domain.PredictionCache using Redis string keys
// with a TTL. Each entry is the JSON-encoded ensemble output for one
// (asset, timeframe) pair, keyed "prediction:{asset}:{timeframe}".
type PredictionCache struct {
	rdb *redis.Client
}

// NewPredictionCache creates a PredictionCache backed by the given Client.
func NewPredictionCache(c *Client) *PredictionCache {
	return &PredictionCache{rdb: c.Underlying()}
}

func predictionKey(asset string, tf domain.Timeframe) string {
	return "prediction:" + asset + ":" + string(tf)
}

// Set stores an ensemble prediction with the given TTL. The TTL bounds how
// stale a cached prediction a solver may reuse; expired entries simply miss.
func (pc *PredictionCache) Set(ctx context.Context, p domain.EnsemblePrediction, ttl time.Duration) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode prediction %s/%s: %w", p.Asset, p.Timeframe, err)
	}
	key := predictionKey(p.Asset, p.Timeframe)
	if err := pc.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set prediction %s: %w", key, err)
	}
	return nil
}

// Get retrieves a cached ensemble prediction. It returns domain.ErrNotFound
// when the key does not exist or has expired.
func (pc *PredictionCache) Get(ctx context.Context, asset string, tf domain.Timeframe) (domain.EnsemblePrediction, error) {
	key := predictionKey(asset, tf)
	payload, err := pc.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.EnsemblePrediction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EnsemblePrediction{}, fmt.Errorf("redis: get prediction %s: %w", key, err)
	}

	var p domain.EnsemblePrediction
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.EnsemblePrediction{}, fmt.Errorf("redis: decode prediction %s: %w", key, err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PredictionCache = (*PredictionCache)(nil)
