package domain

import (
	"context"
	"time"
)

// PredictionCache provides short-lived caching of ensemble prediction service
// output so racing solver workers do not hammer the ML engine for the same
// (asset, timeframe) pair.
type PredictionCache interface {
	Set(ctx context.Context, p EnsemblePrediction, ttl time.Duration) error
	Get(ctx context.Context, asset string, tf Timeframe) (EnsemblePrediction, error)
}

// LockManager provides distributed locking. Solver workers take a per-request
// lock before computing a prediction so only one instance spends proving time
// on a given request; the ledger itself never relies on these locks for
// correctness.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus carries request lifecycle events between the ledger and
// interested consumers (solver workers, the WebSocket hub).
type SignalBus interface {
	PublishRequestEvent(ctx context.Context, ev RequestEvent) error
	// SubscribeRequestEvents returns a channel of events plus a stop function.
	// The channel closes when ctx is cancelled or stop is called.
	SubscribeRequestEvents(ctx context.Context) (<-chan RequestEvent, func(), error)
}

// RateLimiter enforces request-rate limits keyed by an arbitrary string,
// typically a client IP.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the limit,
	// counting the request when it is.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
