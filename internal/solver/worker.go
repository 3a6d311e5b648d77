// Package solver runs the autonomous fulfillment worker: it watches the
// ledger for Pending requests, fetches ensemble predictions, generates
// proofs, and submits fulfillments.
package solver

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// pendingPageSize bounds how many Pending requests one sweep pulls from the
// ledger.
const pendingPageSize = 100

// LedgerAPI is the slice of the ledger the worker needs.
type LedgerAPI interface {
	ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.PredictionRequest, error)
	Fulfill(ctx context.Context, id uint64, solver common.Address, claimedPrice uint64, proof *domain.ProofObject) error
}

// PredictionEngine produces ensemble predictions, typically the mlengine
// REST client.
type PredictionEngine interface {
	Predict(ctx context.Context, asset string, tf domain.Timeframe) (domain.EnsemblePrediction, error)
}

// ProofProver turns circuit inputs into a proof bound to one request. The
// returned price is the public quotient the proof attests to.
type ProofProver interface {
	Prove(in domain.CircuitInputs, requestID uint64) (*domain.ProofObject, uint64, error)
}

// Config holds worker tuning parameters.
type Config struct {
	// PollInterval is how often the worker sweeps the Pending list. The
	// signal bus wakes it earlier when a request is created.
	PollInterval time.Duration

	// LockTTL bounds how long a per-request lock is held. It must exceed the
	// worst-case predict + prove time or another instance may duplicate work
	// (harmlessly; the ledger CAS still admits only one fulfillment).
	LockTTL time.Duration

	// CacheTTL is how long fetched predictions stay reusable.
	CacheTTL time.Duration

	// AlwaysProve forces proof generation even for requests that would accept
	// a trusted submission without one.
	AlwaysProve bool
}

// Worker fulfills Pending requests on behalf of one solver identity.
type Worker struct {
	cfg     Config
	account common.Address
	ledger  LedgerAPI
	engine  PredictionEngine
	prover  ProofProver
	cache   domain.PredictionCache
	locks   domain.LockManager
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewWorker creates a Worker. cache, locks, and bus may be nil in single
// instance deployments; prover may be nil only when AlwaysProve is false, in
// which case the worker can serve only trusted, non-zk requests.
func NewWorker(
	cfg Config,
	account common.Address,
	ledger LedgerAPI,
	engine PredictionEngine,
	prover ProofProver,
	cache domain.PredictionCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	return &Worker{
		cfg:     cfg,
		account: account,
		ledger:  ledger,
		engine:  engine,
		prover:  prover,
		cache:   cache,
		locks:   locks,
		bus:     bus,
		logger:  logger,
	}
}

// Run sweeps the Pending list on a ticker and additionally wakes on
// request.created events from the signal bus. It exits when the context is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("solver: worker starting",
		slog.String("account", w.account.Hex()),
		slog.Duration("poll_interval", w.cfg.PollInterval),
	)

	var events <-chan domain.RequestEvent
	if w.bus != nil {
		ch, stop, err := w.bus.SubscribeRequestEvents(ctx)
		if err != nil {
			// The poll loop alone still makes progress.
			w.logger.Warn("solver: event subscription unavailable, polling only",
				slog.String("error", err.Error()),
			)
		} else {
			defer stop()
			events = ch
		}
	}

	// Sweep immediately on start so a restart doesn't wait a full interval.
	w.sweep(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("solver: worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type == domain.EventRequestCreated {
				w.sweep(ctx)
			}
		}
	}
}

// sweep pulls the current Pending page and attempts each request.
func (w *Worker) sweep(ctx context.Context) {
	pending, err := w.ledger.ListPending(ctx, domain.ListOpts{Limit: pendingPageSize})
	if err != nil {
		w.logger.Error("solver: list pending failed", slog.String("error", err.Error()))
		return
	}

	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		w.attempt(ctx, &pending[i])
	}
}

// attempt tries to fulfill a single request end to end. All failure modes
// log and return; the next sweep retries anything still Pending.
func (w *Worker) attempt(ctx context.Context, req *domain.PredictionRequest) {
	log := w.logger.With(
		slog.Uint64("request_id", req.ID),
		slog.String("asset", req.Asset),
		slog.String("timeframe", string(req.Timeframe)),
	)

	// The ledger forbids self-fulfillment; skip early instead of burning a
	// proving round on a guaranteed rejection.
	if req.Requester == w.account {
		return
	}
	if req.Expired(time.Now().UTC()) {
		return
	}

	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, requestLockKey(req.ID), w.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return // another instance is on it
		}
		if err != nil {
			log.Warn("solver: lock acquire failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	pred, err := w.prediction(ctx, req.Asset, req.Timeframe)
	if err != nil {
		log.Error("solver: prediction failed", slog.String("error", err.Error()))
		return
	}

	inputs, err := pred.Scale()
	if err != nil {
		log.Error("solver: scaling prediction failed", slog.String("error", err.Error()))
		return
	}

	var (
		proof *domain.ProofObject
		price uint64
	)
	if req.ZKRequired || w.cfg.AlwaysProve {
		if w.prover == nil {
			log.Warn("solver: request needs a proof but no prover is configured")
			return
		}
		start := time.Now()
		proof, price, err = w.prover.Prove(inputs, req.ID)
		if err != nil {
			log.Error("solver: proving failed", slog.String("error", err.Error()))
			return
		}
		log.Info("solver: proof generated",
			slog.Uint64("price", price),
			slog.Duration("prove_time", time.Since(start)),
		)
	} else {
		price = inputs.Price()
	}

	err = w.ledger.Fulfill(ctx, req.ID, w.account, price, proof)
	switch {
	case err == nil:
		log.Info("solver: request fulfilled", slog.Uint64("price", price))
	case errors.Is(err, domain.ErrAlreadyFinalized):
		// Lost the race to another solver; nothing to do.
	case errors.Is(err, domain.ErrRequestExpired):
		// Expired between sweep and submission.
	default:
		log.Error("solver: fulfill failed", slog.String("error", err.Error()))
	}
}

// prediction returns a cached ensemble prediction or fetches a fresh one.
func (w *Worker) prediction(ctx context.Context, asset string, tf domain.Timeframe) (domain.EnsemblePrediction, error) {
	if w.cache != nil {
		if pred, err := w.cache.Get(ctx, asset, tf); err == nil {
			return pred, nil
		}
	}

	pred, err := w.engine.Predict(ctx, asset, tf)
	if err != nil {
		return domain.EnsemblePrediction{}, err
	}

	if w.cache != nil {
		if err := w.cache.Set(ctx, pred, w.cfg.CacheTTL); err != nil {
			w.logger.Warn("solver: prediction cache set failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return pred, nil
}

func requestLockKey(id uint64) string {
	return "solver:request:" + strconv.FormatUint(id, 10)
}
