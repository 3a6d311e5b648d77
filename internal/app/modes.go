package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apollonlabs/zkoracle/internal/circuit"
	"github.com/apollonlabs/zkoracle/internal/crypto"
	"github.com/apollonlabs/zkoracle/internal/ledger"
	"github.com/apollonlabs/zkoracle/internal/platform/mlengine"
	"github.com/apollonlabs/zkoracle/internal/server"
	"github.com/apollonlabs/zkoracle/internal/server/handler"
	"github.com/apollonlabs/zkoracle/internal/server/ws"
	"github.com/apollonlabs/zkoracle/internal/solver"
	"github.com/apollonlabs/zkoracle/internal/zkp"
)

// KeygenMode compiles the ensemble circuit and writes the proving and
// verifying keys to the configured key directory. It is a one-shot command;
// the process exits when setup completes.
func (a *App) KeygenMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "running trusted setup",
		slog.String("key_dir", a.cfg.ZK.KeyDir),
	)

	start := time.Now()
	if err := circuit.Setup(a.cfg.ZK.KeyDir); err != nil {
		return fmt.Errorf("keygen mode: %w", err)
	}

	a.logger.InfoContext(ctx, "trusted setup complete",
		slog.String("key_dir", a.cfg.ZK.KeyDir),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ServerMode starts the HTTP API, the WebSocket hub, and the request ledger
// they serve. No fulfillment work runs in this mode.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	led, err := a.buildLedger(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, led)
	return g.Wait()
}

// SolverMode starts the fulfillment worker and, when blob storage is wired,
// the archival cron. The worker shares the ledger's stores directly rather
// than going through the HTTP API.
func (a *App) SolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting solver mode")

	led, err := a.buildLedger(deps)
	if err != nil {
		return fmt.Errorf("solver mode: %w", err)
	}

	orch, err := a.buildSolverOrchestrator(deps, led)
	if err != nil {
		return fmt.Errorf("solver mode: %w", err)
	}

	return orch.Run(ctx)
}

// FullMode starts every subsystem: the ledger, the HTTP API and WebSocket
// hub, the fulfillment worker, and the archival cron.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	led, err := a.buildLedger(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	orch, err := a.buildSolverOrchestrator(deps, led)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g.Go(func() error {
		err := orch.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, led)
	}

	return g.Wait()
}

// buildLedger loads the verifying key and constructs the request ledger over
// the wired stores. The verifier is mandatory: without it the fulfillment
// gate cannot admit proof-carrying submissions.
func (a *App) buildLedger(deps *Dependencies) (*ledger.Ledger, error) {
	verifier, err := zkp.LoadVerifier(a.cfg.ZK.KeyDir)
	if err != nil {
		return nil, fmt.Errorf("load verifying key from %s (run keygen mode first): %w", a.cfg.ZK.KeyDir, err)
	}

	return ledger.New(
		ledger.Config{
			Owner:                      a.cfg.Ledger.OwnerAddress(),
			MinDeposit:                 a.cfg.Ledger.MinDepositInt(),
			RequestTimeout:             a.cfg.Ledger.RequestTimeout.Duration,
			ProofFailureAlertThreshold: a.cfg.Ledger.ProofFailureAlertThreshold,
		},
		deps.RequestStore,
		deps.SolverStore,
		deps.BalanceStore,
		verifier,
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	), nil
}

// buildSolverOrchestrator assembles the fulfillment worker (signer identity,
// prediction engine client, prover) and the optional archiver.
func (a *App) buildSolverOrchestrator(deps *Dependencies, led *ledger.Ledger) (*solver.Orchestrator, error) {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Identity.PrivateKey,
		EncryptedKeyPath: a.cfg.Identity.EncryptedKeyPath,
		KeyPassword:      a.cfg.Identity.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load solver key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	var auth *crypto.HMACAuth
	if a.cfg.MLEngine.APIKey != "" {
		auth = &crypto.HMACAuth{
			Key:    a.cfg.MLEngine.APIKey,
			Secret: a.cfg.MLEngine.APISecret,
		}
	}
	engine := mlengine.NewClient(a.cfg.MLEngine.BaseURL, auth)

	prover, err := zkp.LoadProver(a.cfg.ZK.KeyDir)
	if err != nil {
		if a.cfg.Solver.AlwaysProve {
			return nil, fmt.Errorf("load proving key from %s (run keygen mode first): %w", a.cfg.ZK.KeyDir, err)
		}
		// Without a prover the worker can still serve trusted non-zk requests.
		a.logger.Warn("proving key unavailable, zk-required requests will be skipped",
			slog.String("key_dir", a.cfg.ZK.KeyDir),
			slog.String("error", err.Error()),
		)
		prover = nil
	}

	var proofProver solver.ProofProver
	if prover != nil {
		proofProver = prover
	}

	worker := solver.NewWorker(
		solver.Config{
			PollInterval: a.cfg.Solver.PollInterval.Duration,
			LockTTL:      a.cfg.Solver.LockTTL.Duration,
			CacheTTL:     a.cfg.Solver.CacheTTL.Duration,
			AlwaysProve:  a.cfg.Solver.AlwaysProve,
		},
		signer.Address(),
		led,
		engine,
		proofProver,
		deps.PredictionCache,
		deps.LockManager,
		deps.SignalBus,
		a.logger,
	)

	var archiver *solver.Archiver
	if deps.Archiver != nil {
		archiver = solver.NewArchiver(deps.Archiver, a.cfg.Solver.ArchiveRetentionDays, a.logger)
	}

	return solver.NewOrchestrator(worker, archiver, a.cfg.Solver.ArchiveCron, a.logger), nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, led *ledger.Ledger) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	params := led.Params()

	var archiveHandler *handler.ArchiveHandler
	if deps.BlobReader != nil {
		archiveHandler = handler.NewArchiveHandler(deps.BlobReader, deps.BlobDeleter, params.Owner, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:             a.cfg.Server.Port,
			CORSOrigins:      a.cfg.Server.CORSOrigins,
			APIKey:           a.cfg.Server.APIKey,
			SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
			RateLimit:        a.cfg.Server.RateLimit,
			RateLimitWindow:  a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(a.logger),
			Config:   handler.NewConfigHandler(params.Owner, params.MinDeposit, params.RequestTimeout),
			Requests: handler.NewRequestHandler(led, a.logger),
			Solvers:  handler.NewSolverHandler(led, a.logger),
			Balances: handler.NewBalanceHandler(led, a.logger),
			Archive:  archiveHandler,
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
