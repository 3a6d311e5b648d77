// Package ledger implements the prediction request ledger: the Pending ->
// Fulfilled/Cancelled state machine, deposit escrow, the trusted-solver
// capability set, and the fulfillment gate that decides whether an answer
// needs a zero-knowledge proof before it is accepted.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// ProofVerifier is the verifier gate the fulfillment path routes through. It
// is pure: accept (nil), domain.ErrInvalidProofFormat, or
// domain.ErrProofInvalid, with no side effects.
type ProofVerifier interface {
	Verify(po *domain.ProofObject, claimedPrice, requestID uint64) error
}

// Alerter receives operational alerts, e.g. a solver repeatedly submitting
// cryptographically false proofs.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the ledger's deploy-time parameters. They are set once at
// startup and never mutated.
type Config struct {
	// Owner is the administrator account; only it may mutate the
	// trusted-solver set.
	Owner common.Address

	// MinDeposit is the smallest deposit accepted on create_request.
	MinDeposit *big.Int

	// RequestTimeout is how long a request stays fulfillable after creation.
	RequestTimeout time.Duration

	// ProofFailureAlertThreshold is how many consecutive ErrProofInvalid
	// rejections from one solver trigger an operator alert. Zero disables
	// alerting.
	ProofFailureAlertThreshold int
}

// Ledger is the request ledger service. All state transitions go through the
// backing RequestStore, whose compare-and-swap semantics provide the
// serialization guarantee: two concurrent fulfillments for the same request
// cannot both succeed.
type Ledger struct {
	cfg      Config
	requests domain.RequestStore
	solvers  domain.SolverStore
	balances domain.BalanceStore
	verifier ProofVerifier
	bus      domain.SignalBus // optional
	alerter  Alerter          // optional
	logger   *slog.Logger

	now func() time.Time

	mu            sync.Mutex
	proofFailures map[common.Address]int
}

// New creates a Ledger. bus and alerter may be nil.
func New(
	cfg Config,
	requests domain.RequestStore,
	solvers domain.SolverStore,
	balances domain.BalanceStore,
	verifier ProofVerifier,
	bus domain.SignalBus,
	alerter Alerter,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		cfg:           cfg,
		requests:      requests,
		solvers:       solvers,
		balances:      balances,
		verifier:      verifier,
		bus:           bus,
		alerter:       alerter,
		logger:        logger.With(slog.String("component", "ledger")),
		now:           time.Now,
		proofFailures: make(map[common.Address]int),
	}
}

// Params returns the ledger's deploy-time parameters. The returned Config is
// a copy with its own MinDeposit.
func (l *Ledger) Params() Config {
	out := l.cfg
	if l.cfg.MinDeposit != nil {
		out.MinDeposit = new(big.Int).Set(l.cfg.MinDeposit)
	}
	return out
}

// CreateRequest registers a Pending prediction request, escrowing deposit
// from the requester's balance. It returns the stored request with its
// assigned id.
func (l *Ledger) CreateRequest(
	ctx context.Context,
	requester common.Address,
	asset string,
	tf domain.Timeframe,
	deposit *big.Int,
	zkRequired bool,
) (domain.PredictionRequest, error) {
	if asset == "" {
		return domain.PredictionRequest{}, fmt.Errorf("ledger: asset must not be empty")
	}
	if !tf.Valid() {
		return domain.PredictionRequest{}, fmt.Errorf("ledger: unsupported timeframe %q", tf)
	}
	if deposit == nil || deposit.Cmp(l.cfg.MinDeposit) < 0 {
		return domain.PredictionRequest{}, fmt.Errorf("%w: minimum is %s", domain.ErrInsufficientDeposit, l.cfg.MinDeposit)
	}

	now := l.now().UTC()
	req := domain.PredictionRequest{
		Requester:  requester,
		Asset:      asset,
		Timeframe:  tf,
		Deposit:    new(big.Int).Set(deposit),
		ZKRequired: zkRequired,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(l.cfg.RequestTimeout),
	}

	if err := l.requests.Create(ctx, &req); err != nil {
		return domain.PredictionRequest{}, fmt.Errorf("ledger: create request: %w", err)
	}

	l.logger.InfoContext(ctx, "request created",
		slog.Uint64("request_id", req.ID),
		slog.String("requester", requester.Hex()),
		slog.String("asset", asset),
		slog.String("timeframe", string(tf)),
		slog.Bool("zk_required", zkRequired),
	)

	l.publish(ctx, domain.RequestEvent{
		Type:      domain.EventRequestCreated,
		RequestID: req.ID,
		Asset:     req.Asset,
		Timeframe: req.Timeframe,
		At:        now,
	})

	return req, nil
}

// CancelRequest transitions a Pending request to Cancelled and refunds the
// deposit to the requester. Only the original requester may cancel.
func (l *Ledger) CancelRequest(ctx context.Context, id uint64, caller common.Address) error {
	req, err := l.requests.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: cancel request %d: %w", id, err)
	}
	if req.Requester != caller {
		return domain.ErrNotRequester
	}
	if req.Status.Terminal() {
		return domain.ErrAlreadyFinalized
	}

	// The store re-checks Pending under its own serialization; a concurrent
	// fulfillment winning the race surfaces here as ErrAlreadyFinalized.
	if err := l.requests.Cancel(ctx, id); err != nil {
		return fmt.Errorf("ledger: cancel request %d: %w", id, err)
	}

	l.logger.InfoContext(ctx, "request cancelled",
		slog.Uint64("request_id", id),
		slog.String("requester", caller.Hex()),
	)

	l.publish(ctx, domain.RequestEvent{
		Type:      domain.EventRequestCancelled,
		RequestID: id,
		Asset:     req.Asset,
		Timeframe: req.Timeframe,
		At:        l.now().UTC(),
	})

	return nil
}

// GetRequest returns a request by id, terminal entries included.
func (l *Ledger) GetRequest(ctx context.Context, id uint64) (domain.PredictionRequest, error) {
	req, err := l.requests.Get(ctx, id)
	if err != nil {
		return domain.PredictionRequest{}, fmt.Errorf("ledger: get request %d: %w", id, err)
	}
	return req, nil
}

// ListPending returns Pending requests in creation order. The offset is
// restartable, not a live cursor: entries may leave the pending view between
// calls but are never reordered.
func (l *Ledger) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	reqs, err := l.requests.ListPending(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	return reqs, nil
}

// ListByRequester returns a requester's requests in creation order.
func (l *Ledger) ListByRequester(ctx context.Context, requester common.Address, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	reqs, err := l.requests.ListByRequester(ctx, requester, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by requester: %w", err)
	}
	return reqs, nil
}

// CountPending returns the number of Pending requests.
func (l *Ledger) CountPending(ctx context.Context) (int64, error) {
	n, err := l.requests.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: count pending: %w", err)
	}
	return n, nil
}

// Balance returns the ledger-held balance of an account.
func (l *Ledger) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := l.balances.Balance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance of %s: %w", account.Hex(), err)
	}
	return bal, nil
}

// Deposit credits an account's ledger balance, the funding step before
// create_request can escrow from it.
func (l *Ledger) Deposit(ctx context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: deposit amount must be positive")
	}
	if err := l.balances.Credit(ctx, account, amount); err != nil {
		return fmt.Errorf("ledger: deposit to %s: %w", account.Hex(), err)
	}
	return nil
}

// AddTrustedSolver adds an identity to the trusted-solver set. Owner only.
func (l *Ledger) AddTrustedSolver(ctx context.Context, caller common.Address, solver domain.TrustedSolver) error {
	if caller != l.cfg.Owner {
		return domain.ErrUnauthorized
	}
	solver.AddedAt = l.now().UTC()
	if err := l.solvers.Add(ctx, solver); err != nil {
		return fmt.Errorf("ledger: add trusted solver: %w", err)
	}
	l.logger.InfoContext(ctx, "trusted solver added",
		slog.String("solver", solver.Account.Hex()),
		slog.String("label", solver.Label),
	)
	return nil
}

// RemoveTrustedSolver removes an identity from the trusted-solver set. Owner
// only.
func (l *Ledger) RemoveTrustedSolver(ctx context.Context, caller, solver common.Address) error {
	if caller != l.cfg.Owner {
		return domain.ErrUnauthorized
	}
	if err := l.solvers.Remove(ctx, solver); err != nil {
		return fmt.Errorf("ledger: remove trusted solver: %w", err)
	}
	l.logger.InfoContext(ctx, "trusted solver removed", slog.String("solver", solver.Hex()))
	return nil
}

// ListTrustedSolvers returns the trusted-solver set.
func (l *Ledger) ListTrustedSolvers(ctx context.Context) ([]domain.TrustedSolver, error) {
	solvers, err := l.solvers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list trusted solvers: %w", err)
	}
	return solvers, nil
}

func (l *Ledger) publish(ctx context.Context, ev domain.RequestEvent) {
	if l.bus == nil {
		return
	}
	if err := l.bus.PublishRequestEvent(ctx, ev); err != nil {
		l.logger.WarnContext(ctx, "publish request event failed",
			slog.String("type", string(ev.Type)),
			slog.Uint64("request_id", ev.RequestID),
			slog.String("error", err.Error()),
		)
	}
}
