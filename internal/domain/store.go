package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries. Ordering is always creation
// order (ascending request id), so an offset restarts a listing without
// reordering even as entries leave the pending view.
type ListOpts struct {
	Limit  int
	Offset int
}

// RequestStore persists the prediction request ledger. Implementations must
// make Fulfill and Cancel atomic compare-and-swap transitions on status: of
// two concurrent finalizations for the same id, exactly one succeeds and the
// other observes ErrAlreadyFinalized. The escrow movement (deposit release or
// refund) happens in the same transaction as the status flip.
type RequestStore interface {
	// Create inserts a Pending request, debits the requester's balance by the
	// deposit into escrow, and assigns the next sequential id on req.
	Create(ctx context.Context, req *PredictionRequest) error

	Get(ctx context.Context, id uint64) (PredictionRequest, error)
	ListPending(ctx context.Context, opts ListOpts) ([]PredictionRequest, error)
	ListByRequester(ctx context.Context, requester common.Address, opts ListOpts) ([]PredictionRequest, error)
	CountPending(ctx context.Context) (int64, error)
	ListFinalizedBefore(ctx context.Context, before time.Time, opts ListOpts) ([]PredictionRequest, error)

	// Fulfill flips Pending -> Fulfilled, records solver/price/zkVerified, and
	// credits the escrowed deposit to the solver. Returns ErrNotFound for an
	// unknown id and ErrAlreadyFinalized when the request is not Pending.
	Fulfill(ctx context.Context, id uint64, solver common.Address, price uint64, zkVerified bool) error

	// Cancel flips Pending -> Cancelled and refunds the escrowed deposit to
	// the requester. Same error contract as Fulfill.
	Cancel(ctx context.Context, id uint64) error
}

// BalanceStore tracks per-account token balances held by the ledger. Deposits
// move from these balances into per-request escrow on create and back out on
// finalization.
type BalanceStore interface {
	Credit(ctx context.Context, account common.Address, amount *big.Int) error
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// SolverStore persists the trusted-solver capability set. Mutations are
// restricted to the ledger administrator at the service layer.
type SolverStore interface {
	Add(ctx context.Context, solver TrustedSolver) error
	Remove(ctx context.Context, account common.Address) error
	IsTrusted(ctx context.Context, account common.Address) (bool, error)
	List(ctx context.Context) ([]TrustedSolver, error)
}
