// Package memory implements the domain store interfaces with in-process maps
// guarded by a mutex. It backs tests and the standalone single-node mode; the
// mutex gives every operation the same serialization guarantee the postgres
// implementation gets from row-level compare-and-swap.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// Store holds the request ledger, balances, and trusted-solver set in memory.
// A single Store implements domain.RequestStore, domain.BalanceStore, and
// domain.SolverStore so the escrow movements share the mutex with the status
// transitions they must be atomic with.
type Store struct {
	mu       sync.Mutex
	nextID   uint64
	requests map[uint64]domain.PredictionRequest
	balances map[common.Address]*big.Int
	solvers  map[common.Address]domain.TrustedSolver
}

// NewStore creates an empty Store. Request ids start at 1.
func NewStore() *Store {
	return &Store{
		nextID:   1,
		requests: make(map[uint64]domain.PredictionRequest),
		balances: make(map[common.Address]*big.Int),
		solvers:  make(map[common.Address]domain.TrustedSolver),
	}
}

// Create assigns the next sequential id, debits the requester's balance by
// the deposit, and stores the request as Pending.
func (s *Store) Create(_ context.Context, req *domain.PredictionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[req.Requester]
	if !ok || bal.Cmp(req.Deposit) < 0 {
		return domain.ErrInsufficientDeposit
	}
	bal.Sub(bal, req.Deposit)

	req.ID = s.nextID
	s.nextID++
	s.requests[req.ID] = cloneRequest(*req)
	return nil
}

// Get returns a request by id.
func (s *Store) Get(_ context.Context, id uint64) (domain.PredictionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.PredictionRequest{}, domain.ErrNotFound
	}
	return cloneRequest(req), nil
}

// ListPending returns Pending requests in ascending id order.
func (s *Store) ListPending(_ context.Context, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listLocked(opts, func(r domain.PredictionRequest) bool {
		return r.Status == domain.StatusPending
	}), nil
}

// ListByRequester returns a requester's requests in ascending id order.
func (s *Store) ListByRequester(_ context.Context, requester common.Address, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listLocked(opts, func(r domain.PredictionRequest) bool {
		return r.Requester == requester
	}), nil
}

// ListFinalizedBefore returns terminal requests finalized before the cutoff.
func (s *Store) ListFinalizedBefore(_ context.Context, before time.Time, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listLocked(opts, func(r domain.PredictionRequest) bool {
		return r.Status.Terminal() && r.FinalizedAt != nil && r.FinalizedAt.Before(before)
	}), nil
}

// CountPending returns the number of Pending requests.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.requests {
		if r.Status == domain.StatusPending {
			n++
		}
	}
	return n, nil
}

// Fulfill flips Pending -> Fulfilled and credits the escrowed deposit to the
// solver, all under the store mutex.
func (s *Store) Fulfill(_ context.Context, id uint64, solver common.Address, price uint64, zkVerified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.StatusPending {
		return domain.ErrAlreadyFinalized
	}

	now := time.Now().UTC()
	req.Status = domain.StatusFulfilled
	req.FulfilledBy = &solver
	req.ResultPrice = &price
	req.ZKVerified = &zkVerified
	req.FinalizedAt = &now
	s.requests[id] = req

	s.creditLocked(solver, req.Deposit)
	return nil
}

// Cancel flips Pending -> Cancelled and refunds the deposit to the requester.
func (s *Store) Cancel(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.StatusPending {
		return domain.ErrAlreadyFinalized
	}

	now := time.Now().UTC()
	req.Status = domain.StatusCancelled
	req.FinalizedAt = &now
	s.requests[id] = req

	s.creditLocked(req.Requester, req.Deposit)
	return nil
}

// Credit adds amount to an account balance.
func (s *Store) Credit(_ context.Context, account common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creditLocked(account, amount)
	return nil
}

// Balance returns an account balance; unknown accounts hold zero.
func (s *Store) Balance(_ context.Context, account common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[account]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// Add inserts or replaces a trusted solver entry.
func (s *Store) Add(_ context.Context, solver domain.TrustedSolver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.solvers[solver.Account] = solver
	return nil
}

// Remove deletes a trusted solver entry.
func (s *Store) Remove(_ context.Context, account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.solvers[account]; !ok {
		return domain.ErrNotFound
	}
	delete(s.solvers, account)
	return nil
}

// IsTrusted reports trusted-set membership.
func (s *Store) IsTrusted(_ context.Context, account common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.solvers[account]
	return ok, nil
}

// List returns trusted solvers ordered by account.
func (s *Store) List(_ context.Context) ([]domain.TrustedSolver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TrustedSolver, 0, len(s.solvers))
	for _, sv := range s.solvers {
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.Hex() < out[j].Account.Hex()
	})
	return out, nil
}

func (s *Store) creditLocked(account common.Address, amount *big.Int) {
	bal, ok := s.balances[account]
	if !ok {
		bal = big.NewInt(0)
		s.balances[account] = bal
	}
	bal.Add(bal, amount)
}

func (s *Store) listLocked(opts domain.ListOpts, keep func(domain.PredictionRequest) bool) []domain.PredictionRequest {
	ids := make([]uint64, 0, len(s.requests))
	for id, r := range s.requests {
		if keep(r) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if opts.Offset > 0 {
		if opts.Offset >= len(ids) {
			return nil
		}
		ids = ids[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}

	out := make([]domain.PredictionRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRequest(s.requests[id]))
	}
	return out
}

func cloneRequest(r domain.PredictionRequest) domain.PredictionRequest {
	if r.Deposit != nil {
		r.Deposit = new(big.Int).Set(r.Deposit)
	}
	if r.FulfilledBy != nil {
		v := *r.FulfilledBy
		r.FulfilledBy = &v
	}
	if r.ResultPrice != nil {
		v := *r.ResultPrice
		r.ResultPrice = &v
	}
	if r.ZKVerified != nil {
		v := *r.ZKVerified
		r.ZKVerified = &v
	}
	if r.FinalizedAt != nil {
		v := *r.FinalizedAt
		r.FinalizedAt = &v
	}
	return r
}

// Compile-time interface checks.
var (
	_ domain.RequestStore = (*Store)(nil)
	_ domain.BalanceStore = (*Store)(nil)
	_ domain.SolverStore  = (*Store)(nil)
)
