package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/apollonlabs/zkoracle/internal/domain"
	"github.com/apollonlabs/zkoracle/internal/store/memory"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000aD111")
	requester = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	solverA   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	solverB   = common.HexToAddress("0x000000000000000000000000000000000000cccc")
)

// fakeVerifier lets tests choose the verifier gate's verdict without running
// a pairing check.
type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) Verify(po *domain.ProofObject, price, requestID uint64) error {
	f.calls++
	return f.err
}

func dummyProof() *domain.ProofObject {
	return &domain.ProofObject{PublicSignals: []string{"0", "0"}}
}

type harness struct {
	ledger   *Ledger
	store    *memory.Store
	verifier *fakeVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	verifier := &fakeVerifier{}
	l := New(
		Config{
			Owner:          owner,
			MinDeposit:     big.NewInt(100),
			RequestTimeout: time.Hour,
		},
		store, store, store, verifier, nil, nil,
		slog.New(slog.DiscardHandler),
	)
	// Fund the requester so deposits can be escrowed.
	require.NoError(t, l.Deposit(context.Background(), requester, big.NewInt(10_000)))
	return &harness{ledger: l, store: store, verifier: verifier}
}

func (h *harness) createRequest(t *testing.T, zkRequired bool) domain.PredictionRequest {
	t.Helper()
	req, err := h.ledger.CreateRequest(context.Background(), requester, "BTC", domain.Timeframe24H, big.NewInt(500), zkRequired)
	require.NoError(t, err)
	return req
}

func TestCreateRequestAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t)

	first := h.createRequest(t, false)
	second := h.createRequest(t, true)

	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, uint64(2), second.ID)
	require.Equal(t, domain.StatusPending, first.Status)
	require.True(t, second.ExpiresAt.After(second.CreatedAt))
}

func TestCreateRequestRejectsLowDeposit(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.CreateRequest(context.Background(), requester, "BTC", domain.Timeframe1H, big.NewInt(99), false)
	require.ErrorIs(t, err, domain.ErrInsufficientDeposit)

	_, err = h.ledger.CreateRequest(context.Background(), requester, "BTC", domain.Timeframe1H, nil, false)
	require.ErrorIs(t, err, domain.ErrInsufficientDeposit)
}

func TestCreateRequestRejectsUnfundedRequester(t *testing.T) {
	h := newHarness(t)
	broke := common.HexToAddress("0x00000000000000000000000000000000000ddddd")

	_, err := h.ledger.CreateRequest(context.Background(), broke, "BTC", domain.Timeframe1H, big.NewInt(500), false)
	require.ErrorIs(t, err, domain.ErrInsufficientDeposit)
}

func TestCancelRoundTripRefundsDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before, err := h.ledger.Balance(ctx, requester)
	require.NoError(t, err)

	req := h.createRequest(t, false)

	escrowed, err := h.ledger.Balance(ctx, requester)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Sub(before, big.NewInt(500)), escrowed)

	require.NoError(t, h.ledger.CancelRequest(ctx, req.ID, requester))

	after, err := h.ledger.Balance(ctx, requester)
	require.NoError(t, err)
	require.Zero(t, before.Cmp(after), "deposit must be refunded exactly")

	got, err := h.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, got.Status)

	// Terminal entries stay queryable but reject further transitions.
	err = h.ledger.Fulfill(ctx, req.ID, solverA, 42, dummyProof())
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestCancelOnlyByRequester(t *testing.T) {
	h := newHarness(t)
	req := h.createRequest(t, false)

	err := h.ledger.CancelRequest(context.Background(), req.ID, solverA)
	require.ErrorIs(t, err, domain.ErrNotRequester)
}

func TestCancelUnknownRequest(t *testing.T) {
	h := newHarness(t)

	err := h.ledger.CancelRequest(context.Background(), 99, requester)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFulfillWithValidProofReleasesEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, true)

	require.NoError(t, h.ledger.Fulfill(ctx, req.ID, solverA, 185475, dummyProof()))
	require.Equal(t, 1, h.verifier.calls)

	got, err := h.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFulfilled, got.Status)
	require.NotNil(t, got.FulfilledBy)
	require.Equal(t, solverA, *got.FulfilledBy)
	require.NotNil(t, got.ResultPrice)
	require.Equal(t, uint64(185475), *got.ResultPrice)
	require.NotNil(t, got.ZKVerified)
	require.True(t, *got.ZKVerified)

	bal, err := h.ledger.Balance(ctx, solverA)
	require.NoError(t, err)
	require.Zero(t, bal.Cmp(big.NewInt(500)), "deposit must be released to the solver")
}

func TestFulfillIsIdempotentPerRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, true)

	require.NoError(t, h.ledger.Fulfill(ctx, req.ID, solverA, 100, dummyProof()))

	// A second fulfillment fails regardless of proof or price supplied.
	err := h.ledger.Fulfill(ctx, req.ID, solverB, 999, dummyProof())
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	got, err := h.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, solverA, *got.FulfilledBy)
	require.Equal(t, uint64(100), *got.ResultPrice)
}

func TestFulfillZKRequiredRejectsMissingProof(t *testing.T) {
	h := newHarness(t)
	req := h.createRequest(t, true)

	err := h.ledger.Fulfill(context.Background(), req.ID, solverA, 100, nil)
	require.ErrorIs(t, err, domain.ErrProofRequired)
}

func TestFulfillUntrustedSolverNeedsProofEvenWhenOptional(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, false)

	// Untrusted solver, no proof: rejected even though zk_required is false.
	err := h.ledger.Fulfill(ctx, req.ID, solverA, 100, nil)
	require.ErrorIs(t, err, domain.ErrProofRequired)

	// With a proof the untrusted solver passes through the verifier gate.
	require.NoError(t, h.ledger.Fulfill(ctx, req.ID, solverA, 100, dummyProof()))
	require.Equal(t, 1, h.verifier.calls)
}

func TestFulfillTrustedSolverFastPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, false)

	require.NoError(t, h.ledger.AddTrustedSolver(ctx, owner, domain.TrustedSolver{
		Account: solverA,
		Label:   "tee-agent-1",
	}))

	require.NoError(t, h.ledger.Fulfill(ctx, req.ID, solverA, 100, nil))
	require.Zero(t, h.verifier.calls, "trusted fast path must not invoke the verifier")

	got, err := h.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ZKVerified)
	require.False(t, *got.ZKVerified)
}

func TestFulfillTrustedSolverStillProvenWhenRequired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, true)

	require.NoError(t, h.ledger.AddTrustedSolver(ctx, owner, domain.TrustedSolver{Account: solverA}))

	// zk_required requests never allow the trusted shortcut.
	err := h.ledger.Fulfill(ctx, req.ID, solverA, 100, nil)
	require.ErrorIs(t, err, domain.ErrProofRequired)
}

func TestFulfillInvalidProofLeavesRequestPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, true)

	h.verifier.err = domain.ErrProofInvalid
	err := h.ledger.Fulfill(ctx, req.ID, solverA, 100, dummyProof())
	require.ErrorIs(t, err, domain.ErrProofInvalid)

	got, err := h.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)

	// Another solver retries and wins.
	h.verifier.err = nil
	require.NoError(t, h.ledger.Fulfill(ctx, req.ID, solverB, 100, dummyProof()))
}

func TestFulfillRejectsSelfFulfillment(t *testing.T) {
	h := newHarness(t)
	req := h.createRequest(t, false)

	err := h.ledger.Fulfill(context.Background(), req.ID, requester, 100, dummyProof())
	require.ErrorIs(t, err, domain.ErrSelfFulfillment)
}

func TestFulfillRejectsExpiredRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, false)

	h.ledger.now = func() time.Time { return req.ExpiresAt.Add(time.Second) }

	err := h.ledger.Fulfill(ctx, req.ID, solverA, 100, dummyProof())
	require.ErrorIs(t, err, domain.ErrRequestExpired)

	// The request stays Pending; the requester reclaims the deposit.
	require.NoError(t, h.ledger.CancelRequest(ctx, req.ID, requester))
}

func TestConcurrentFulfillExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createRequest(t, true)

	solvers := []common.Address{solverA, solverB}
	errs := make([]error, len(solvers))

	var wg sync.WaitGroup
	for i, sv := range solvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.ledger.Fulfill(ctx, req.ID, sv, 100, dummyProof())
		}()
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
			losses++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, losses)
}

func TestListPendingOrderingAndOffset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for range 5 {
		h.createRequest(t, false)
	}
	require.NoError(t, h.ledger.Fulfill(ctx, 3, solverA, 100, dummyProof()))

	pending, err := h.ledger.ListPending(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 4)
	for i := 1; i < len(pending); i++ {
		require.Greater(t, pending[i].ID, pending[i-1].ID, "creation order must be preserved")
	}

	page, err := h.ledger.ListPending(ctx, domain.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, pending[2].ID, page[0].ID)
}

func TestTrustedSolverAdminIsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.ledger.AddTrustedSolver(ctx, solverA, domain.TrustedSolver{Account: solverA})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, h.ledger.AddTrustedSolver(ctx, owner, domain.TrustedSolver{Account: solverA}))

	err = h.ledger.RemoveTrustedSolver(ctx, solverB, solverA)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, h.ledger.RemoveTrustedSolver(ctx, owner, solverA))

	solvers, err := h.ledger.ListTrustedSolvers(ctx)
	require.NoError(t, err)
	require.Empty(t, solvers)
}

func TestRepeatedInvalidProofsTriggerAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alerts := &captureAlerter{}
	h.ledger.alerter = alerts
	h.ledger.cfg.ProofFailureAlertThreshold = 3
	h.verifier.err = domain.ErrProofInvalid

	req := h.createRequest(t, true)
	for range 3 {
		err := h.ledger.Fulfill(ctx, req.ID, solverA, 100, dummyProof())
		require.ErrorIs(t, err, domain.ErrProofInvalid)
	}

	require.Equal(t, 1, alerts.count, "alert fires once at the threshold")
}

type captureAlerter struct {
	count int
}

func (c *captureAlerter) Notify(_ context.Context, _, _, _ string) error {
	c.count++
	return nil
}
