package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	bob   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
)

func newRequest(requester common.Address, deposit int64) *domain.PredictionRequest {
	now := time.Now().UTC()
	return &domain.PredictionRequest{
		Requester: requester,
		Asset:     "BTC",
		Timeframe: domain.Timeframe1H,
		Deposit:   big.NewInt(deposit),
		Status:    domain.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestCreateAssignsSequentialIDsAndEscrows(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, alice, big.NewInt(1000)))

	first := newRequest(alice, 300)
	require.NoError(t, s.Create(ctx, first))
	require.Equal(t, uint64(1), first.ID)

	second := newRequest(alice, 300)
	require.NoError(t, s.Create(ctx, second))
	require.Equal(t, uint64(2), second.ID)

	bal, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), bal)
}

func TestCreateInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, alice, big.NewInt(100)))

	err := s.Create(ctx, newRequest(alice, 300))
	require.ErrorIs(t, err, domain.ErrInsufficientDeposit)

	// Balance must be untouched on rejection.
	bal, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), bal)
}

func TestFulfillCreditsSolverOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, alice, big.NewInt(500)))

	req := newRequest(alice, 500)
	require.NoError(t, s.Create(ctx, req))

	require.NoError(t, s.Fulfill(ctx, req.ID, bob, 64969, true))

	// Second finalization attempt must observe the terminal state.
	require.ErrorIs(t, s.Fulfill(ctx, req.ID, bob, 64969, true), domain.ErrAlreadyFinalized)
	require.ErrorIs(t, s.Cancel(ctx, req.ID), domain.ErrAlreadyFinalized)

	bal, err := s.Balance(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), bal)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFulfilled, got.Status)
	require.Equal(t, bob, *got.FulfilledBy)
	require.Equal(t, uint64(64969), *got.ResultPrice)
	require.True(t, *got.ZKVerified)
	require.NotNil(t, got.FinalizedAt)
}

func TestCancelRefundsRequester(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, alice, big.NewInt(500)))

	req := newRequest(alice, 500)
	require.NoError(t, s.Create(ctx, req))

	require.NoError(t, s.Cancel(ctx, req.ID))

	bal, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), bal)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, got.Status)
}

func TestListPendingPagination(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, alice, big.NewInt(1000)))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, newRequest(alice, 100)))
	}
	require.NoError(t, s.Cancel(ctx, 3))

	pending, err := s.ListPending(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, uint64(2), pending[0].ID)
	require.Equal(t, uint64(4), pending[1].ID)

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func TestListFinalizedBefore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, alice, big.NewInt(1000)))

	req := newRequest(alice, 100)
	require.NoError(t, s.Create(ctx, req))
	require.NoError(t, s.Fulfill(ctx, req.ID, bob, 1, false))

	open := newRequest(alice, 100)
	require.NoError(t, s.Create(ctx, open))

	old, err := s.ListFinalizedBefore(ctx, time.Now().UTC().Add(time.Minute), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, old, 1)
	require.Equal(t, req.ID, old[0].ID)

	none, err := s.ListFinalizedBefore(ctx, time.Now().UTC().Add(-time.Minute), domain.ListOpts{})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestGetReturnsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Credit(ctx, alice, big.NewInt(500)))

	req := newRequest(alice, 500)
	require.NoError(t, s.Create(ctx, req))

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	got.Deposit.SetInt64(0)

	again, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), again.Deposit)
}

func TestTrustedSolverSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	trusted, err := s.IsTrusted(ctx, bob)
	require.NoError(t, err)
	require.False(t, trusted)

	require.NoError(t, s.Add(ctx, domain.TrustedSolver{Account: bob, Label: "primary"}))

	trusted, err = s.IsTrusted(ctx, bob)
	require.NoError(t, err)
	require.True(t, trusted)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "primary", list[0].Label)

	require.NoError(t, s.Remove(ctx, bob))
	require.ErrorIs(t, s.Remove(ctx, bob), domain.ErrNotFound)
}
