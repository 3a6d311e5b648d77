package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/apollonlabs/zkoracle/internal/domain"
	"github.com/apollonlabs/zkoracle/internal/server/middleware"
)

var (
	testRequester = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	testSolver    = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
)

// fakeLedger is a scriptable LedgerService.
type fakeLedger struct {
	createFn  func(ctx context.Context, requester common.Address, asset string, tf domain.Timeframe, deposit *big.Int, zkRequired bool) (domain.PredictionRequest, error)
	cancelFn  func(ctx context.Context, id uint64, caller common.Address) error
	getFn     func(ctx context.Context, id uint64) (domain.PredictionRequest, error)
	fulfillFn func(ctx context.Context, id uint64, solver common.Address, price uint64, proof *domain.ProofObject) error
	pending   []domain.PredictionRequest
}

func (f *fakeLedger) CreateRequest(ctx context.Context, requester common.Address, asset string, tf domain.Timeframe, deposit *big.Int, zkRequired bool) (domain.PredictionRequest, error) {
	return f.createFn(ctx, requester, asset, tf, deposit, zkRequired)
}

func (f *fakeLedger) CancelRequest(ctx context.Context, id uint64, caller common.Address) error {
	return f.cancelFn(ctx, id, caller)
}

func (f *fakeLedger) GetRequest(ctx context.Context, id uint64) (domain.PredictionRequest, error) {
	return f.getFn(ctx, id)
}

func (f *fakeLedger) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	return f.pending, nil
}

func (f *fakeLedger) ListByRequester(ctx context.Context, requester common.Address, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	var out []domain.PredictionRequest
	for _, r := range f.pending {
		if r.Requester == requester {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLedger) CountPending(ctx context.Context) (int64, error) {
	return int64(len(f.pending)), nil
}

func (f *fakeLedger) Fulfill(ctx context.Context, id uint64, solver common.Address, price uint64, proof *domain.ProofObject) error {
	return f.fulfillFn(ctx, id, solver, price, proof)
}

func newMux(h *RequestHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/requests", h.CreateRequest)
	mux.HandleFunc("GET /api/requests", h.ListRequests)
	mux.HandleFunc("GET /api/requests/pending", h.ListPending)
	mux.HandleFunc("GET /api/requests/{id}", h.GetRequest)
	mux.HandleFunc("DELETE /api/requests/{id}", h.CancelRequest)
	mux.HandleFunc("POST /api/requests/{id}/fulfill", h.FulfillRequest)
	return mux
}

func testRequest() domain.PredictionRequest {
	return domain.PredictionRequest{
		ID:        7,
		Requester: testRequester,
		Asset:     "BTC",
		Timeframe: domain.Timeframe1H,
		Deposit:   big.NewInt(500),
		Status:    domain.StatusPending,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt: time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC),
	}
}

func asCaller(r *http.Request, caller common.Address) *http.Request {
	return r.WithContext(middleware.WithCaller(r.Context(), caller))
}

func TestCreateRequest(t *testing.T) {
	ledger := &fakeLedger{
		createFn: func(ctx context.Context, requester common.Address, asset string, tf domain.Timeframe, deposit *big.Int, zkRequired bool) (domain.PredictionRequest, error) {
			require.Equal(t, testRequester, requester)
			require.Equal(t, "BTC", asset)
			require.Equal(t, domain.Timeframe1H, tf)
			require.Equal(t, big.NewInt(500), deposit)
			require.True(t, zkRequired)
			return testRequest(), nil
		},
	}
	h := NewRequestHandler(ledger, slog.New(slog.DiscardHandler))
	mux := newMux(h)

	body := `{"asset":"BTC","timeframe":"1h","deposit":"500","zk_required":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asCaller(req, testRequester))

	require.Equal(t, http.StatusCreated, rec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, float64(7), view["id"])
	require.Equal(t, "500", view["deposit"])
	require.Equal(t, "pending", view["status"])
}

func TestCreateRequestUnsigned(t *testing.T) {
	h := NewRequestHandler(&fakeLedger{}, slog.New(slog.DiscardHandler))
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRequestInsufficientDeposit(t *testing.T) {
	ledger := &fakeLedger{
		createFn: func(ctx context.Context, requester common.Address, asset string, tf domain.Timeframe, deposit *big.Int, zkRequired bool) (domain.PredictionRequest, error) {
			return domain.PredictionRequest{}, domain.ErrInsufficientDeposit
		},
	}
	h := NewRequestHandler(ledger, slog.New(slog.DiscardHandler))
	mux := newMux(h)

	body := `{"asset":"BTC","timeframe":"1h","deposit":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asCaller(req, testRequester))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetRequestNotFound(t *testing.T) {
	ledger := &fakeLedger{
		getFn: func(ctx context.Context, id uint64) (domain.PredictionRequest, error) {
			return domain.PredictionRequest{}, domain.ErrNotFound
		},
	}
	h := NewRequestHandler(ledger, slog.New(slog.DiscardHandler))
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/requests/999", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPendingIncludesTotal(t *testing.T) {
	ledger := &fakeLedger{pending: []domain.PredictionRequest{testRequest()}}
	h := NewRequestHandler(ledger, slog.New(slog.DiscardHandler))
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/requests/pending", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Requests []map[string]any `json:"requests"`
		Total    int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Requests, 1)
	require.Equal(t, int64(1), resp.Total)
}

func TestListRequestsRejectsBadAddress(t *testing.T) {
	h := NewRequestHandler(&fakeLedger{}, slog.New(slog.DiscardHandler))
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/requests?requester=nonsense", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRequestErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"not requester", domain.ErrNotRequester, http.StatusForbidden},
		{"already finalized", domain.ErrAlreadyFinalized, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &fakeLedger{
				cancelFn: func(ctx context.Context, id uint64, caller common.Address) error {
					return tc.err
				},
			}
			h := NewRequestHandler(ledger, slog.New(slog.DiscardHandler))
			mux := newMux(h)

			req := httptest.NewRequest(http.MethodDelete, "/api/requests/7", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, asCaller(req, testRequester))

			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestFulfillRequest(t *testing.T) {
	ledger := &fakeLedger{
		fulfillFn: func(ctx context.Context, id uint64, solver common.Address, price uint64, proof *domain.ProofObject) error {
			require.Equal(t, uint64(7), id)
			require.Equal(t, testSolver, solver)
			require.Equal(t, uint64(64969), price)
			require.NotNil(t, proof)
			return nil
		},
	}
	h := NewRequestHandler(ledger, slog.New(slog.DiscardHandler))
	mux := newMux(h)

	body := `{"price":64969,"proof":{"pi_a":["1","2"],"pi_b":[["1","2"],["3","4"]],"pi_c":["5","6"],"publicSignals":["64969","7"]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/requests/7/fulfill", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asCaller(req, testSolver))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFulfillRequestErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"already finalized", domain.ErrAlreadyFinalized, http.StatusConflict},
		{"expired", domain.ErrRequestExpired, http.StatusConflict},
		{"self fulfillment", domain.ErrSelfFulfillment, http.StatusForbidden},
		{"proof required", domain.ErrProofRequired, http.StatusUnprocessableEntity},
		{"malformed proof", domain.ErrInvalidProofFormat, http.StatusBadRequest},
		{"invalid proof", domain.ErrProofInvalid, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &fakeLedger{
				fulfillFn: func(ctx context.Context, id uint64, solver common.Address, price uint64, proof *domain.ProofObject) error {
					return tc.err
				},
			}
			h := NewRequestHandler(ledger, slog.New(slog.DiscardHandler))
			mux := newMux(h)

			req := httptest.NewRequest(http.MethodPost, "/api/requests/7/fulfill", strings.NewReader(`{"price":1}`))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, asCaller(req, testSolver))

			require.Equal(t, tc.want, rec.Code)
		})
	}
}
