package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/domain"
	"github.com/apollonlabs/zkoracle/internal/server/middleware"
)

// LedgerService defines the methods that the request handler requires from
// the ledger. It is declared locally so the handler package does not depend
// on the concrete ledger implementation.
type LedgerService interface {
	CreateRequest(ctx context.Context, requester common.Address, asset string, tf domain.Timeframe, deposit *big.Int, zkRequired bool) (domain.PredictionRequest, error)
	CancelRequest(ctx context.Context, id uint64, caller common.Address) error
	GetRequest(ctx context.Context, id uint64) (domain.PredictionRequest, error)
	ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.PredictionRequest, error)
	ListByRequester(ctx context.Context, requester common.Address, opts domain.ListOpts) ([]domain.PredictionRequest, error)
	CountPending(ctx context.Context) (int64, error)
	Fulfill(ctx context.Context, id uint64, solver common.Address, claimedPrice uint64, proof *domain.ProofObject) error
}

// RequestHandler serves the prediction request ledger endpoints.
type RequestHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewRequestHandler creates a RequestHandler with the given ledger and logger.
func NewRequestHandler(ledger LedgerService, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		ledger: ledger,
		logger: logger,
	}
}

// requestView is the wire representation of a ledger entry. Deposits are
// decimal strings so precision survives JSON round-trips.
type requestView struct {
	ID          uint64     `json:"id"`
	Requester   string     `json:"requester"`
	Asset       string     `json:"asset"`
	Timeframe   string     `json:"timeframe"`
	Deposit     string     `json:"deposit"`
	ZKRequired  bool       `json:"zk_required"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	FulfilledBy *string    `json:"fulfilled_by,omitempty"`
	ResultPrice *uint64    `json:"result_price,omitempty"`
	ZKVerified  *bool      `json:"zk_verified,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func toView(req domain.PredictionRequest) requestView {
	v := requestView{
		ID:          req.ID,
		Requester:   req.Requester.Hex(),
		Asset:       req.Asset,
		Timeframe:   string(req.Timeframe),
		Deposit:     req.Deposit.String(),
		ZKRequired:  req.ZKRequired,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
		ResultPrice: req.ResultPrice,
		ZKVerified:  req.ZKVerified,
		FinalizedAt: req.FinalizedAt,
	}
	if req.FulfilledBy != nil {
		s := req.FulfilledBy.Hex()
		v.FulfilledBy = &s
	}
	return v
}

func toViews(reqs []domain.PredictionRequest) []requestView {
	views := make([]requestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, toView(r))
	}
	return views
}

// createRequestBody is the JSON body for request creation.
type createRequestBody struct {
	Asset      string `json:"asset"`
	Timeframe  string `json:"timeframe"`
	Deposit    string `json:"deposit"`
	ZKRequired bool   `json:"zk_required"`
}

// CreateRequest registers a new prediction request for the authenticated
// caller, escrowing the deposit from its balance.
// POST /api/requests
func (h *RequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	deposit, ok := new(big.Int).SetString(body.Deposit, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "deposit must be a decimal string")
		return
	}

	req, err := h.ledger.CreateRequest(r.Context(), caller, body.Asset, domain.Timeframe(body.Timeframe), deposit, body.ZKRequired)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientDeposit) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create request failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toView(req))
}

// GetRequest returns a single ledger entry by id.
// GET /api/requests/{id}
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.ledger.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get request failed",
			slog.Uint64("request_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}

	writeJSON(w, http.StatusOK, toView(req))
}

// listRequestsResponse wraps list endpoint output with pagination metadata.
type listRequestsResponse struct {
	Requests []requestView `json:"requests"`
	Total    int64         `json:"total,omitempty"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// ListRequests returns ledger entries for a requester address.
// GET /api/requests?requester=0x...&limit=50&offset=0
func (h *RequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester")
	if !common.IsHexAddress(requester) {
		writeError(w, http.StatusBadRequest, "requester query parameter must be a hex address")
		return
	}

	opts := parseListOpts(r)
	reqs, err := h.ledger.ListByRequester(r.Context(), common.HexToAddress(requester), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list requests failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	writeJSON(w, http.StatusOK, listRequestsResponse{
		Requests: toViews(reqs),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// ListPending returns Pending ledger entries in id order.
// GET /api/requests/pending?limit=50&offset=0
func (h *RequestHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	reqs, err := h.ledger.ListPending(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list pending failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list pending requests")
		return
	}

	total, err := h.ledger.CountPending(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count pending failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count pending requests")
		return
	}

	writeJSON(w, http.StatusOK, listRequestsResponse{
		Requests: toViews(reqs),
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// CancelRequest cancels a Pending request owned by the authenticated caller
// and refunds its deposit.
// DELETE /api/requests/{id}
func (h *RequestHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return
	}

	id, err := requestIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	if err := h.ledger.CancelRequest(r.Context(), id, caller); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "request not found")
		case errors.Is(err, domain.ErrNotRequester):
			writeError(w, http.StatusForbidden, "only the requester may cancel")
		case errors.Is(err, domain.ErrAlreadyFinalized):
			writeError(w, http.StatusConflict, "request already finalized")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel request failed",
				slog.Uint64("request_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel request")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(domain.StatusCancelled)})
}

// fulfillBody is the JSON body for fulfillment submissions.
type fulfillBody struct {
	Price uint64              `json:"price"` // scaled, 3 decimal fixed-point
	Proof *domain.ProofObject `json:"proof,omitempty"`
}

// FulfillRequest submits a solver's answer for a Pending request. The ledger
// decides whether a proof is required and verifies it before finalizing.
// POST /api/requests/{id}/fulfill
func (h *RequestHandler) FulfillRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return
	}

	id, err := requestIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var body fulfillBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.Fulfill(r.Context(), id, caller, body.Price, body.Proof); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "request not found")
		case errors.Is(err, domain.ErrAlreadyFinalized):
			writeError(w, http.StatusConflict, "request already finalized")
		case errors.Is(err, domain.ErrRequestExpired):
			writeError(w, http.StatusConflict, "request expired")
		case errors.Is(err, domain.ErrSelfFulfillment):
			writeError(w, http.StatusForbidden, "requester may not fulfill its own request")
		case errors.Is(err, domain.ErrProofRequired):
			writeError(w, http.StatusUnprocessableEntity, "proof required")
		case errors.Is(err, domain.ErrInvalidProofFormat):
			writeError(w, http.StatusBadRequest, "malformed proof")
		case errors.Is(err, domain.ErrProofInvalid):
			writeError(w, http.StatusUnprocessableEntity, "proof verification failed")
		default:
			h.logger.ErrorContext(r.Context(), "handler: fulfill request failed",
				slog.Uint64("request_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to fulfill request")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": string(domain.StatusFulfilled),
		"solver": caller.Hex(),
		"price":  body.Price,
	})
}
