package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/server/middleware"
)

// BalanceService defines the balance methods the balance handler requires
// from the ledger.
type BalanceService interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	Deposit(ctx context.Context, account common.Address, amount *big.Int) error
}

// BalanceHandler serves escrow balance endpoints.
type BalanceHandler struct {
	ledger BalanceService
	logger *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler with the given ledger and logger.
func NewBalanceHandler(ledger BalanceService, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{
		ledger: ledger,
		logger: logger,
	}
}

// GetBalance returns the escrow balance for an account.
// GET /api/balances/{account}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := pathParam(r, "account")
	if !common.IsHexAddress(account) {
		writeError(w, http.StatusBadRequest, "account must be a hex address")
		return
	}

	addr := common.HexToAddress(account)
	bal, err := h.ledger.Balance(r.Context(), addr)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get balance failed",
			slog.String("account", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account": addr.Hex(),
		"balance": bal.String(),
	})
}

// depositBody is the JSON body for deposits.
type depositBody struct {
	Amount string `json:"amount"`
}

// Deposit credits the authenticated caller's escrow balance. The gateway in
// front of this API is responsible for having already settled the matching
// token transfer.
// POST /api/balances/deposit
func (h *BalanceHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return
	}

	var body depositBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	amount, ok := new(big.Int).SetString(body.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}

	if err := h.ledger.Deposit(r.Context(), caller, amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: deposit failed",
			slog.String("account", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bal, err := h.ledger.Balance(r.Context(), caller)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"account": caller.Hex()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account": caller.Hex(),
		"balance": bal.String(),
	})
}
