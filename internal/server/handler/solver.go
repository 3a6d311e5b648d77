package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/domain"
	"github.com/apollonlabs/zkoracle/internal/server/middleware"
)

// SolverAdminService defines the trusted-solver administration methods the
// solver handler requires from the ledger. The ledger enforces the owner
// check; the handler only relays the caller identity.
type SolverAdminService interface {
	AddTrustedSolver(ctx context.Context, caller common.Address, solver domain.TrustedSolver) error
	RemoveTrustedSolver(ctx context.Context, caller, solver common.Address) error
	ListTrustedSolvers(ctx context.Context) ([]domain.TrustedSolver, error)
}

// SolverHandler serves trusted-solver administration endpoints.
type SolverHandler struct {
	ledger SolverAdminService
	logger *slog.Logger
}

// NewSolverHandler creates a SolverHandler with the given ledger and logger.
func NewSolverHandler(ledger SolverAdminService, logger *slog.Logger) *SolverHandler {
	return &SolverHandler{
		ledger: ledger,
		logger: logger,
	}
}

// solverView is the wire representation of a trusted solver.
type solverView struct {
	Account  string    `json:"account"`
	Label    string    `json:"label,omitempty"`
	CodeHash string    `json:"code_hash,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// addSolverBody is the JSON body for solver registration.
type addSolverBody struct {
	Account  string `json:"account"`
	Label    string `json:"label"`
	CodeHash string `json:"code_hash"`
}

// AddSolver registers a trusted solver. Owner only.
// POST /api/solvers
func (h *SolverHandler) AddSolver(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return
	}

	var body addSolverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(body.Account) {
		writeError(w, http.StatusBadRequest, "account must be a hex address")
		return
	}

	solver := domain.TrustedSolver{
		Account:  common.HexToAddress(body.Account),
		Label:    body.Label,
		CodeHash: body.CodeHash,
		AddedAt:  time.Now().UTC(),
	}

	if err := h.ledger.AddTrustedSolver(r.Context(), caller, solver); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "owner only")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: add solver failed",
			slog.String("account", body.Account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to add solver")
		return
	}

	writeJSON(w, http.StatusCreated, solverView{
		Account:  solver.Account.Hex(),
		Label:    solver.Label,
		CodeHash: solver.CodeHash,
		AddedAt:  solver.AddedAt,
	})
}

// RemoveSolver drops a solver from the trusted set. Owner only.
// DELETE /api/solvers/{account}
func (h *SolverHandler) RemoveSolver(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return
	}

	account := pathParam(r, "account")
	if !common.IsHexAddress(account) {
		writeError(w, http.StatusBadRequest, "account must be a hex address")
		return
	}

	if err := h.ledger.RemoveTrustedSolver(r.Context(), caller, common.HexToAddress(account)); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "owner only")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: remove solver failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to remove solver")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"account": common.HexToAddress(account).Hex(), "removed": "true"})
}

// ListSolvers returns the trusted solver set.
// GET /api/solvers
func (h *SolverHandler) ListSolvers(w http.ResponseWriter, r *http.Request) {
	solvers, err := h.ledger.ListTrustedSolvers(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list solvers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list solvers")
		return
	}

	views := make([]solverView, 0, len(solvers))
	for _, s := range solvers {
		views = append(views, solverView{
			Account:  s.Account.Hex(),
			Label:    s.Label,
			CodeHash: s.CodeHash,
			AddedAt:  s.AddedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"solvers": views})
}
