package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// SolverStore implements domain.SolverStore against the trusted_solvers table.
type SolverStore struct {
	pool *pgxpool.Pool
}

// NewSolverStore creates a new SolverStore backed by the given pool.
func NewSolverStore(pool *pgxpool.Pool) *SolverStore {
	return &SolverStore{pool: pool}
}

// Add registers a solver as trusted. Re-adding updates the label and hash.
func (s *SolverStore) Add(ctx context.Context, solver domain.TrustedSolver) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trusted_solvers (account, label, code_hash, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account)
		DO UPDATE SET label = EXCLUDED.label, code_hash = EXCLUDED.code_hash`,
		solver.Account.Hex(), solver.Label, solver.CodeHash, solver.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: add trusted solver %s: %w", solver.Account.Hex(), err)
	}
	return nil
}

// Remove drops a solver from the trusted set. Removing an unknown solver is
// not an error; the end state is the same.
func (s *SolverStore) Remove(ctx context.Context, account common.Address) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM trusted_solvers WHERE account = $1`, account.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: remove trusted solver %s: %w", account.Hex(), err)
	}
	return nil
}

// IsTrusted reports whether an account is in the trusted set.
func (s *SolverStore) IsTrusted(ctx context.Context, account common.Address) (bool, error) {
	var trusted bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trusted_solvers WHERE account = $1)`, account.Hex(),
	).Scan(&trusted)
	if err != nil {
		return false, fmt.Errorf("postgres: check trusted solver %s: %w", account.Hex(), err)
	}
	return trusted, nil
}

// List returns all trusted solvers ordered by registration time.
func (s *SolverStore) List(ctx context.Context) ([]domain.TrustedSolver, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, label, code_hash, added_at FROM trusted_solvers ORDER BY added_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trusted solvers: %w", err)
	}
	defer rows.Close()

	var solvers []domain.TrustedSolver
	for rows.Next() {
		var (
			account string
			ts      domain.TrustedSolver
		)
		if err := rows.Scan(&account, &ts.Label, &ts.CodeHash, &ts.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trusted solver: %w", err)
		}
		ts.Account = common.HexToAddress(account)
		solvers = append(solvers, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trusted solvers: %w", err)
	}
	return solvers, nil
}

// Compile-time interface check.
var _ domain.SolverStore = (*SolverStore)(nil)
