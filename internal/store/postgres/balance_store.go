package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. Amounts are
// stored as NUMERIC(78,0), wide enough for any 256-bit token quantity.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Credit adds amount to an account balance, creating the row if needed.
func (s *BalanceStore) Credit(ctx context.Context, account common.Address, amount *big.Int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balances (account, amount) VALUES ($1, $2)
		ON CONFLICT (account)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		account.Hex(), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account.Hex(), err)
	}
	return nil
}

// Balance returns an account balance; unknown accounts hold zero.
func (s *BalanceStore) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM balances WHERE account = $1`, account.Hex(),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: balance of %s: %w", account.Hex(), err)
	}

	bal := new(big.Int)
	if _, ok := bal.SetString(amount, 10); !ok {
		return nil, fmt.Errorf("postgres: invalid balance %q", amount)
	}
	return bal, nil
}

// creditTx applies a balance credit inside an existing transaction; used by
// the request store so escrow release shares the finalizing transaction.
func creditTx(ctx context.Context, tx pgx.Tx, account common.Address, amount string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (account, amount) VALUES ($1, $2)
		ON CONFLICT (account)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()`,
		account.Hex(), amount,
	)
	return err
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)
