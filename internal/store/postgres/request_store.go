package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// RequestStore implements domain.RequestStore using PostgreSQL.
type RequestStore struct {
	pool *pgxpool.Pool
}

// NewRequestStore creates a new RequestStore backed by the given pool.
func NewRequestStore(pool *pgxpool.Pool) *RequestStore {
	return &RequestStore{pool: pool}
}

// Create inserts a Pending request and debits the requester's balance by the
// deposit in the same transaction. The balance guard doubles as the funding
// check: a requester without enough balance cannot attach the deposit.
func (s *RequestStore) Create(ctx context.Context, req *domain.PredictionRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create request: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE balances SET amount = amount - $2, updated_at = NOW()
		WHERE account = $1 AND amount >= $2`,
		req.Requester.Hex(), req.Deposit.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: escrow deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientDeposit
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO prediction_requests (
			requester, asset, timeframe, deposit, zk_required,
			status, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		RETURNING request_id`,
		req.Requester.Hex(), req.Asset, string(req.Timeframe),
		req.Deposit.String(), req.ZKRequired,
		req.CreatedAt, req.ExpiresAt,
	).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("postgres: insert request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create request: %w", err)
	}
	return nil
}

const requestSelectCols = `request_id, requester, asset, timeframe, deposit,
	zk_required, status, created_at, expires_at,
	fulfilled_by, result_price, zk_verified, finalized_at`

func scanRequest(scanner interface{ Scan(dest ...any) error }) (domain.PredictionRequest, error) {
	var r domain.PredictionRequest
	var requester, status, timeframe, deposit string
	var fulfilledBy *string
	var resultPrice *int64

	err := scanner.Scan(
		&r.ID, &requester, &r.Asset, &timeframe, &deposit,
		&r.ZKRequired, &status, &r.CreatedAt, &r.ExpiresAt,
		&fulfilledBy, &resultPrice, &r.ZKVerified, &r.FinalizedAt,
	)
	if err != nil {
		return domain.PredictionRequest{}, err
	}

	r.Requester = common.HexToAddress(requester)
	r.Timeframe = domain.Timeframe(timeframe)
	r.Status = domain.RequestStatus(status)

	r.Deposit = new(big.Int)
	if _, ok := r.Deposit.SetString(deposit, 10); !ok {
		return domain.PredictionRequest{}, fmt.Errorf("invalid deposit %q", deposit)
	}
	if fulfilledBy != nil {
		addr := common.HexToAddress(*fulfilledBy)
		r.FulfilledBy = &addr
	}
	if resultPrice != nil {
		price := uint64(*resultPrice)
		r.ResultPrice = &price
	}

	return r, nil
}

func scanRequestRows(rows pgx.Rows) ([]domain.PredictionRequest, error) {
	var reqs []domain.PredictionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// Get retrieves a single request by id.
func (s *RequestStore) Get(ctx context.Context, id uint64) (domain.PredictionRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestSelectCols+` FROM prediction_requests WHERE request_id = $1`, int64(id))

	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PredictionRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PredictionRequest{}, fmt.Errorf("postgres: get request %d: %w", id, err)
	}
	return r, nil
}

// ListPending returns Pending requests in ascending id order.
func (s *RequestStore) ListPending(ctx context.Context, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestSelectCols+` FROM prediction_requests
		 WHERE status = 'pending'
		 ORDER BY request_id ASC
		 LIMIT $1 OFFSET $2`,
		normalizeLimit(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending: %w", err)
	}
	defer rows.Close()
	return scanRequestRows(rows)
}

// ListByRequester returns a requester's requests in ascending id order.
func (s *RequestStore) ListByRequester(ctx context.Context, requester common.Address, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestSelectCols+` FROM prediction_requests
		 WHERE requester = $1
		 ORDER BY request_id ASC
		 LIMIT $2 OFFSET $3`,
		requester.Hex(), normalizeLimit(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by requester: %w", err)
	}
	defer rows.Close()
	return scanRequestRows(rows)
}

// ListFinalizedBefore returns terminal requests finalized before the cutoff,
// in ascending id order.
func (s *RequestStore) ListFinalizedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.PredictionRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestSelectCols+` FROM prediction_requests
		 WHERE finalized_at IS NOT NULL AND finalized_at < $1
		 ORDER BY request_id ASC
		 LIMIT $2 OFFSET $3`,
		before, normalizeLimit(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finalized: %w", err)
	}
	defer rows.Close()
	return scanRequestRows(rows)
}

// CountPending returns the number of Pending requests.
func (s *RequestStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM prediction_requests WHERE status = 'pending'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending: %w", err)
	}
	return n, nil
}

// Fulfill flips Pending -> Fulfilled and credits the escrowed deposit to the
// solver. The `status = 'pending'` guard is the compare-and-swap that lets
// exactly one of two racing fulfillments win; the loser sees zero rows
// affected and gets ErrAlreadyFinalized.
func (s *RequestStore) Fulfill(ctx context.Context, id uint64, solver common.Address, price uint64, zkVerified bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin fulfill: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deposit string
	err = tx.QueryRow(ctx, `
		UPDATE prediction_requests
		SET status = 'fulfilled', fulfilled_by = $2, result_price = $3,
		    zk_verified = $4, finalized_at = NOW()
		WHERE request_id = $1 AND status = 'pending'
		RETURNING deposit`,
		int64(id), solver.Hex(), int64(price), zkVerified,
	).Scan(&deposit)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.finalizeConflict(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("postgres: fulfill request %d: %w", id, err)
	}

	if err := creditTx(ctx, tx, solver, deposit); err != nil {
		return fmt.Errorf("postgres: release deposit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit fulfill: %w", err)
	}
	return nil
}

// Cancel flips Pending -> Cancelled and refunds the deposit to the requester.
func (s *RequestStore) Cancel(ctx context.Context, id uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deposit, requester string
	err = tx.QueryRow(ctx, `
		UPDATE prediction_requests
		SET status = 'cancelled', finalized_at = NOW()
		WHERE request_id = $1 AND status = 'pending'
		RETURNING deposit, requester`,
		int64(id),
	).Scan(&deposit, &requester)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.finalizeConflict(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("postgres: cancel request %d: %w", id, err)
	}

	if err := creditTx(ctx, tx, common.HexToAddress(requester), deposit); err != nil {
		return fmt.Errorf("postgres: refund deposit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit cancel: %w", err)
	}
	return nil
}

// finalizeConflict distinguishes "row does not exist" from "row is no longer
// pending" after a zero-row compare-and-swap.
func (s *RequestStore) finalizeConflict(ctx context.Context, id uint64) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM prediction_requests WHERE request_id = $1)`,
		int64(id),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check request %d: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyFinalized
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

// Compile-time interface check.
var _ domain.RequestStore = (*RequestStore)(nil)
