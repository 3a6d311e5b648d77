package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// Fulfill is the fulfillment gate. It checks eligibility, routes through the
// verifier gate when a proof is mandatory, and finalizes the request
// atomically: the status flip and the deposit release happen in one store
// transaction, and of two racing fulfillments exactly one succeeds while the
// other observes ErrAlreadyFinalized.
//
// A proof is mandatory when the request was created with zk_required, and
// also for any solver outside the trusted set: only requests not explicitly
// marked zk_required allow the trusted-solver shortcut, and only for trusted
// identities. Every failure leaves the request Pending so another solver may
// retry.
func (l *Ledger) Fulfill(
	ctx context.Context,
	id uint64,
	solver common.Address,
	claimedPrice uint64,
	proof *domain.ProofObject,
) error {
	req, err := l.requests.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: fulfill request %d: %w", id, err)
	}
	if req.Status.Terminal() {
		return domain.ErrAlreadyFinalized
	}
	if req.Expired(l.now().UTC()) {
		return domain.ErrRequestExpired
	}
	if solver == req.Requester {
		return domain.ErrSelfFulfillment
	}

	needProof := req.ZKRequired
	if !needProof {
		trusted, err := l.solvers.IsTrusted(ctx, solver)
		if err != nil {
			return fmt.Errorf("ledger: trusted solver lookup: %w", err)
		}
		needProof = !trusted
	}

	zkVerified := false
	if needProof {
		if proof == nil {
			return domain.ErrProofRequired
		}
		if err := l.verifier.Verify(proof, claimedPrice, id); err != nil {
			l.recordProofFailure(ctx, solver, id, err)
			return err
		}
		zkVerified = true
	}

	if err := l.requests.Fulfill(ctx, id, solver, claimedPrice, zkVerified); err != nil {
		// A concurrent winner surfaces here; the request stays untouched for
		// this caller either way.
		return fmt.Errorf("ledger: fulfill request %d: %w", id, err)
	}

	l.clearProofFailures(solver)

	l.logger.InfoContext(ctx, "request fulfilled",
		slog.Uint64("request_id", id),
		slog.String("solver", solver.Hex()),
		slog.Uint64("price", claimedPrice),
		slog.Bool("zk_verified", zkVerified),
	)

	l.publish(ctx, domain.RequestEvent{
		Type:      domain.EventRequestFulfilled,
		RequestID: id,
		Asset:     req.Asset,
		Timeframe: req.Timeframe,
		Solver:    solver.Hex(),
		Price:     claimedPrice,
		At:        l.now().UTC(),
	})

	return nil
}

// recordProofFailure counts consecutive cryptographically-false proofs per
// solver. A malformed proof is a caller bug, not suspicious, and is not
// counted; repeated ErrProofInvalid indicates a wrong price or an attempted
// forgery and is surfaced to operators once past the threshold.
func (l *Ledger) recordProofFailure(ctx context.Context, solver common.Address, id uint64, verr error) {
	if !errors.Is(verr, domain.ErrProofInvalid) {
		return
	}

	l.mu.Lock()
	l.proofFailures[solver]++
	count := l.proofFailures[solver]
	l.mu.Unlock()

	l.logger.WarnContext(ctx, "proof rejected",
		slog.Uint64("request_id", id),
		slog.String("solver", solver.Hex()),
		slog.Int("consecutive_failures", count),
	)

	if l.alerter == nil || l.cfg.ProofFailureAlertThreshold <= 0 || count != l.cfg.ProofFailureAlertThreshold {
		return
	}
	msg := fmt.Sprintf("solver %s submitted %d consecutive invalid proofs (latest request %d)",
		solver.Hex(), count, id)
	if err := l.alerter.Notify(ctx, "proof_invalid", "repeated invalid proofs", msg); err != nil {
		l.logger.WarnContext(ctx, "alert dispatch failed", slog.String("error", err.Error()))
	}
}

func (l *Ledger) clearProofFailures(solver common.Address) {
	l.mu.Lock()
	delete(l.proofFailures, solver)
	l.mu.Unlock()
}
