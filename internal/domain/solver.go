package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TrustedSolver is an identity pre-approved by the ledger administrator to
// fulfill non-zk-required requests without per-call proof verification,
// typically an attested autonomous agent. Membership is checked at
// fulfillment time, never cached.
type TrustedSolver struct {
	Account  common.Address
	Label    string // operator-facing description, e.g. "tee-agent-1"
	CodeHash string // attestation code hash, if the solver runs in a TEE
	AddedAt  time.Time
}
