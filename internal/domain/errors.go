package domain

import "errors"

// Ledger-level failures leave the request state unchanged; callers match them
// with errors.Is. ErrInvalidProofFormat (malformed proof or public-signal
// shape, likely a caller bug) is deliberately distinct from ErrProofInvalid
// (well-formed but cryptographically false, a wrong price or a forgery
// attempt).
var (
	ErrNotFound            = errors.New("not found")
	ErrNotRequester        = errors.New("caller is not the requester")
	ErrAlreadyFinalized    = errors.New("request already finalized")
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	ErrProofRequired       = errors.New("zk proof required")
	ErrInvalidProofFormat  = errors.New("invalid proof format")
	ErrProofInvalid        = errors.New("proof verification failed")
	ErrRequestExpired      = errors.New("request expired")
	ErrSelfFulfillment     = errors.New("requester cannot fulfill own request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSigningFailed       = errors.New("signing failed")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrContextDone         = errors.New("context cancelled")
	ErrLockHeld            = errors.New("lock already held")
)
