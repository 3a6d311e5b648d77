package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RequestStatus represents the lifecycle state of a prediction request.
// Transitions are one-directional: Pending -> Fulfilled or Pending ->
// Cancelled. Terminal entries are never deleted; they remain queryable for
// audit.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusFulfilled || s == StatusCancelled
}

// Timeframe is the prediction horizon requested for an asset.
type Timeframe string

const (
	Timeframe1H  Timeframe = "1h"
	Timeframe24H Timeframe = "24h"
	Timeframe7D  Timeframe = "7d"
)

// Valid reports whether tf is one of the supported horizons.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1H, Timeframe24H, Timeframe7D:
		return true
	}
	return false
}

// PredictionRequest is a single entry in the request ledger. IDs are assigned
// sequentially by the store, starting at 1, and are unique for the ledger's
// lifetime.
//
// Deposit is held in escrow from creation until the request is finalized: it
// is released to the solver on fulfillment or refunded to the requester on
// cancellation. FulfilledBy and ResultPrice are populated exactly once and
// only together, by the fulfillment gate.
type PredictionRequest struct {
	ID          uint64
	Requester   common.Address
	Asset       string
	Timeframe   Timeframe
	Deposit     *big.Int // fixed-point token quantity, escrowed by the ledger
	ZKRequired  bool
	Status      RequestStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	FulfilledBy *common.Address
	ResultPrice *uint64 // scaled price (3 decimal fixed-point)
	ZKVerified  *bool   // whether a proof was checked at fulfillment
	FinalizedAt *time.Time
}

// Expired reports whether the request can no longer be fulfilled as of now.
// An expired request stays Pending; the requester cancels it to reclaim the
// deposit.
func (r *PredictionRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RequestEventType labels request lifecycle events published on the signal
// bus and streamed to dashboard clients.
type RequestEventType string

const (
	EventRequestCreated   RequestEventType = "request.created"
	EventRequestFulfilled RequestEventType = "request.fulfilled"
	EventRequestCancelled RequestEventType = "request.cancelled"
)

// RequestEvent is a lifecycle notification for a single request.
type RequestEvent struct {
	Type      RequestEventType `json:"type"`
	RequestID uint64           `json:"request_id"`
	Asset     string           `json:"asset"`
	Timeframe Timeframe        `json:"timeframe"`
	Solver    string           `json:"solver,omitempty"`
	Price     uint64           `json:"price,omitempty"`
	At        time.Time        `json:"at"`
}
