package handler

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// configView is the public view of the ledger's deploy-time parameters,
// mirroring what a requester needs before creating a request.
type configView struct {
	Owner                 string `json:"owner"`
	MinDeposit            string `json:"min_deposit"`
	RequestTimeoutSeconds int64  `json:"request_timeout_seconds"`
}

// ConfigHandler serves the read-only ledger parameter endpoint.
type ConfigHandler struct {
	view configView
}

// NewConfigHandler creates a ConfigHandler snapshotting the given parameters.
// They are fixed at startup, so the snapshot never goes stale.
func NewConfigHandler(owner common.Address, minDeposit *big.Int, requestTimeout time.Duration) *ConfigHandler {
	return &ConfigHandler{
		view: configView{
			Owner:                 owner.Hex(),
			MinDeposit:            minDeposit.String(),
			RequestTimeoutSeconds: int64(requestTimeout / time.Second),
		},
	}
}

// GetConfig returns the ledger parameters.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view)
}
