package domain

// ProofObject is the wire form of a Groth16 proof over BN254, in the same
// shape snarkjs emits: three elliptic-curve group elements as coordinate
// strings (decimal or 0x-hex) plus the public-signal vector. It is immutable
// once constructed and consumed exactly once per fulfillment attempt.
//
// PiA and PiC are G1 points as [x, y]; PiB is a G2 point as
// [[x.a0, x.a1], [y.a0, y.a1]].
type ProofObject struct {
	PiA           [2]string    `json:"pi_a"`
	PiB           [2][2]string `json:"pi_b"`
	PiC           [2]string    `json:"pi_c"`
	PublicSignals []string     `json:"publicSignals"`
}

// PublicSignalCount is the expected length of the public-signal vector:
// the claimed price and the request id binding the proof to one ledger entry.
const PublicSignalCount = 2
