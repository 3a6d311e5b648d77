// Package zkp implements the proof side of the oracle: Groth16 proof
// generation for the ensemble circuit, the pure verifier gate, and the wire
// codec between gnark's proof representation and the snarkjs-shaped JSON
// object callers submit.
package zkp

import (
	"fmt"
	"math/big"
	"strings"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// parseBig accepts the two textual encodings snarkjs tooling emits for field
// elements: plain decimal and 0x-prefixed hex.
func parseBig(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" {
		return nil, fmt.Errorf("empty field element")
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}

	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid field element %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative field element %q", s)
	}
	return v, nil
}

func parseFp(s string) (fp.Element, error) {
	var e fp.Element
	v, err := parseBig(s)
	if err != nil {
		return e, err
	}
	e.SetBigInt(v)
	return e, nil
}

// parseG1 builds a G1 point from its affine coordinate strings. The point at
// infinity is encoded as (0, 0); anything else must lie on the curve.
func parseG1(xs, ys string) (bn254.G1Affine, error) {
	var p bn254.G1Affine

	x, err := parseFp(xs)
	if err != nil {
		return p, fmt.Errorf("g1 x: %w", err)
	}
	y, err := parseFp(ys)
	if err != nil {
		return p, fmt.Errorf("g1 y: %w", err)
	}

	p.X, p.Y = x, y
	if !p.IsInfinity() && !p.IsOnCurve() {
		return p, fmt.Errorf("g1 point not on curve")
	}
	return p, nil
}

// parseG2 builds a G2 point from the snarkjs coordinate layout
// [[x.a0, x.a1], [y.a0, y.a1]]. BN254's G2 has a nontrivial cofactor, so the
// subgroup membership check is required, not optional.
func parseG2(coords [2][2]string) (bn254.G2Affine, error) {
	var p bn254.G2Affine

	var parts [4]fp.Element
	for i, s := range []string{coords[0][0], coords[0][1], coords[1][0], coords[1][1]} {
		e, err := parseFp(s)
		if err != nil {
			return p, fmt.Errorf("g2 coord %d: %w", i, err)
		}
		parts[i] = e
	}

	p.X.A0, p.X.A1 = parts[0], parts[1]
	p.Y.A0, p.Y.A1 = parts[2], parts[3]

	if p.IsInfinity() {
		return p, nil
	}
	if !p.IsOnCurve() {
		return p, fmt.Errorf("g2 point not on curve")
	}
	if !p.IsInSubGroup() {
		return p, fmt.Errorf("g2 point not in subgroup")
	}
	return p, nil
}

// decodeProof parses a wire proof object into gnark's BN254 Groth16 proof.
// Every failure here is a format error: the proof never reached the pairing
// check.
func decodeProof(po *domain.ProofObject) (*groth16bn254.Proof, error) {
	if po == nil {
		return nil, fmt.Errorf("%w: missing proof object", domain.ErrInvalidProofFormat)
	}

	ar, err := parseG1(po.PiA[0], po.PiA[1])
	if err != nil {
		return nil, fmt.Errorf("%w: pi_a: %v", domain.ErrInvalidProofFormat, err)
	}
	bs, err := parseG2(po.PiB)
	if err != nil {
		return nil, fmt.Errorf("%w: pi_b: %v", domain.ErrInvalidProofFormat, err)
	}
	krs, err := parseG1(po.PiC[0], po.PiC[1])
	if err != nil {
		return nil, fmt.Errorf("%w: pi_c: %v", domain.ErrInvalidProofFormat, err)
	}

	return &groth16bn254.Proof{Ar: ar, Bs: bs, Krs: krs}, nil
}

// encodeProof serializes a gnark proof plus its public signals into the wire
// object, with coordinates as decimal strings.
func encodeProof(p *groth16bn254.Proof, price, requestID uint64) *domain.ProofObject {
	dec := func(e *fp.Element) string {
		return e.BigInt(new(big.Int)).String()
	}

	return &domain.ProofObject{
		PiA: [2]string{dec(&p.Ar.X), dec(&p.Ar.Y)},
		PiB: [2][2]string{
			{dec(&p.Bs.X.A0), dec(&p.Bs.X.A1)},
			{dec(&p.Bs.Y.A0), dec(&p.Bs.Y.A1)},
		},
		PiC: [2]string{dec(&p.Krs.X), dec(&p.Krs.Y)},
		PublicSignals: []string{
			new(big.Int).SetUint64(price).String(),
			new(big.Int).SetUint64(requestID).String(),
		},
	}
}
