package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// Request authentication uses secp256k1 signatures over an EIP-191 prefixed
// message. The caller signs
//
//	<unix-ts>|<METHOD>|<path>|<keccak256(body) hex>
//
// and sends the signature alongside its address and timestamp; the server
// recovers the public key from the signature and derives the caller address
// from it, so no key material is ever shared with the server.

// Signer signs API requests with a secp256k1 private key. Requesters use it
// to create and cancel ledger entries; solver workers use it to submit
// fulfillments.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs an API request at the given Unix timestamp. It returns a
// hex-encoded 65-byte signature (r || s || v).
func (s *Signer) SignRequest(method, path string, body []byte, unixTS int64) (string, error) {
	digest := requestDigest(method, path, body, unixTS)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	// go-ethereum returns v in {0,1}; the wire format uses {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner recovers the address that signed an API request. It is the
// server-side counterpart of SignRequest; the returned address is the
// caller's authenticated identity.
func RecoverSigner(method, path string, body []byte, unixTS int64, sigHex string) (common.Address, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sigBytes) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(sigBytes))
	}

	// Normalise v back to {0,1} for recovery.
	sig := make([]byte, 65)
	copy(sig, sigBytes)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := requestDigest(method, path, body, unixTS)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover public key: %w", err)
	}

	return ethcrypto.PubkeyToAddress(*pub), nil
}

// requestDigest builds the EIP-191 prefixed digest for an API request.
func requestDigest(method, path string, body []byte, unixTS int64) []byte {
	bodyHash := hex.EncodeToString(ethcrypto.Keccak256(body))
	message := strconv.FormatInt(unixTS, 10) + "|" + method + "|" + path + "|" + bodyHash

	prefixed := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)) + message
	return ethcrypto.Keccak256([]byte(prefixed))
}
