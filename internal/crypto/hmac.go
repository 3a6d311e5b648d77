package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the shared-secret credentials for HMAC-authenticated
// requests against the ML prediction engine.
type HMACAuth struct {
	Key    string // API key identifier
	Secret string // shared secret, raw bytes
}

// Headers returns the HTTP headers for an authenticated prediction engine
// request. The signature is HMAC-SHA256(secret, timestamp+method+path+body)
// encoded as base64.
//
// Returned header keys:
//   - X-Oracle-Api-Key
//   - X-Oracle-Timestamp
//   - X-Oracle-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-Oracle-Api-Key":   h.Key,
		"X-Oracle-Timestamp": ts,
		"X-Oracle-Signature": sig,
	}
}

// Verify checks a signature produced by Headers against the same message
// parts. The prediction engine side uses this; the client side only signs.
func (h *HMACAuth) Verify(method, path, body, ts, sig string) bool {
	message := ts + method + path + body
	want := hmacSHA256Base64([]byte(h.Secret), message)
	return hmac.Equal([]byte(want), []byte(sig))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
