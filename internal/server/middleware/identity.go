package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	oraclecrypto "github.com/apollonlabs/zkoracle/internal/crypto"
)

// Signature header names for signed-request authentication.
const (
	HeaderTimestamp = "X-Oracle-Timestamp"
	HeaderSignature = "X-Oracle-Signature"
)

// maxBodyBytes bounds how much of a signed request body the middleware will
// buffer for digest computation.
const maxBodyBytes = 1 << 20

type ctxKey int

const callerKey ctxKey = iota

// CallerFrom returns the authenticated caller address stored by Identity.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey).(common.Address)
	return addr, ok
}

// WithCaller returns a context carrying an authenticated caller address.
// Handler tests use it to inject identities without a full signature flow.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// Identity returns middleware that authenticates callers via secp256k1
// request signatures. Requests without signature headers pass through
// anonymously; handlers that require an identity reject those themselves.
// Requests with a signature must verify and fall within maxSkew of server
// time, otherwise a 401 is returned.
func Identity(maxSkew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderSignature)
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}

			tsStr := r.Header.Get(HeaderTimestamp)
			ts, err := strconv.ParseInt(tsStr, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid signature timestamp")
				return
			}
			if skew := time.Since(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeUnauthorized(w, "signature timestamp outside allowed window")
				return
			}

			// The body participates in the digest; buffer and restore it so
			// the handler can still read it.
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := oraclecrypto.RecoverSigner(r.Method, r.URL.Path, body, ts, sig)
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
