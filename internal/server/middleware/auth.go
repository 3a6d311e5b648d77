package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// apiKeyHeader is the static-key header, matching the X-Oracle-* register
// the signature middleware and the ML-engine credentials use.
const apiKeyHeader = "X-Oracle-Api-Key"

// Auth returns middleware gating the API behind a static key, presented
// either as a Bearer token or in the X-Oracle-Api-Key header. An empty
// apiKey disables the gate. This is deployment-level protection; per-caller
// identity comes from the signature middleware.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerOrKey(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerOrKey extracts the presented credential: Authorization: Bearer first,
// then the key header.
func bearerOrKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}

// writeUnauthorized sends a 401 with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
