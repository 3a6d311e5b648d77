package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/apollonlabs/zkoracle/internal/crypto"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// captureHandler records the caller identity and the body the handler saw.
type captureHandler struct {
	caller common.Address
	signed bool
	body   string
	called bool
}

func (c *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called = true
	c.caller, c.signed = CallerFrom(r.Context())
	b, _ := io.ReadAll(r.Body)
	c.body = string(b)
	w.WriteHeader(http.StatusOK)
}

func signedRequest(t *testing.T, signer *crypto.Signer, method, path, body string, ts int64) *http.Request {
	t.Helper()
	sig, err := signer.SignRequest(method, path, []byte(body), ts)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)
	return req
}

func TestIdentityRecoversCaller(t *testing.T) {
	signer, err := crypto.NewSigner(testKeyHex)
	require.NoError(t, err)

	capture := &captureHandler{}
	h := Identity(5 * time.Minute)(capture)

	body := `{"asset":"BTC"}`
	req := signedRequest(t, signer, http.MethodPost, "/api/requests", body, time.Now().Unix())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, capture.signed)
	require.Equal(t, signer.Address(), capture.caller)

	// The body must survive the digest computation intact.
	require.Equal(t, body, capture.body)
}

func TestIdentityPassesUnsignedRequestsThrough(t *testing.T) {
	capture := &captureHandler{}
	h := Identity(5 * time.Minute)(capture)

	req := httptest.NewRequest(http.MethodGet, "/api/requests/pending", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, capture.called)
	require.False(t, capture.signed)
}

func TestIdentityRejectsStaleTimestamp(t *testing.T) {
	signer, err := crypto.NewSigner(testKeyHex)
	require.NoError(t, err)

	capture := &captureHandler{}
	h := Identity(5 * time.Minute)(capture)

	stale := time.Now().Add(-time.Hour).Unix()
	req := signedRequest(t, signer, http.MethodPost, "/api/requests", "{}", stale)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, capture.called)
}

func TestIdentityRejectsBadSignature(t *testing.T) {
	capture := &captureHandler{}
	h := Identity(5 * time.Minute)(capture)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader("{}"))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(HeaderSignature, "0xdeadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, capture.called)
}

func TestIdentityRejectsTamperedBody(t *testing.T) {
	signer, err := crypto.NewSigner(testKeyHex)
	require.NoError(t, err)

	capture := &captureHandler{}
	h := Identity(5 * time.Minute)(capture)

	ts := time.Now().Unix()
	sig, err := signer.SignRequest(http.MethodPost, "/api/requests", []byte(`{"deposit":"100"}`), ts)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(`{"deposit":"999"}`))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Recovery succeeds but yields a different address than the signer; the
	// request is not rejected here, it simply is not attributed to the signer.
	if rec.Code == http.StatusOK {
		require.NotEqual(t, signer.Address(), capture.caller)
	}
}
