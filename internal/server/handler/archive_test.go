package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

var testOwner = common.HexToAddress("0x000000000000000000000000000000000000cccc")

// fakeBlobStore is a scriptable in-memory BlobReader + BlobDeleter.
type fakeBlobStore struct {
	objects map[string]string
	deleted []string
	listErr error
}

func (f *fakeBlobStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobStore) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var infos []domain.BlobInfo
	for path, body := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{
				Path:         path,
				Size:         int64(len(body)),
				LastModified: time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC),
			})
		}
	}
	return infos, nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, path string) error {
	delete(f.objects, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func newArchiveMux(blobs *fakeBlobStore) *http.ServeMux {
	h := NewArchiveHandler(blobs, blobs, testOwner, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive", h.ListObjects)
	mux.HandleFunc("GET /api/archive/{key...}", h.GetObject)
	mux.HandleFunc("DELETE /api/archive/{key...}", h.DeleteObject)
	return mux
}

func TestArchiveListObjects(t *testing.T) {
	blobs := &fakeBlobStore{objects: map[string]string{
		"archive/requests/2026-07.jsonl": `{"id":1}` + "\n",
		"archive/requests/2026-08.jsonl": `{"id":2}` + "\n" + `{"id":3}` + "\n",
		"zkeys/vk.bin":                   "not part of the archive",
	}}
	mux := newArchiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Objects []struct {
			Path string `json:"path"`
			Size int64  `json:"size"`
		} `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Objects, 2)
	for _, obj := range out.Objects {
		require.True(t, strings.HasPrefix(obj.Path, "archive/"))
		require.Positive(t, obj.Size)
	}
}

func TestArchiveGetObject(t *testing.T) {
	body := `{"id":2,"status":"fulfilled"}` + "\n"
	blobs := &fakeBlobStore{objects: map[string]string{
		"archive/requests/2026-08.jsonl": body,
	}}
	mux := newArchiveMux(blobs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/requests/2026-08.jsonl", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	require.Equal(t, body, rec.Body.String())
}

func TestArchiveGetObjectNotFound(t *testing.T) {
	mux := newArchiveMux(&fakeBlobStore{objects: map[string]string{}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/requests/2019-01.jsonl", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchiveGetObjectRejectsTraversal(t *testing.T) {
	blobs := &fakeBlobStore{objects: map[string]string{
		"zkeys/pk.bin": "proving key material",
	}}
	h := NewArchiveHandler(blobs, blobs, testOwner, slog.New(slog.DiscardHandler))

	// The mux cleans dotted paths before matching, so exercise the key
	// check directly with an already-extracted parameter.
	for _, key := range []string{"", "../zkeys/pk.bin", "requests/../../zkeys/pk.bin"} {
		req := httptest.NewRequest(http.MethodGet, "/api/archive/x", nil)
		req.SetPathValue("key", key)
		rec := httptest.NewRecorder()
		h.GetObject(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, "key %q", key)
	}
}

func TestArchiveDeleteObject(t *testing.T) {
	key := "archive/requests/2025-01.jsonl"

	tests := []struct {
		name       string
		caller     *common.Address
		wantStatus int
		wantGone   bool
	}{
		{"owner deletes", &testOwner, http.StatusOK, true},
		{"non-owner forbidden", &testRequester, http.StatusForbidden, false},
		{"unsigned unauthorized", nil, http.StatusUnauthorized, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blobs := &fakeBlobStore{objects: map[string]string{key: "{}\n"}}
			mux := newArchiveMux(blobs)

			req := httptest.NewRequest(http.MethodDelete, "/api/archive/requests/2025-01.jsonl", nil)
			if tc.caller != nil {
				req = asCaller(req, *tc.caller)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantGone {
				require.Equal(t, []string{key}, blobs.deleted)
			} else {
				require.Empty(t, blobs.deleted)
				require.Contains(t, blobs.objects, key)
			}
		})
	}
}
