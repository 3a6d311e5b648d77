package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apollonlabs/zkoracle/internal/domain"
	"github.com/apollonlabs/zkoracle/internal/server/middleware"
)

// archivePrefix is the object-key namespace the archiver writes under. The
// handler only serves keys inside it, so the audit surface cannot be used to
// read arbitrary bucket contents.
const archivePrefix = "archive/"

// ArchiveHandler serves the cold-storage audit trail: the JSONL objects the
// archiver ships finalized requests into. Reads are public like the rest of
// the ledger's view surface; deletion (retention cleanup) is owner only.
type ArchiveHandler struct {
	blobs   domain.BlobReader
	deleter domain.BlobDeleter
	owner   common.Address
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. owner gates the delete
// endpoint, matching the trusted-solver admin surface.
func NewArchiveHandler(blobs domain.BlobReader, deleter domain.BlobDeleter, owner common.Address, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:   blobs,
		deleter: deleter,
		owner:   owner,
		logger:  logger,
	}
}

// archiveObjectView is the wire representation of one archive object.
type archiveObjectView struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListObjects returns metadata for every object in the audit archive.
// GET /api/archive
func (h *ArchiveHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	infos, err := h.blobs.List(r.Context(), archivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}

	views := make([]archiveObjectView, 0, len(infos))
	for _, info := range infos {
		views = append(views, archiveObjectView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"objects": views})
}

// GetObject streams an archive object body.
// GET /api/archive/{key...}
func (h *ArchiveHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	key, ok := archiveKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid archive key")
		return
	}

	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get archive object failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive object")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteObject removes an archive object past its retention period. Owner
// only.
// DELETE /api/archive/{key...}
func (h *ArchiveHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return
	}
	if caller != h.owner {
		writeError(w, http.StatusForbidden, "owner only")
		return
	}

	key, ok := archiveKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid archive key")
		return
	}

	if err := h.deleter.Delete(r.Context(), key); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: delete archive object failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete archive object")
		return
	}

	h.logger.InfoContext(r.Context(), "archive object deleted",
		slog.String("key", key),
		slog.String("caller", caller.Hex()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"path": key, "removed": "true"})
}

// archiveKey resolves the {key...} path parameter to a full object key under
// archivePrefix, rejecting empty keys and path traversal.
func archiveKey(r *http.Request) (string, bool) {
	key := pathParam(r, "key")
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return archivePrefix + key, true
}
