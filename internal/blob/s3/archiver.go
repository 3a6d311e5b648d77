package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// archiveBatchSize is how many finalized requests are pulled from the store
// per page during an archive run.
const archiveBatchSize = 500

// multipartThreshold is the serialized size above which an archive object is
// uploaded in parts instead of one PutObject call.
const multipartThreshold int64 = 64 * 1024 * 1024

// multipartWriter is the optional upload path for oversized archive objects.
// The S3 Writer in this package implements it.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// RequestArchiveStore provides read access to finalized ledger entries for
// archival. The Postgres request store satisfies it; the archiver only needs
// this one query, not the full store interface.
type RequestArchiveStore interface {
	ListFinalizedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.PredictionRequest, error)
}

// ArchiveImpl implements domain.Archiver by paging finalized requests out of
// the ledger store, serializing them to JSONL, and uploading the result to
// object storage.
//
// The ledger itself never deletes entries; the archive is a cold,
// independently-auditable copy of every finalized request and its result.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	requests RequestArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, requests RequestArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		requests: requests,
	}
}

// archivedRequest is the JSONL record written per finalized request.
type archivedRequest struct {
	ID          uint64     `json:"id"`
	Requester   string     `json:"requester"`
	Asset       string     `json:"asset"`
	Timeframe   string     `json:"timeframe"`
	Deposit     string     `json:"deposit"`
	ZKRequired  bool       `json:"zk_required"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	FulfilledBy *string    `json:"fulfilled_by,omitempty"`
	ResultPrice *uint64    `json:"result_price,omitempty"`
	ZKVerified  *bool      `json:"zk_verified,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// ArchiveFinalized uploads all requests finalized before the cutoff as a
// JSONL object at archive/requests/YYYY-MM.jsonl and returns how many were
// archived.
func (a *ArchiveImpl) ArchiveFinalized(ctx context.Context, before time.Time) (int64, error) {
	var records []archivedRequest

	for offset := 0; ; offset += archiveBatchSize {
		page, err := a.requests.ListFinalizedBefore(ctx, before, domain.ListOpts{
			Limit:  archiveBatchSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive finalized query: %w", err)
		}
		for _, req := range page {
			records = append(records, toArchived(req))
		}
		if len(page) < archiveBatchSize {
			break
		}
	}

	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive finalized marshal: %w", err)
	}

	path := archivePath("requests", before)
	if mp, ok := a.writer.(multipartWriter); ok && int64(len(buf)) >= multipartThreshold {
		err = mp.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive finalized upload: %w", err)
	}

	return int64(len(records)), nil
}

func toArchived(req domain.PredictionRequest) archivedRequest {
	rec := archivedRequest{
		ID:          req.ID,
		Requester:   req.Requester.Hex(),
		Asset:       req.Asset,
		Timeframe:   string(req.Timeframe),
		Deposit:     req.Deposit.String(),
		ZKRequired:  req.ZKRequired,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
		ResultPrice: req.ResultPrice,
		ZKVerified:  req.ZKVerified,
		FinalizedAt: req.FinalizedAt,
	}
	if req.FulfilledBy != nil {
		s := req.FulfilledBy.Hex()
		rec.FulfilledBy = &s
	}
	return rec
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/requests/2026-08.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
