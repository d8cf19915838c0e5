package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
)

// multipartThreshold is the payload size above which the archiver switches
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// auditPageSize bounds each audit_log query while paging toward the cutoff.
const auditPageSize = 500

// ExecutionArchiveStore is the slice of domain.ExecutionStore the archiver
// needs: time-ranged reads plus the prune step that follows a verified
// upload.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveTarget is the blob surface the archiver writes through: the
// domain.BlobWriter methods plus the existence check used to verify an
// upload before pruning.
type ArchiveTarget interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver implements domain.Archiver: it serializes aged records to JSONL,
// uploads them, verifies the object landed, and only then prunes the source
// rows. Audit entries are archived but never deleted; the log is append-only.
type Archiver struct {
	writer ArchiveTarget
	execs  ExecutionArchiveStore
	audit  domain.AuditStore
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(writer ArchiveTarget, execs ExecutionArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, execs: execs, audit: audit}
}

// ArchiveExecutions uploads all executions started before the cutoff to
// archive/executions/YYYY-MM.jsonl, then deletes them from the store. The
// delete runs only after a HeadObject confirms the upload, so a failed
// upload never loses rows.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.execs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(execs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(execs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, err
	}

	ok, err := a.writer.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions verify: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive executions verify: object %s missing after upload", path)
	}

	deleted, err := a.execs.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions prune: %w", err)
	}

	count := int64(len(execs))
	if err := a.audit.Log(ctx, "archive.executions", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit uploads all audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl. Entries stay in the database.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var aged []domain.AuditEntry
	for offset := 0; ; offset += auditPageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Limit: auditPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		for _, e := range page {
			if e.CreatedAt.Before(before) {
				aged = append(aged, e)
			}
		}
		if len(page) < auditPageSize {
			break
		}
	}
	if len(aged) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(aged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, err
	}

	count := int64(len(aged))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit audit log: %w", err)
	}
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
			return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	return nil
}

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/executions/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
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
