package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
)

type fakeTarget struct {
	objects    map[string][]byte
	multiparts int
	failExists bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{objects: map[string][]byte{}}
}

func (f *fakeTarget) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = buf
	return nil
}

func (f *fakeTarget) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	f.multiparts++
	return f.Put(context.Background(), path, data, "")
}

func (f *fakeTarget) Exists(_ context.Context, path string) (bool, error) {
	if f.failExists {
		return false, errors.New("head failed")
	}
	_, ok := f.objects[path]
	return ok, nil
}

type fakeExecStore struct {
	execs   []domain.Execution
	deleted int64
}

func (f *fakeExecStore) ListBefore(_ context.Context, before time.Time) ([]domain.Execution, error) {
	var out []domain.Execution
	for _, e := range f.execs {
		if e.StartedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExecStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.Execution
	for _, e := range f.execs {
		if e.StartedAt.Before(before) {
			f.deleted++
		} else {
			kept = append(kept, e)
		}
	}
	f.execs = kept
	return f.deleted, nil
}

type fakeAuditStore struct {
	entries []domain.AuditEntry
	logged  []string
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.logged = append(f.logged, event)
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if opts.Offset >= len(f.entries) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(f.entries) {
		end = len(f.entries)
	}
	return f.entries[opts.Offset:end], nil
}

func execAt(id string, started time.Time) domain.Execution {
	return domain.Execution{
		ID:         id,
		MarketID:   "mkt-1",
		PriceA:     0.45,
		PriceB:     0.48,
		Size:       10,
		FillStatus: domain.FillStatusBoth,
		StartedAt:  started,
	}
}

func TestArchiveExecutionsUploadsThenPrunes(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeExecStore{execs: []domain.Execution{
		execAt("old-1", cutoff.Add(-48*time.Hour)),
		execAt("old-2", cutoff.Add(-24*time.Hour)),
		execAt("new-1", cutoff.Add(time.Hour)),
	}}
	target := newFakeTarget()
	audit := &fakeAuditStore{}

	arch := NewArchiver(target, store, audit)
	count, err := arch.ArchiveExecutions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveExecutions: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d want 2", count)
	}

	body, ok := target.objects["archive/executions/2026-08.jsonl"]
	if !ok {
		t.Fatalf("archive object missing, have %v", target.objects)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("jsonl lines=%d want 2", len(lines))
	}
	if !bytes.Contains(body, []byte("old-1")) || !bytes.Contains(body, []byte("old-2")) {
		t.Fatalf("archive body missing records: %s", body)
	}

	if len(store.execs) != 1 || store.execs[0].ID != "new-1" {
		t.Fatalf("prune kept %v, want only new-1", store.execs)
	}
	if len(audit.logged) != 1 || audit.logged[0] != "archive.executions" {
		t.Fatalf("audit events=%v", audit.logged)
	}
}

func TestArchiveExecutionsNothingToArchive(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeExecStore{execs: []domain.Execution{execAt("new-1", cutoff.Add(time.Hour))}}
	target := newFakeTarget()
	audit := &fakeAuditStore{}

	count, err := NewArchiver(target, store, audit).ArchiveExecutions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveExecutions: %v", err)
	}
	if count != 0 {
		t.Fatalf("count=%d want 0", count)
	}
	if len(target.objects) != 0 {
		t.Fatalf("unexpected upload: %v", target.objects)
	}
	if len(audit.logged) != 0 {
		t.Fatalf("unexpected audit events: %v", audit.logged)
	}
}

func TestArchiveExecutionsVerifyFailureKeepsRows(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeExecStore{execs: []domain.Execution{execAt("old-1", cutoff.Add(-time.Hour))}}
	target := newFakeTarget()
	target.failExists = true
	audit := &fakeAuditStore{}

	_, err := NewArchiver(target, store, audit).ArchiveExecutions(context.Background(), cutoff)
	if err == nil {
		t.Fatal("expected verify error")
	}
	if len(store.execs) != 1 {
		t.Fatalf("rows pruned despite failed verify: %v", store.execs)
	}
}

func TestArchiveAuditPagesAndFilters(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	audit := &fakeAuditStore{}
	for i := 0; i < auditPageSize+10; i++ {
		created := cutoff.Add(-time.Duration(i+1) * time.Minute)
		if i%3 == 0 {
			created = cutoff.Add(time.Duration(i+1) * time.Minute)
		}
		audit.entries = append(audit.entries, domain.AuditEntry{
			ID:        int64(i),
			Event:     "risk.record",
			CreatedAt: created,
		})
	}
	target := newFakeTarget()

	count, err := NewArchiver(target, &fakeExecStore{}, audit).ArchiveAudit(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveAudit: %v", err)
	}

	var wantAged int64
	for _, e := range audit.entries {
		if e.CreatedAt.Before(cutoff) {
			wantAged++
		}
	}
	if count != wantAged {
		t.Fatalf("count=%d want %d", count, wantAged)
	}
	if _, ok := target.objects["archive/audit/2026-08.jsonl"]; !ok {
		t.Fatalf("audit archive missing, have %v", target.objects)
	}
	if audit.logged[len(audit.logged)-1] != "archive.audit" {
		t.Fatalf("audit events=%v", audit.logged)
	}
}
