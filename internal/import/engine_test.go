// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package dataimport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/portarius/portarius/internal/artifact"
	"github.com/portarius/portarius/internal/codec"
	"github.com/portarius/portarius/internal/job"
	"github.com/portarius/portarius/internal/record"
	"github.com/portarius/portarius/internal/snapshot"
)

// testEnv bundles the stores an import engine needs.
type testEnv struct {
	registry  *record.Registry
	jobs      *job.Store
	artifacts *artifact.Store
	snapshots *snapshot.Store
	adapter   *record.MemoryAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	jobs, err := job.OpenInMemory()
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { jobs.Close() }) //nolint:errcheck // test cleanup

	artifacts, err := artifact.NewStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	payloads, err := artifact.NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatalf("open snapshot payload store: %v", err)
	}
	snapshots, err := snapshot.OpenInMemory(payloads)
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}
	t.Cleanup(func() { snapshots.Close() }) //nolint:errcheck // test cleanup

	adapter := record.NewMemoryAdapter("language", "code")
	registry := record.NewRegistry()
	registry.Register(adapter)

	return &testEnv{
		registry:  registry,
		jobs:      jobs,
		artifacts: artifacts,
		snapshots: snapshots,
		adapter:   adapter,
	}
}

func (e *testEnv) engine() *Engine {
	return NewEngine(e.registry, e.jobs, e.artifacts, e.snapshots)
}

// putJSON encodes records as a JSON artifact and returns its ref.
func (e *testEnv) putJSON(t *testing.T, records ...record.Record) artifact.Ref {
	t.Helper()

	c, err := codec.ForFormat(codec.FormatJSON)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	var buf bytes.Buffer
	if err := c.Encode(&buf, records); err != nil {
		t.Fatalf("encode: %v", err)
	}
	ref, err := e.artifacts.Put(buf.Bytes(), "json")
	if err != nil {
		t.Fatalf("put artifact: %v", err)
	}
	return ref
}

func jsonRequest(ref artifact.Ref) Request {
	return Request{
		EntityType:  "language",
		Format:      codec.FormatJSON,
		ArtifactRef: ref,
	}
}

func TestRunImportInsertsAll(t *testing.T) {
	env := newTestEnv(t)
	ref := env.putJSON(t,
		record.Record{"code": "DE", "name": "German"},
		record.Record{"code": "EN", "name": "English"},
	)

	j, err := env.engine().Run(context.Background(), jsonRequest(ref))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if j.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
	if j.TotalCount != 2 || j.ProcessedCount != 2 || j.ErrorCount != 0 {
		t.Errorf("counters: total=%d processed=%d errors=%d", j.TotalCount, j.ProcessedCount, j.ErrorCount)
	}
	if env.adapter.Len() != 2 {
		t.Errorf("stored records = %d, want 2", env.adapter.Len())
	}
	if j.SnapshotID != "" {
		t.Errorf("insert-only import should not capture a snapshot, got %q", j.SnapshotID)
	}
}

func TestRunImportPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	// Row 3 is missing the key field and fails validation; the other
	// four go through.
	ref := env.putJSON(t,
		record.Record{"code": "DE", "name": "German"},
		record.Record{"code": "EN", "name": "English"},
		record.Record{"name": "Nameless"},
		record.Record{"code": "JA", "name": "Japanese"},
		record.Record{"code": "FR", "name": "French"},
	)

	j, err := env.engine().Run(context.Background(), jsonRequest(ref))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if j.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
	if j.TotalCount != 5 || j.ProcessedCount != 4 || j.ErrorCount != 1 {
		t.Errorf("counters: total=%d processed=%d errors=%d", j.TotalCount, j.ProcessedCount, j.ErrorCount)
	}
	if len(j.Errors) != 1 || j.Errors[0].RowIndex != 3 {
		t.Errorf("errors = %+v, want one entry for row 3", j.Errors)
	}
	if env.adapter.Len() != 4 {
		t.Errorf("stored records = %d, want 4", env.adapter.Len())
	}
}

func TestRunImportSkipDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.Seed(record.Record{"code": "DE", "name": "German"})
	ref := env.putJSON(t,
		record.Record{"code": "DE", "name": "Deutsch"},
		record.Record{"code": "EN", "name": "English"},
	)

	req := jsonRequest(ref)
	req.OnDuplicate = PolicySkip
	j, err := env.engine().Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if j.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
	// The duplicate is neither an error nor a write.
	if j.ProcessedCount != 1 || j.ErrorCount != 0 {
		t.Errorf("counters: processed=%d errors=%d", j.ProcessedCount, j.ErrorCount)
	}

	existing, err := env.adapter.Get(context.Background(), "DE")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if existing["name"] != "German" {
		t.Errorf("existing record changed under skip policy: %v", existing)
	}
}

func TestRunImportUpdateCapturesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.Seed(record.Record{"code": "DE", "name": "German"})
	ref := env.putJSON(t, record.Record{"code": "DE", "name": "Deutsch"})

	req := jsonRequest(ref)
	req.OnDuplicate = PolicyUpdate
	j, err := env.engine().Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if j.Status != job.StatusCompleted || j.ProcessedCount != 1 {
		t.Fatalf("job = %+v", j)
	}
	if j.SnapshotID == "" {
		t.Fatal("update import recorded no snapshot")
	}

	updated, err := env.adapter.Get(context.Background(), "DE")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated["name"] != "Deutsch" {
		t.Errorf("record not updated: %v", updated)
	}

	// Rolling the snapshot back restores the pre-image.
	res, err := env.snapshots.Restore(context.Background(), j.SnapshotID, env.registry)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.Restored != 1 || res.Failed != 0 {
		t.Fatalf("restore result = %+v", res)
	}
	restored, err := env.adapter.Get(context.Background(), "DE")
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if restored["name"] != "German" {
		t.Errorf("pre-image not restored: %v", restored)
	}
}

func TestRunImportFailPolicyAbortsBeforeWrites(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.Seed(record.Record{"code": "DE", "name": "German"})
	ref := env.putJSON(t,
		record.Record{"code": "EN", "name": "English"},
		record.Record{"code": "DE", "name": "Deutsch"},
	)

	req := jsonRequest(ref)
	req.OnDuplicate = PolicyFail
	j, err := env.engine().Run(context.Background(), req)
	if !errors.Is(err, ErrDuplicateConflict) {
		t.Fatalf("err = %v, want ErrDuplicateConflict", err)
	}

	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	// The conflict on row 2 must prevent the write of row 1 as well.
	if env.adapter.Len() != 1 {
		t.Errorf("stored records = %d, want the 1 seeded record only", env.adapter.Len())
	}
	if j.ProcessedCount != 0 {
		t.Errorf("processed = %d, want 0", j.ProcessedCount)
	}
}

func TestRunImportValidateOnly(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.Seed(record.Record{"code": "DE", "name": "German"})
	ref := env.putJSON(t,
		record.Record{"code": "DE", "name": "Deutsch"},
		record.Record{"code": "EN", "name": "English"},
		record.Record{"name": "Nameless"},
	)

	req := jsonRequest(ref)
	req.ValidateOnly = true
	j, err := env.engine().Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if j.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
	// One invalid row, one skipped duplicate, one would-be insert.
	if j.TotalCount != 3 || j.ProcessedCount != 1 || j.ErrorCount != 1 {
		t.Errorf("counters: total=%d processed=%d errors=%d", j.TotalCount, j.ProcessedCount, j.ErrorCount)
	}
	if env.adapter.Len() != 1 {
		t.Errorf("dry run wrote records: %d stored", env.adapter.Len())
	}
	if j.SnapshotID != "" {
		t.Errorf("dry run captured a snapshot: %q", j.SnapshotID)
	}
}

func TestRunImportMalformedArtifact(t *testing.T) {
	env := newTestEnv(t)
	ref, err := env.artifacts.Put([]byte("{not json"), "json")
	if err != nil {
		t.Fatalf("put artifact: %v", err)
	}

	j, err := env.engine().Run(context.Background(), jsonRequest(ref))
	if err == nil {
		t.Fatal("expected decode error")
	}

	var fe *codec.FormatError
	if !errors.As(err, &fe) {
		t.Errorf("err = %v, want *codec.FormatError", err)
	}
	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if env.adapter.Len() != 0 {
		t.Errorf("malformed artifact wrote records: %d stored", env.adapter.Len())
	}
}

func TestRunImportMissingArtifact(t *testing.T) {
	env := newTestEnv(t)

	j, err := env.engine().Run(context.Background(), jsonRequest("no-such-ref.json"))
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("err = %v, want artifact.ErrNotFound", err)
	}
	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
}

func TestRunImportUnknownEntityType(t *testing.T) {
	env := newTestEnv(t)
	ref := env.putJSON(t, record.Record{"code": "DE"})

	req := jsonRequest(ref)
	req.EntityType = "nonexistent"
	if _, err := env.engine().Run(context.Background(), req); !errors.Is(err, record.ErrUnknownEntityType) {
		t.Fatalf("err = %v, want ErrUnknownEntityType", err)
	}

	// Rejection happens before job creation.
	jobs, err := env.jobs.List(job.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs created = %d, want 0", len(jobs))
	}
}

func TestRunImportRejectsBadPolicy(t *testing.T) {
	env := newTestEnv(t)
	ref := env.putJSON(t, record.Record{"code": "DE"})

	req := jsonRequest(ref)
	req.OnDuplicate = DuplicatePolicy("merge")
	if _, err := env.engine().Run(context.Background(), req); err == nil {
		t.Fatal("expected policy error")
	}
}

// rejectingAdapter fails every write, for exercising the all-writes-
// failed terminal status.
type rejectingAdapter struct {
	*record.MemoryAdapter
}

func (a *rejectingAdapter) Write(_ context.Context, rec record.Record, _ record.WriteMode) error {
	return fmt.Errorf("constraint violation on %v", rec["code"])
}

func TestRunImportAllWritesFailed(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(&rejectingAdapter{record.NewMemoryAdapter("language", "code")})
	ref := env.putJSON(t,
		record.Record{"code": "DE", "name": "German"},
		record.Record{"code": "EN", "name": "English"},
	)

	j, err := env.engine().Run(context.Background(), jsonRequest(ref))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Every attempted write failed, so the job as a whole failed.
	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.ProcessedCount != 0 || j.ErrorCount != 2 {
		t.Errorf("counters: processed=%d errors=%d", j.ProcessedCount, j.ErrorCount)
	}
	for _, re := range j.Errors {
		if !strings.Contains(re.Message, "constraint violation") {
			t.Errorf("unexpected row error: %+v", re)
		}
	}
}

func TestRunImportCanceledContext(t *testing.T) {
	env := newTestEnv(t)
	ref := env.putJSON(t, record.Record{"code": "DE", "name": "German"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j, err := env.engine().Run(ctx, jsonRequest(ref))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if j.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if env.adapter.Len() != 0 {
		t.Errorf("canceled import wrote records: %d stored", env.adapter.Len())
	}
}
