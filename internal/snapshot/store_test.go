// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/portarius/portarius/internal/artifact"
	"github.com/portarius/portarius/internal/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	payloads, err := artifact.NewStore(filepath.Join(t.TempDir(), "snapshots"))
	if err != nil {
		t.Fatalf("payload store: %v", err)
	}

	store, err := OpenInMemory(payloads)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck // test cleanup
	return store
}

func TestCaptureAndGet(t *testing.T) {
	store := newTestStore(t)

	records := []record.Record{
		{"code": "EN", "name": "English"},
		{"code": "DE", "name": "German"},
	}

	snap, err := store.Capture(context.Background(), "language", records)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	if snap.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", snap.RecordCount)
	}
	if len(snap.EntityTypes) != 1 || snap.EntityTypes[0] != "language" {
		t.Errorf("EntityTypes = %v", snap.EntityTypes)
	}

	got, err := store.Get(snap.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PayloadRef != snap.PayloadRef {
		t.Errorf("payload ref mismatch: %s vs %s", got.PayloadRef, snap.PayloadRef)
	}
}

func TestCaptureEmptyRejected(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Capture(context.Background(), "language", nil); err == nil {
		t.Error("expected error capturing nothing")
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Capture(ctx, "language", []record.Record{{"code": "EN"}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	second, err := store.Capture(ctx, "concept", []record.Record{{"id": "c1"}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	snaps, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].ID != second.ID || snaps[1].ID != first.ID {
		t.Errorf("expected newest first, got %s then %s", snaps[0].ID, snaps[1].ID)
	}
}

func TestRestoreReappliesPreImages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	adapter := record.NewMemoryAdapter("language", "code")
	adapter.Seed(record.Record{"code": "EN", "name": "English"})
	registry := record.NewRegistry()
	registry.Register(adapter)

	// Capture the pre-image, then overwrite the record.
	pre, err := adapter.Get(ctx, "EN")
	if err != nil {
		t.Fatalf("get pre-image: %v", err)
	}
	snap, err := store.Capture(ctx, "language", []record.Record{pre})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := adapter.Write(ctx, record.Record{"code": "EN", "name": "Overwritten"}, record.ModeUpdate); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	result, err := store.Restore(ctx, snap.ID, registry)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if result.Restored != 1 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}

	got, err := adapter.Get(ctx, "EN")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["name"] != "English" {
		t.Errorf("pre-image not restored: %v", got)
	}
}

func TestRestoreIsBestEffort(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	adapter := record.NewMemoryAdapter("language", "code")
	adapter.Seed(record.Record{"code": "EN", "name": "English"})
	registry := record.NewRegistry()
	registry.Register(adapter)

	// One restorable pre-image, one whose target no longer exists
	// (update mode fails for it).
	snap, err := store.Capture(ctx, "language", []record.Record{
		{"code": "EN", "name": "English"},
		{"code": "ZZ", "name": "Ghost"},
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	result, err := store.Restore(ctx, snap.ID, registry)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if result.Restored != 1 || result.Failed != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected one error message, got %v", result.Errors)
	}
}

func TestRestoreUnknownEntityType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap, err := store.Capture(ctx, "ghost", []record.Record{{"id": "1"}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	result, err := store.Restore(ctx, snap.ID, record.NewRegistry())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if result.Failed != 1 || result.Restored != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestDeleteRemovesPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap, err := store.Capture(ctx, "language", []record.Record{{"code": "EN"}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	if err := store.Delete(snap.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected snapshot gone, got %v", err)
	}
	if _, err := store.payloads.Get(artifact.Ref(snap.PayloadRef)); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("expected payload gone, got %v", err)
	}
}
