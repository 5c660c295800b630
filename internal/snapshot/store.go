// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package snapshot captures pre-import images of records about to be
// overwritten and restores them on request. Snapshots are immutable
// after capture and are deleted only by explicit operator action.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/portarius/portarius/internal/artifact"
	"github.com/portarius/portarius/internal/logging"
	"github.com/portarius/portarius/internal/metrics"
	"github.com/portarius/portarius/internal/record"
)

// keyPrefix namespaces snapshot metadata in the Badger store.
const keyPrefix = "snap:"

// ErrNotFound is returned when no snapshot exists for an ID.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the metadata of one captured pre-image set.
type Snapshot struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	EntityTypes []string  `json:"entity_types"`
	RecordCount int       `json:"record_count"`

	// PayloadRef references the stored pre-image payload.
	PayloadRef string `json:"payload_ref"`
}

// RestoreResult reports a best-effort restore. Partial success is
// reported, not hidden.
type RestoreResult struct {
	Restored int      `json:"restored"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// payload is the serialized snapshot body: pre-images grouped by entity
// type.
type payload map[string][]record.Record

// Store persists snapshots: metadata in BadgerDB, payloads in an
// artifact store.
type Store struct {
	db       *badger.DB
	payloads *artifact.Store
}

// Open opens (or creates) a snapshot store. Metadata lives under
// metaPath, payloads in the given artifact store.
func Open(metaPath string, payloads *artifact.Store) (*Store, error) {
	opts := badger.DefaultOptions(metaPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &Store{db: db, payloads: payloads}, nil
}

// OpenInMemory opens an ephemeral snapshot store. Intended for tests.
func OpenInMemory(payloads *artifact.Store) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory snapshot store: %w", err)
	}
	return &Store{db: db, payloads: payloads}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func snapKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Capture stores the pre-images of records about to be overwritten and
// returns the immutable snapshot. Capture happens before the first
// destructive write of an import.
func (s *Store) Capture(ctx context.Context, entityType string, records []record.Record) (*Snapshot, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("nothing to capture")
	}

	body, err := json.Marshal(payload{entityType: records})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot payload: %w", err)
	}

	ref, err := s.payloads.Put(body, "snapshot.json")
	if err != nil {
		return nil, fmt.Errorf("store snapshot payload: %w", err)
	}

	snap := &Snapshot{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		EntityTypes: []string{entityType},
		RecordCount: len(records),
		PayloadRef:  string(ref),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapKey(snap.ID), data)
	})
	if err != nil {
		// Roll back the orphaned payload; the snapshot was never
		// registered.
		s.payloads.Delete(ref) //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("register snapshot: %w", err)
	}

	metrics.SnapshotsCaptured.Inc()
	logging.Ctx(ctx).Info().
		Str("snapshot_id", snap.ID).
		Str("entity_type", entityType).
		Int("records", snap.RecordCount).
		Msg("Pre-import snapshot captured")

	return snap, nil
}

// Get returns the snapshot with the given ID, or ErrNotFound.
func (s *Store) Get(id string) (*Snapshot, error) {
	var snap Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns all snapshots, newest first.
func (s *Store) List() ([]*Snapshot, error) {
	var snaps []*Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var snap Snapshot
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable snapshot record")
				continue
			}
			snaps = append(snaps, &snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// Delete removes a snapshot and its payload. Explicit operator action;
// nothing deletes snapshots automatically.
func (s *Store) Delete(id string) error {
	snap, err := s.Get(id)
	if err != nil {
		return err
	}

	// Payload first: a metadata record pointing at a missing payload is
	// recoverable on retry, an orphaned payload is not discoverable.
	if err := s.payloads.Delete(artifact.Ref(snap.PayloadRef)); err != nil {
		return fmt.Errorf("delete snapshot payload: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapKey(id))
	})
}

// Restore re-applies the captured pre-images through the registered
// adapters, entity type by entity type, best-effort. Records inserted
// (not updated) by the original import are not removed: no pre-image
// exists for them, and the snapshot deliberately does not track row
// creation to stay lightweight.
func (s *Store) Restore(ctx context.Context, id string, registry *record.Registry) (*RestoreResult, error) {
	snap, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	body, err := s.payloads.Get(artifact.Ref(snap.PayloadRef))
	if err != nil {
		return nil, fmt.Errorf("load snapshot payload: %w", err)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse snapshot payload: %w", err)
	}

	result := &RestoreResult{}
	for _, entityType := range snap.EntityTypes {
		adapter, err := registry.Resolve(entityType)
		if err != nil {
			n := len(p[entityType])
			result.Failed += n
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		for _, rec := range p[entityType] {
			if err := adapter.Write(ctx, rec, record.ModeUpdate); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Restored++
		}
	}

	logging.Ctx(ctx).Info().
		Str("snapshot_id", id).
		Int("restored", result.Restored).
		Int("failed", result.Failed).
		Msg("Snapshot restore finished")

	return result, nil
}
