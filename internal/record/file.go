// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
)

// FileAdapter is an EntityAdapter persisting records to one JSON file
// per entity type. It backs the standalone CLI, where no external
// repository is wired in; embedding applications register their own
// adapters instead.
type FileAdapter struct {
	entityType string
	path       string

	// KeyField is the field used as the duplicate key.
	KeyField string

	// Rules is applied by Validate when non-nil.
	Rules Rules

	// SensitiveFields are removed by Anonymize.
	SensitiveFields []string

	mu    sync.RWMutex
	byKey map[string]Record
}

// NewFileAdapter loads (or initializes) the adapter's backing file.
func NewFileAdapter(path, entityType, keyField string) (*FileAdapter, error) {
	a := &FileAdapter{
		entityType: entityType,
		path:       path,
		KeyField:   keyField,
		byKey:      make(map[string]Record),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s records: %w", entityType, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s records: %w", entityType, err)
	}
	for _, rec := range records {
		if key, ok := a.keyOf(rec); ok {
			a.byKey[key] = rec
		}
	}
	return a, nil
}

// EntityType implements EntityAdapter.
func (a *FileAdapter) EntityType() string { return a.entityType }

// Len returns the number of stored records.
func (a *FileAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byKey)
}

func (a *FileAdapter) keyOf(rec Record) (string, bool) {
	if a.KeyField == "" {
		return "", false
	}
	s, ok := OptionalString(rec, a.KeyField)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func (a *FileAdapter) sortedRecordsLocked() []Record {
	keys := make([]string, 0, len(a.byKey))
	for k := range a.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, a.byKey[k].Clone())
	}
	return records
}

// Read implements EntityAdapter. Records come back in key order.
func (a *FileAdapter) Read(_ context.Context, _ Filters) (Cursor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return NewSliceCursor(a.sortedRecordsLocked()), nil
}

// Validate implements EntityAdapter.
func (a *FileAdapter) Validate(rec Record) error {
	if a.Rules != nil {
		return ValidateRules(rec, a.Rules)
	}
	if a.KeyField != "" {
		if _, err := RequireString(rec, a.KeyField); err != nil {
			return err
		}
	}
	return nil
}

// DuplicateKey implements EntityAdapter.
func (a *FileAdapter) DuplicateKey(rec Record) (string, bool) {
	return a.keyOf(rec)
}

// Exists implements EntityAdapter.
func (a *FileAdapter) Exists(_ context.Context, key string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byKey[key]
	return ok, nil
}

// Get implements EntityAdapter.
func (a *FileAdapter) Get(_ context.Context, key string) (Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.byKey[key]
	if !ok {
		return nil, fmt.Errorf("record not found: %s", key)
	}
	return rec.Clone(), nil
}

// Write implements EntityAdapter, persisting through to the backing
// file on every successful write.
func (a *FileAdapter) Write(_ context.Context, rec Record, mode WriteMode) error {
	key, ok := a.keyOf(rec)
	if !ok {
		return fmt.Errorf("record has no %q key", a.KeyField)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, exists := a.byKey[key]
	switch mode {
	case ModeInsert:
		if exists {
			return fmt.Errorf("insert conflict on key %s", key)
		}
	case ModeUpdate:
		if !exists {
			return fmt.Errorf("update target missing for key %s", key)
		}
	default:
		return fmt.Errorf("unsupported write mode: %s", mode)
	}

	a.byKey[key] = rec.Clone()
	return a.saveLocked()
}

// Anonymize implements EntityAdapter.
func (a *FileAdapter) Anonymize(rec Record) Record {
	if len(a.SensitiveFields) == 0 {
		return rec
	}
	out := rec.Clone()
	for _, f := range a.SensitiveFields {
		delete(out, f)
	}
	return out
}

// Count implements the Counter capability.
func (a *FileAdapter) Count(_ context.Context, _ Filters) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byKey), nil
}

// saveLocked writes the record set under a temp name and renames it
// into place. Callers hold mu.
func (a *FileAdapter) saveLocked() error {
	data, err := json.MarshalIndent(a.sortedRecordsLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s records: %w", a.entityType, err)
	}

	dir := filepath.Dir(a.path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s records: %w", a.entityType, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck // write error wins
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("write %s records: %w", a.entityType, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("write %s records: %w", a.entityType, err)
	}
	if err := os.Rename(tmpName, a.path); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("write %s records: %w", a.entityType, err)
	}
	return nil
}
