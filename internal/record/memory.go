// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryAdapter is an EntityAdapter backed by an in-memory map. It is
// the reference implementation used in engine tests and local
// development; real adapters live with the business persistence layer.
type MemoryAdapter struct {
	entityType string

	// KeyField is the field used as the duplicate key. Records without
	// it never match an existing record.
	KeyField string

	// Rules is applied by Validate when non-nil.
	Rules Rules

	// SensitiveFields are removed by Anonymize.
	SensitiveFields []string

	mu      sync.RWMutex
	byKey   map[string]Record
	deleted map[string]bool
}

// NewMemoryAdapter creates an empty in-memory adapter for the given
// entity type, keyed by keyField.
func NewMemoryAdapter(entityType, keyField string) *MemoryAdapter {
	return &MemoryAdapter{
		entityType: entityType,
		KeyField:   keyField,
		byKey:      make(map[string]Record),
		deleted:    make(map[string]bool),
	}
}

// Seed inserts records directly, bypassing validation. Test setup
// helper.
func (a *MemoryAdapter) Seed(records ...Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range records {
		if key, ok := a.keyOf(rec); ok {
			a.byKey[key] = rec.Clone()
		}
	}
}

// Len returns the number of stored records.
func (a *MemoryAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byKey)
}

// EntityType implements EntityAdapter.
func (a *MemoryAdapter) EntityType() string { return a.entityType }

// Read implements EntityAdapter. Records are returned in key order so
// exports are deterministic.
func (a *MemoryAdapter) Read(_ context.Context, _ Filters) (Cursor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.byKey))
	for k := range a.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, a.byKey[k].Clone())
	}
	return NewSliceCursor(records), nil
}

// Validate implements EntityAdapter.
func (a *MemoryAdapter) Validate(rec Record) error {
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
func (a *MemoryAdapter) DuplicateKey(rec Record) (string, bool) {
	return a.keyOf(rec)
}

func (a *MemoryAdapter) keyOf(rec Record) (string, bool) {
	if a.KeyField == "" {
		return "", false
	}
	s, ok := OptionalString(rec, a.KeyField)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Exists implements EntityAdapter.
func (a *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byKey[key]
	return ok, nil
}

// Get implements EntityAdapter.
func (a *MemoryAdapter) Get(_ context.Context, key string) (Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.byKey[key]
	if !ok {
		return nil, fmt.Errorf("record not found: %s", key)
	}
	return rec.Clone(), nil
}

// Write implements EntityAdapter.
func (a *MemoryAdapter) Write(_ context.Context, rec Record, mode WriteMode) error {
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
	return nil
}

// Anonymize implements EntityAdapter.
func (a *MemoryAdapter) Anonymize(rec Record) Record {
	if len(a.SensitiveFields) == 0 {
		return rec
	}
	out := rec.Clone()
	for _, f := range a.SensitiveFields {
		delete(out, f)
	}
	return out
}

// MarkDeleted implements the SoftDeletable capability: the record is
// tombstoned and excluded from reads but its key remains known.
func (a *MemoryAdapter) MarkDeleted(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byKey[key]; !ok {
		return fmt.Errorf("record not found: %s", key)
	}
	delete(a.byKey, key)
	a.deleted[key] = true
	return nil
}

// Count implements the Counter capability.
func (a *MemoryAdapter) Count(_ context.Context, _ Filters) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byKey), nil
}
