// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package record

import (
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEntityType is returned when no adapter is registered for a
// requested entity type. It is a caller error, rejected before any job
// is created.
var ErrUnknownEntityType = fmt.Errorf("unknown entity type")

// Registry maps entity-type names to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]EntityAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]EntityAdapter)}
}

// Register adds an adapter under its entity type name, replacing any
// previous registration for the same name.
func (r *Registry) Register(adapter EntityAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.EntityType()] = adapter
}

// Resolve returns the adapter for an entity type, or
// ErrUnknownEntityType.
func (r *Registry) Resolve(entityType string) (EntityAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return adapter, nil
}

// EntityTypes returns the registered entity type names, sorted.
func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
