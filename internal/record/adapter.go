// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package record

import (
	"context"
	"fmt"
	"io"
)

// WriteMode selects how an adapter persists a record.
type WriteMode string

const (
	// ModeInsert creates a new record.
	ModeInsert WriteMode = "insert"

	// ModeUpdate overwrites the record identified by its duplicate key.
	ModeUpdate WriteMode = "update"
)

// Filters carries adapter-specific selection criteria (date range,
// tenant, language, ...). The engines treat it as opaque.
type Filters map[string]any

// Cursor is a finite, forward-only stream of records. Each Read call on
// an adapter produces a fresh cursor; cursors are not restartable.
type Cursor interface {
	// Next returns the next record, or io.EOF when the stream is
	// exhausted.
	Next() (Record, error)

	// Close releases resources held by the cursor.
	Close() error
}

// ValidationError reports a per-record validation failure. It is
// recorded as row data in job errors, never propagated as a job-level
// failure.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("field %q: %s", e.Field, e.Msg)
}

// EntityAdapter bridges one entity type to the underlying repository.
// Implementations live with the business persistence layer and are
// registered by name.
type EntityAdapter interface {
	// EntityType returns the stable name this adapter is registered as.
	EntityType() string

	// Read streams records matching the filters. The cursor is finite
	// and not restartable.
	Read(ctx context.Context, filters Filters) (Cursor, error)

	// Validate checks one record. A *ValidationError marks the row as
	// invalid without aborting the job.
	Validate(rec Record) error

	// DuplicateKey extracts the identity key of a record. ok=false
	// means the record never matches an existing one and is always
	// inserted.
	DuplicateKey(rec Record) (key string, ok bool)

	// Exists reports whether a record with the given duplicate key is
	// already present in the repository.
	Exists(ctx context.Context, key string) (bool, error)

	// Get fetches the current record for a duplicate key, used to
	// capture pre-images before an update.
	Get(ctx context.Context, key string) (Record, error)

	// Write persists one record in the given mode.
	Write(ctx context.Context, rec Record, mode WriteMode) error

	// Anonymize strips or masks sensitive fields. Adapters for entity
	// types without sensitive fields return the record unchanged.
	Anonymize(rec Record) Record
}

// Counter is an optional adapter capability that reports how many
// records match a filter set without streaming them.
type Counter interface {
	Count(ctx context.Context, filters Filters) (int, error)
}

// SoftDeletable is an optional adapter capability for entity types
// whose records are tombstoned instead of removed. Resolved via type
// assertion on the adapter.
type SoftDeletable interface {
	MarkDeleted(ctx context.Context, key string) error
}

// SliceCursor adapts an in-memory record slice to the Cursor interface.
type SliceCursor struct {
	records []Record
	pos     int
}

// NewSliceCursor returns a cursor over the given records.
func NewSliceCursor(records []Record) *SliceCursor {
	return &SliceCursor{records: records}
}

// Next implements Cursor.
func (c *SliceCursor) Next() (Record, error) {
	if c.pos >= len(c.records) {
		return nil, io.EOF
	}
	rec := c.records[c.pos]
	c.pos++
	return rec, nil
}

// Close implements Cursor.
func (c *SliceCursor) Close() error { return nil }
