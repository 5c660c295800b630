// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package record defines the structured record model and the entity
// adapter contract through which the migration engines read, validate,
// and write domain entities without knowing their storage details.
package record

import (
	"sort"
)

// Record is a flat-or-nested key/value map representing one domain
// entity. Field names are stable strings defined per entity type; there
// are no positional fields, so exported header rows double as the
// authoritative schema of an export.
type Record map[string]any

// Clone returns a shallow copy of the record. Nested maps and slices
// are shared with the original.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Fields returns the union of field names across records. The first
// record's fields come first in sorted order, followed by any fields
// only later records carry, so tabular headers stay stable for
// homogeneous data sets.
func Fields(records []Record) []string {
	if len(records) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var fields []string

	first := make([]string, 0, len(records[0]))
	for k := range records[0] {
		first = append(first, k)
	}
	sort.Strings(first)
	for _, k := range first {
		seen[k] = true
		fields = append(fields, k)
	}

	var extra []string
	for _, r := range records[1:] {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)

	return append(fields, extra...)
}
