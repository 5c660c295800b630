// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package codec

import (
	"strings"

	"github.com/goccy/go-json"
)

// encodeCell renders one record value as a tabular cell. Strings pass
// through unchanged; nil becomes the empty cell; everything else is
// inlined as its JSON encoding.
func encodeCell(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// decodeCell reverses encodeCell for values that look like inlined JSON
// objects or arrays, falling back to the raw string. Empty cells decode
// to absent fields, so the caller skips them.
func decodeCell(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return cell
}
