// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package codec

import (
	"bytes"
	"io"

	"github.com/goccy/go-json"

	"github.com/portarius/portarius/internal/record"
)

// JSONCodec encodes records as a top-level JSON array of objects.
// Nested structures are preserved as-is.
type JSONCodec struct{}

// Format implements Codec.
func (c *JSONCodec) Format() Format { return FormatJSON }

// Encode implements Codec.
func (c *JSONCodec) Encode(w io.Writer, records []record.Record) error {
	if records == nil {
		records = []record.Record{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return &FormatError{Format: FormatJSON, Msg: "encode records", Err: err}
	}
	return nil
}

// Decode implements Codec. Non-array top-level values are rejected.
func (c *JSONCodec) Decode(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &FormatError{Format: FormatJSON, Msg: "read input", Err: err}
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, &FormatError{Format: FormatJSON, Msg: "empty input"}
	}
	if trimmed[0] != '[' {
		return nil, &FormatError{Format: FormatJSON, Msg: "top-level value must be an array"}
	}

	var records []record.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &FormatError{Format: FormatJSON, Msg: "parse array", Err: err}
	}

	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{Index: i + 1, Record: rec}
	}
	return rows, nil
}
