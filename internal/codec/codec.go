// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package codec implements the exchange-format serializers used by the
// export and import engines: structured JSON, tabular CSV, and XLSX
// spreadsheets.
//
// All codecs are pure transforms over byte streams. Decode output
// carries 1-based row indices (header rows excluded) so job errors
// reference the rows an operator sees in their file.
//
// Tabular formats flatten nested values by inlining them as JSON
// strings in the cell; decode reverses this for cells that look like
// JSON objects or arrays and falls back to the raw string otherwise.
// Scalar non-string values consequently round-trip through tabular
// formats as strings.
package codec

import (
	"fmt"
	"io"
	"strings"

	"github.com/portarius/portarius/internal/record"
)

// Format identifies one supported exchange format.
type Format string

const (
	// FormatJSON is a top-level JSON array of record objects.
	FormatJSON Format = "json"

	// FormatCSV is RFC 4180 CSV with a header row.
	FormatCSV Format = "csv"

	// FormatXLSX is a single-sheet spreadsheet with a header row.
	FormatXLSX Format = "xlsx"
)

// ParseFormat converts a string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", s)
	}
}

// Row is one decoded record annotated with its 1-based source row
// index, excluding header or metadata rows.
type Row struct {
	Index  int
	Record record.Record
}

// Codec serializes and deserializes records for one exchange format.
// Implementations are stateless and safe for concurrent use.
type Codec interface {
	// Format returns the format this codec handles.
	Format() Format

	// Encode writes the records to w.
	Encode(w io.Writer, records []record.Record) error

	// Decode reads all records from r. Malformed input yields a
	// *FormatError.
	Decode(r io.Reader) ([]Row, error)
}

// FormatError reports a malformed input artifact. It always aborts an
// import at the decode step, before any row is processed.
type FormatError struct {
	Format Format
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s format error: %s: %v", e.Format, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s format error: %s", e.Format, e.Msg)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ForFormat returns the codec for a format. Adding a format means
// adding one codec here; the engines never switch on formats
// themselves.
func ForFormat(f Format) (Codec, error) {
	switch f {
	case FormatJSON:
		return &JSONCodec{}, nil
	case FormatCSV:
		return &CSVCodec{}, nil
	case FormatXLSX:
		return &XLSXCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %q", f)
	}
}
