// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package codec

import (
	"encoding/csv"
	"io"

	"github.com/portarius/portarius/internal/record"
)

// CSVCodec encodes records as RFC 4180 CSV. The header row is the field
// list of the encoded records; nested values are inlined as JSON
// strings per the package rules.
type CSVCodec struct{}

// Format implements Codec.
func (c *CSVCodec) Format() Format { return FormatCSV }

// Encode implements Codec.
func (c *CSVCodec) Encode(w io.Writer, records []record.Record) error {
	cw := csv.NewWriter(w)

	fields := record.Fields(records)
	if err := cw.Write(fields); err != nil {
		return &FormatError{Format: FormatCSV, Msg: "write header", Err: err}
	}

	row := make([]string, len(fields))
	for _, rec := range records {
		for i, field := range fields {
			cell, err := encodeCell(rec[field])
			if err != nil {
				return &FormatError{Format: FormatCSV, Msg: "encode field " + field, Err: err}
			}
			row[i] = cell
		}
		if err := cw.Write(row); err != nil {
			return &FormatError{Format: FormatCSV, Msg: "write row", Err: err}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return &FormatError{Format: FormatCSV, Msg: "flush", Err: err}
	}
	return nil
}

// Decode implements Codec. Row indices are 1-based and exclude the
// header row.
func (c *CSVCodec) Decode(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &FormatError{Format: FormatCSV, Msg: "empty input"}
	}
	if err != nil {
		return nil, &FormatError{Format: FormatCSV, Msg: "read header", Err: err}
	}

	var rows []Row
	for index := 1; ; index++ {
		raw, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Format: FormatCSV, Msg: "read row", Err: err}
		}

		rec := make(record.Record, len(header))
		for i, field := range header {
			if i >= len(raw) {
				break
			}
			if v := decodeCell(raw[i]); v != nil {
				rec[field] = v
			}
		}
		rows = append(rows, Row{Index: index, Record: rec})
	}

	return rows, nil
}
