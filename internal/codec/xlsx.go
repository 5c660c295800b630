// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package codec

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/portarius/portarius/internal/record"
)

// xlsxSheet is the single sheet name used by exports.
const xlsxSheet = "Records"

// XLSXCodec encodes records as a single-sheet spreadsheet whose header
// row is the field list of the encoded records. Cell inlining follows
// the same rules as CSV.
type XLSXCodec struct{}

// Format implements Codec.
func (c *XLSXCodec) Format() Format { return FormatXLSX }

// Encode implements Codec.
func (c *XLSXCodec) Encode(w io.Writer, records []record.Record) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // in-memory workbook

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return &FormatError{Format: FormatXLSX, Msg: "name sheet", Err: err}
	}

	fields := record.Fields(records)
	header := make([]any, len(fields))
	for i, field := range fields {
		header[i] = field
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return &FormatError{Format: FormatXLSX, Msg: "write header", Err: err}
	}

	for rowIdx, rec := range records {
		cells := make([]any, len(fields))
		for i, field := range fields {
			cell, err := encodeCell(rec[field])
			if err != nil {
				return &FormatError{Format: FormatXLSX, Msg: "encode field " + field, Err: err}
			}
			cells[i] = cell
		}

		addr, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return &FormatError{Format: FormatXLSX, Msg: "cell address", Err: err}
		}
		if err := f.SetSheetRow(xlsxSheet, addr, &cells); err != nil {
			return &FormatError{Format: FormatXLSX, Msg: "write row", Err: err}
		}
	}

	if err := f.Write(w); err != nil {
		return &FormatError{Format: FormatXLSX, Msg: "write workbook", Err: err}
	}
	return nil
}

// Decode implements Codec. The first sheet is read; its first row is
// the header and data row indices start at 1.
func (c *XLSXCodec) Decode(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &FormatError{Format: FormatXLSX, Msg: "open workbook", Err: err}
	}
	defer f.Close() //nolint:errcheck // read-only workbook

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &FormatError{Format: FormatXLSX, Msg: "workbook has no sheets"}
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &FormatError{Format: FormatXLSX, Msg: fmt.Sprintf("read sheet %s", sheets[0]), Err: err}
	}
	if len(raw) == 0 {
		return nil, &FormatError{Format: FormatXLSX, Msg: "empty sheet"}
	}

	header := raw[0]
	var rows []Row
	for i, cells := range raw[1:] {
		rec := make(record.Record, len(header))
		for col, field := range header {
			if col >= len(cells) {
				break
			}
			if v := decodeCell(cells[col]); v != nil {
				rec[field] = v
			}
		}
		rows = append(rows, Row{Index: i + 1, Record: rec})
	}

	return rows, nil
}
