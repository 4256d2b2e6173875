// Package spreadsheet reads xlsx workbooks into typed cells.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrInvalidWorkbook is returned when a stream cannot be opened as an xlsx workbook.
var ErrInvalidWorkbook = errors.New("invalid workbook")

type Workbook struct {
	f        *excelize.File
	date1904 bool
}

// Open parses r as an xlsx workbook. Any parse failure wraps ErrInvalidWorkbook.
func Open(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkbook, err)
	}
	props, err := f.GetWorkbookProps()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: workbook properties: %w", ErrInvalidWorkbook, err)
	}
	w := &Workbook{f: f}
	if props.Date1904 != nil {
		w.date1904 = *props.Date1904
	}
	return w, nil
}

// Date1904 reports whether serial dates count from 1904-01-01 instead of
// 1900-01-01.
func (w *Workbook) Date1904() bool {
	return w.date1904
}

func (w *Workbook) Close() error {
	return w.f.Close()
}

// Sheets lists sheet names in workbook order.
func (w *Workbook) Sheets() []string {
	return w.f.GetSheetList()
}

// Rows returns every row of the sheet up to the last non-empty one. Indexes
// are zero-based; a row that has no cells is returned as nil.
func (w *Workbook) Rows(sheet string) ([]Row, error) {
	raw, err := w.f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	out := make([]Row, len(raw))
	for i, cols := range raw {
		if len(cols) == 0 {
			continue
		}
		row := make(Row, len(cols))
		for j, v := range cols {
			axis, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, fmt.Errorf("sheet %q row %d: %w", sheet, i, err)
			}
			typ, err := w.f.GetCellType(sheet, axis)
			if err != nil {
				return nil, fmt.Errorf("sheet %q cell %s: %w", sheet, axis, err)
			}
			row[j] = classify(typ, v)
		}
		out[i] = row
	}
	return out, nil
}

// classify maps an excelize cell type and raw value onto a Cell. Number cells
// written without an explicit type come back as CellTypeUnset.
func classify(typ excelize.CellType, raw string) Cell {
	if raw == "" {
		return BlankCell()
	}
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula, excelize.CellTypeDate:
		return TextCell(raw)
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return TextCell(raw)
		}
		return NumericCell(v)
	default:
		return OtherCell(raw)
	}
}
