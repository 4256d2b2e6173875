// Package sheettest builds xlsx workbooks in memory for tests.
package sheettest

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet; Rows[i] is written to spreadsheet row i+1. A nil
// entry leaves that row untouched.
type Sheet struct {
	Name string
	Rows [][]any
}

// Header returns n placeholder header rows.
func Header(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{"header"}
	}
	return rows
}

// Build writes the sheets into a new workbook and returns its bytes. The
// first sheet replaces excelize's default "Sheet1".
func Build(t testing.TB, sheets ...Sheet) []byte {
	t.Helper()
	return build(t, false, sheets)
}

// BuildDate1904 is Build for a workbook using the 1904 date system.
func BuildDate1904(t testing.TB, sheets ...Sheet) []byte {
	t.Helper()
	return build(t, true, sheets)
}

func build(t testing.TB, date1904 bool, sheets []Sheet) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	if date1904 {
		if err := f.SetWorkbookProps(&excelize.WorkbookPropsOptions{Date1904: &date1904}); err != nil {
			t.Fatalf("set workbook props: %v", err)
		}
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			t.Fatalf("new sheet %q: %v", sh.Name, err)
		}
		for r, cols := range sh.Rows {
			for c, v := range cols {
				if v == nil {
					continue
				}
				axis, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					t.Fatalf("cell name: %v", err)
				}
				if err := f.SetCellValue(sh.Name, axis, v); err != nil {
					t.Fatalf("set %s!%s: %v", sh.Name, axis, err)
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return bytes.Clone(buf.Bytes())
}
