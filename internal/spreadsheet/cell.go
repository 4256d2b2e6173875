package spreadsheet

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the declared type of a spreadsheet cell.
type Kind int

const (
	KindBlank Kind = iota
	KindNumeric
	KindText
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	default:
		return "other"
	}
}

// Cell is a single cell value with its declared kind. The same logical field
// is numeric in some source files and text in others, so both accessors are
// lenient and never fail.
type Cell struct {
	Kind Kind
	Raw  string
	num  float64
}

func BlankCell() Cell { return Cell{Kind: KindBlank} }

func NumericCell(v float64) Cell {
	return Cell{Kind: KindNumeric, Raw: strconv.FormatFloat(v, 'g', -1, 64), num: v}
}

func TextCell(s string) Cell { return Cell{Kind: KindText, Raw: s} }

func OtherCell(raw string) Cell { return Cell{Kind: KindOther, Raw: raw} }

// Number returns the numeric value of the cell. Text cells are parsed, with a
// single decimal comma accepted; anything unparseable, blank or of another
// kind yields nil.
func (c Cell) Number() *float64 {
	switch c.Kind {
	case KindNumeric:
		v := c.num
		return &v
	case KindText:
		v, ok := parseFloat(c.Raw)
		if !ok {
			return nil
		}
		return &v
	default:
		return nil
	}
}

// Text returns the cell as a string. Numbers are formatted with '.' as the
// decimal separator and no exponent, whatever the process locale.
func (c Cell) Text() *string {
	switch c.Kind {
	case KindText:
		s := c.Raw
		return &s
	case KindNumeric:
		s := strconv.FormatFloat(c.num, 'f', -1, 64)
		return &s
	default:
		return nil
	}
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if strings.Count(s, ",") != 1 || strings.Contains(s, ".") {
			return 0, false
		}
		v, err = strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Row is one sheet row. A nil Row means the sheet has no row at that index.
type Row []Cell

// Cell returns the cell at column i, or a blank cell past the end of the row.
func (r Row) Cell(i int) Cell {
	if i < 0 || i >= len(r) {
		return BlankCell()
	}
	return r[i]
}
