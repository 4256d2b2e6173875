package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"weather-archive-server/internal/modules/weather/types"
	"weather-archive-server/internal/spreadsheet"
)

// HeaderRows is the number of leading rows in every sheet that carry titles
// and units rather than data.
const HeaderRows = 5

const (
	colDate = iota
	colTime
	colTemperature
	colAirHumidity
	colDewPoint
	colAtmPressure
	colAirDirection
	colAirSpeed
	colCloudiness
	colH
	colVV
	colWeatherEvents
)

// ErrRowFormat marks a row whose date or time cell cannot be interpreted.
var ErrRowFormat = errors.New("row format")

// RowError locates a rejected row. Row is the zero-based sheet row index.
type RowError struct {
	File  string
	Sheet string
	Row   int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s/%s row %d: %v", e.File, e.Sheet, e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var dateLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02.01.06",
	time.RFC3339,
}

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04:05 PM",
	time.RFC3339,
}

// IsBlank reports whether the row has no data at all.
func IsBlank(row spreadsheet.Row) bool {
	for _, c := range row {
		if c.Kind != spreadsheet.KindBlank {
			return false
		}
	}
	return true
}

// NormalizeRow builds an Observation from the fixed 12-column layout. The date
// and time cells are required; every other cell degrades to nil. date1904
// selects the workbook's 1904 date system for serial dates.
func NormalizeRow(row spreadsheet.Row, date1904 bool) (types.Observation, error) {
	dateText := row.Cell(colDate).Text()
	if dateText == nil {
		return types.Observation{}, fmt.Errorf("%w: date cell is empty", ErrRowFormat)
	}
	y, m, d, err := parseDate(*dateText, date1904)
	if err != nil {
		return types.Observation{}, err
	}

	timeText := row.Cell(colTime).Text()
	if timeText == nil {
		return types.Observation{}, fmt.Errorf("%w: time cell is empty", ErrRowFormat)
	}
	hh, mm, ss, err := parseClock(*timeText)
	if err != nil {
		return types.Observation{}, err
	}

	return types.Observation{
		Timestamp:     time.Date(y, m, d, hh, mm, ss, 0, time.UTC),
		Temperature:   row.Cell(colTemperature).Number(),
		AirHumidity:   row.Cell(colAirHumidity).Number(),
		DewPoint:      row.Cell(colDewPoint).Number(),
		AtmPressure:   row.Cell(colAtmPressure).Number(),
		AirDirection:  row.Cell(colAirDirection).Text(),
		AirSpeed:      row.Cell(colAirSpeed).Number(),
		Cloudiness:    row.Cell(colCloudiness).Number(),
		H:             row.Cell(colH).Number(),
		VV:            row.Cell(colVV).Number(),
		WeatherEvents: row.Cell(colWeatherEvents).Text(),
	}, nil
}

// parseDate accepts the textual layouts seen in the archive files and Excel
// date serials in either workbook date system. A trailing time part is
// ignored.
func parseDate(s string, date1904 bool) (int, time.Month, int, error) {
	s = strings.TrimSpace(s)
	if t, ok := parseLayouts(s, dateLayouts); ok {
		y, m, d := t.Date()
		return y, m, d, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 1 && !math.IsInf(v, 0) {
		if t, err := excelize.ExcelDateToTime(v, date1904); err == nil {
			y, m, d := t.Date()
			return y, m, d, nil
		}
	}
	if fields := strings.Fields(s); len(fields) > 1 {
		if t, ok := parseLayouts(fields[0], dateLayouts); ok {
			y, m, d := t.Date()
			return y, m, d, nil
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: date %q", ErrRowFormat, s)
}

// parseClock accepts wall clock layouts, Excel day fractions and values with
// a leading date part such as "1899-12-31 15:00:00". A number is a time only
// when it is a fraction below one day or a date serial with a fractional
// part; a bare integer such as "12" is rejected.
func parseClock(s string) (int, int, int, error) {
	s = strings.TrimSpace(s)
	if t, ok := parseLayouts(s, clockLayouts); ok {
		hh, mm, ss := t.Clock()
		return hh, mm, ss, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) || (v >= 1 && !strings.Contains(s, ".")) {
			return 0, 0, 0, fmt.Errorf("%w: time %q", ErrRowFormat, s)
		}
		_, frac := math.Modf(v)
		secs := int(math.Round(frac*86400)) % 86400
		return secs / 3600, secs % 3600 / 60, secs % 60, nil
	}
	if fields := strings.Fields(s); len(fields) > 1 {
		if _, _, _, err := parseDate(fields[0], false); err == nil {
			if t, ok := parseLayouts(strings.Join(fields[1:], " "), clockLayouts); ok {
				hh, mm, ss := t.Clock()
				return hh, mm, ss, nil
			}
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: time %q", ErrRowFormat, s)
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
