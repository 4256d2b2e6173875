package controller

import (
	"errors"
	"net/http"
	"strconv"

	"weather-archive-server/internal/modules/weather/archive"
	"weather-archive-server/internal/modules/weather/types"
)

// parseArchiveQuery reads year, month, page and pageSize. Absent values are
// left for archive.Normalize to default.
func parseArchiveQuery(r *http.Request) (types.Filter, error) {
	q := r.URL.Query()
	var f types.Filter

	if s := q.Get("year"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return types.Filter{}, errors.New("invalid 'year' (expected integer)")
		}
		f.Year = &n
	}
	if s := q.Get("month"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return types.Filter{}, errors.New("invalid 'month' (expected integer)")
		}
		if n < 1 || n > 12 {
			return types.Filter{}, errors.New("'month' must be between 1 and 12")
		}
		f.Month = &n
	}
	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return types.Filter{}, errors.New("invalid 'page' (expected integer)")
		}
		if n < 1 {
			return types.Filter{}, errors.New("'page' must be >= 1")
		}
		f.Page = n
	}
	if s := q.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return types.Filter{}, errors.New("invalid 'pageSize' (expected integer)")
		}
		if n <= 0 {
			return types.Filter{}, errors.New("'pageSize' must be > 0")
		}
		if n > archive.MaxPageSize {
			return types.Filter{}, errors.New("'pageSize' must be <= " + strconv.Itoa(archive.MaxPageSize))
		}
		f.PageSize = n
	}
	return f, nil
}
