package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"weather-archive-server/internal/modules/weather/archive"
	"weather-archive-server/internal/modules/weather/ingest"
	"weather-archive-server/internal/modules/weather/types"
)

type mockArchive struct {
	page      types.Page
	queryErr  error
	bounds    types.YearBounds
	boundsErr error
	gotFilter types.Filter
}

func (m *mockArchive) Query(_ context.Context, f types.Filter) (types.Page, error) {
	m.gotFilter = f
	return m.page, m.queryErr
}

func (m *mockArchive) YearBounds(context.Context) (types.YearBounds, error) {
	return m.bounds, m.boundsErr
}

type mockIngestor struct {
	report   *ingest.BatchReport
	err      error
	names    []string
	contents []string
}

func (m *mockIngestor) ProcessUpload(_ context.Context, files []ingest.Upload) (*ingest.BatchReport, error) {
	for _, f := range files {
		m.names = append(m.names, f.Name)
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		m.contents = append(m.contents, string(b))
	}
	return m.report, m.err
}

func newMux(a Archive, i Ingestor, maxBytes int64) *http.ServeMux {
	mux := http.NewServeMux()
	NewWeatherController(a, i, maxBytes, nil).RegisterRoutes(mux)
	return mux
}

func multipartBody(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func Test_handleListObservations(t *testing.T) {
	t.Run("returns page as JSON and passes filter", func(t *testing.T) {
		temp := -3.5
		a := &mockArchive{page: types.Page{
			Items:      []types.Observation{{ID: 1, Timestamp: time.Date(2010, 1, 1, 3, 0, 0, 0, time.UTC), Temperature: &temp}},
			Page:       2,
			PageSize:   10,
			TotalCount: 11,
			TotalPages: 2,
			HasPrev:    true,
		}}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/observations?year=2010&month=1&page=2&pageSize=10", nil)
		rec := httptest.NewRecorder()

		newMux(a, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if a.gotFilter.Year == nil || *a.gotFilter.Year != 2010 || a.gotFilter.Month == nil || *a.gotFilter.Month != 1 {
			t.Errorf("filter = %+v; want year 2010 month 1", a.gotFilter)
		}
		if a.gotFilter.Page != 2 || a.gotFilter.PageSize != 10 {
			t.Errorf("page=%d pageSize=%d; want 2, 10", a.gotFilter.Page, a.gotFilter.PageSize)
		}
		var got types.Page
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.TotalCount != 11 || len(got.Items) != 1 || *got.Items[0].Temperature != -3.5 {
			t.Errorf("page = %+v", got)
		}
	})

	t.Run("invalid query returns 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/observations?year=twenty", nil)
		rec := httptest.NewRecorder()

		newMux(&mockArchive{}, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("invalid filter from service returns 400", func(t *testing.T) {
		a := &mockArchive{queryErr: archive.ErrInvalidFilter}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/observations", nil)
		rec := httptest.NewRecorder()

		newMux(a, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("store error returns 500 without details", func(t *testing.T) {
		a := &mockArchive{queryErr: errors.New("database is locked")}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/observations", nil)
		rec := httptest.NewRecorder()

		newMux(a, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
		if strings.Contains(rec.Body.String(), "locked") {
			t.Errorf("body leaks store error: %q", rec.Body.String())
		}
	})
}

func Test_handleYears(t *testing.T) {
	t.Run("returns bounds", func(t *testing.T) {
		a := &mockArchive{bounds: types.YearBounds{Min: 2005, Max: 2010}}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/observations/years", nil)
		rec := httptest.NewRecorder()

		newMux(a, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		var got types.YearBounds
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Min != 2005 || got.Max != 2010 || got.Empty {
			t.Errorf("bounds = %+v", got)
		}
	})

	t.Run("error returns 500", func(t *testing.T) {
		a := &mockArchive{boundsErr: errors.New("boom")}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/observations/years", nil)
		rec := httptest.NewRecorder()

		newMux(a, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func Test_handleUpload(t *testing.T) {
	t.Run("passes every file to the ingestor", func(t *testing.T) {
		ing := &mockIngestor{report: &ingest.BatchReport{ID: "b1", Committed: true, Inserted: 4}}
		body, ct := multipartBody(t, "files", map[string]string{"2010.xlsx": "first", "2011.xlsx": "second"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/observations/uploads", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()

		newMux(&mockArchive{}, ing, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		if len(ing.names) != 2 {
			t.Fatalf("ingestor got %d files; want 2", len(ing.names))
		}
		joined := strings.Join(ing.contents, ",")
		if !strings.Contains(joined, "first") || !strings.Contains(joined, "second") {
			t.Errorf("contents = %v", ing.contents)
		}
		var got ingest.BatchReport
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != "b1" || !got.Committed || got.Inserted != 4 {
			t.Errorf("report = %+v", got)
		}
	})

	t.Run("rolled back batch returns 500 with report", func(t *testing.T) {
		ing := &mockIngestor{
			report: &ingest.BatchReport{ID: "b2", Error: "batch b2: commit: disk full"},
			err:    &ingest.CommitError{BatchID: "b2", Stage: "commit", Err: errors.New("disk full")},
		}
		body, ct := multipartBody(t, "files", map[string]string{"a.xlsx": "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/observations/uploads", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()

		newMux(&mockArchive{}, ing, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
		if !strings.Contains(rec.Body.String(), "disk full") {
			t.Errorf("body = %q; want report with error", rec.Body.String())
		}
	})

	t.Run("missing files field returns 400", func(t *testing.T) {
		body, ct := multipartBody(t, "attachments", map[string]string{"a.xlsx": "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/observations/uploads", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()

		newMux(&mockArchive{}, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("non multipart body returns 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/observations/uploads", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		newMux(&mockArchive{}, &mockIngestor{}, 0).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("oversized body returns 413", func(t *testing.T) {
		body, ct := multipartBody(t, "files", map[string]string{"big.xlsx": strings.Repeat("x", 4096)})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/observations/uploads", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		ing := &mockIngestor{}

		newMux(&mockArchive{}, ing, 1024).ServeHTTP(rec, req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusRequestEntityTooLarge)
		}
		if len(ing.names) != 0 {
			t.Errorf("ingestor called for oversized upload")
		}
	})
}
