package controller

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"weather-archive-server/internal/httpapi"
	"weather-archive-server/internal/modules/weather/archive"
	"weather-archive-server/internal/modules/weather/ingest"
)

// uploadMemory is how much of a multipart form is held in memory before
// parts spill to temporary files.
const uploadMemory = 8 << 20

func (c *weatherControllerImpl) handleListObservations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseArchiveQuery(r)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := c.archive.Query(r.Context(), filter)
	if err != nil {
		if errors.Is(err, archive.ErrInvalidFilter) {
			httpapi.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.logger.Error("list observations failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "failed to load observations")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, page)
}

func (c *weatherControllerImpl) handleYears(w http.ResponseWriter, r *http.Request) {
	bounds, err := c.archive.YearBounds(r.Context())
	if err != nil {
		c.logger.Error("year bounds failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "failed to load year bounds")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, bounds)
}

func (c *weatherControllerImpl) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.maxUploadBytes)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpapi.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		httpapi.WriteError(w, http.StatusBadRequest, "expected multipart/form-data with 'files'")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			c.logger.Warn("remove multipart temp files", "error", err)
		}
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		httpapi.WriteError(w, http.StatusBadRequest, "no files in field 'files'")
		return
	}

	report, err := c.ingestor.ProcessUpload(r.Context(), uploadsFrom(headers))
	if err != nil {
		// The batch was rolled back; the report still says what was attempted.
		httpapi.WriteJSON(w, http.StatusInternalServerError, report)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, report)
}

func uploadsFrom(headers []*multipart.FileHeader) []ingest.Upload {
	uploads := make([]ingest.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, ingest.Upload{
			Name: fh.Filename,
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return uploads
}
