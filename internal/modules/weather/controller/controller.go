package controller

import (
	"context"
	"log/slog"
	"net/http"

	"weather-archive-server/internal/modules/weather/ingest"
	"weather-archive-server/internal/modules/weather/types"
)

// DefaultMaxUploadBytes caps the multipart body when no limit is configured.
const DefaultMaxUploadBytes int64 = 64 << 20

type Archive interface {
	Query(ctx context.Context, f types.Filter) (types.Page, error)
	YearBounds(ctx context.Context) (types.YearBounds, error)
}

type Ingestor interface {
	ProcessUpload(ctx context.Context, files []ingest.Upload) (*ingest.BatchReport, error)
}

type WeatherController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type weatherControllerImpl struct {
	archive        Archive
	ingestor       Ingestor
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewWeatherController(archive Archive, ingestor Ingestor, maxUploadBytes int64, logger *slog.Logger) WeatherController {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &weatherControllerImpl{
		archive:        archive,
		ingestor:       ingestor,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (c *weatherControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/observations", c.handleListObservations)
	mux.HandleFunc("GET /api/v1/observations/years", c.handleYears)
	mux.HandleFunc("POST /api/v1/observations/uploads", c.handleUpload)
}
