package weather

import (
	"database/sql"
	"log/slog"
	"net/http"

	"weather-archive-server/internal/config"
	"weather-archive-server/internal/db"
	"weather-archive-server/internal/modules/weather/archive"
	"weather-archive-server/internal/modules/weather/controller"
	"weather-archive-server/internal/modules/weather/ingest"
	"weather-archive-server/internal/modules/weather/repository"
	"weather-archive-server/internal/modules/weather/service"
	"weather-archive-server/internal/mqtt"
	"weather-archive-server/internal/observability"

	"github.com/jonboulle/clockwork"
)

// Feature wires the weather archive: one store, one year-bounds cache shared
// by the query side and the ingestion side.
type Feature struct {
	Repository  repository.ObservationRepository
	Cache       *archive.YearBoundsCache
	Archive     *archive.Service
	Coordinator *ingest.Coordinator

	cfg    config.Config
	logger *slog.Logger
}

func NewFeature(conn *sql.DB, dialect db.Dialect, cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) *Feature {
	repo := repository.NewRepository(conn, dialect)
	cache := archive.NewYearBoundsCache(clockwork.NewRealClock(), cfg.YearBoundsTTL)
	return &Feature{
		Repository:  repo,
		Cache:       cache,
		Archive:     archive.NewService(repo, cache, metrics),
		Coordinator: ingest.NewCoordinator(repo, cache, metrics, logger, ingest.Options{CommitTimeout: cfg.CommitTimeout}),
		cfg:         cfg,
		logger:      logger,
	}
}

func (f *Feature) RegisterRoutes(mux *http.ServeMux) {
	controller.NewWeatherController(f.Archive, f.Coordinator, f.cfg.UploadMaxBytes, f.logger).RegisterRoutes(mux)
}

func (f *Feature) RegisterLiveFeed(subscriber mqtt.MQTTSubscriber) {
	service.NewService(f.Coordinator, f.logger).Register(subscriber)
}
