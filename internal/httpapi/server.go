package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"weather-archive-server/internal/config"
)

func NewServer(cfg config.Config, logger *slog.Logger, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
