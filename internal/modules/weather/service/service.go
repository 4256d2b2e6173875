// Package service connects the live MQTT feed to ingestion.
package service

import (
	"context"
	"log/slog"

	"weather-archive-server/internal/modules/weather/ingest"
	"weather-archive-server/internal/modules/weather/types"
	"weather-archive-server/internal/mqtt"
)

type Ingestor interface {
	IngestObservation(ctx context.Context, o types.Observation) (ingest.RowOutcome, error)
}

type Service struct {
	ingestor Ingestor
	logger   *slog.Logger
}

func NewService(ingestor Ingestor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ingestor: ingestor, logger: logger}
}

// Register attaches the live observation handler to the subscriber.
func (s *Service) Register(subscriber mqtt.MQTTSubscriber) {
	subscriber.SetMessageHandler(s.handleObservation)
}

func (s *Service) handleObservation(ctx context.Context, o types.Observation) error {
	outcome, err := s.ingestor.IngestObservation(ctx, o)
	if err != nil {
		return err
	}
	s.logger.Debug("stored live observation", "timestamp", o.Key(), "outcome", outcome)
	return nil
}
