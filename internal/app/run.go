package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"weather-archive-server/internal/config"
	"weather-archive-server/internal/db"
	"weather-archive-server/internal/httpapi"
	"weather-archive-server/internal/migrate"
	"weather-archive-server/internal/modules/weather"
	"weather-archive-server/internal/mqtt"
	"weather-archive-server/internal/observability"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"dbMaxIdleConns", cfg.MaxIdleConns,
		"dbConnMaxLifetime", cfg.ConnMaxLifetime,
		"uploadMaxBytes", cfg.UploadMaxBytes,
		"commitTimeout", cfg.CommitTimeout,
		"yearBoundsTTL", cfg.YearBoundsTTL,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)
	conn, dialect, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, conn, dialect); err != nil {
		return err
	}
	logger.Info("database ready", "dialect", dialect.Name())

	metrics := observability.NewMetrics()
	feature := weather.NewFeature(conn, dialect, cfg, metrics, logger)

	mux := httpapi.NewMux(conn)
	feature.RegisterRoutes(mux)

	var subscriber *mqtt.Subscriber
	if cfg.MQTTEnabled {
		subscriber, err = mqtt.NewSubscriber(cfg, metrics, logger)
		if err != nil {
			return err
		}
		// Handler goes in before Connect: the broker may deliver queued
		// messages right after CONNACK.
		feature.RegisterLiveFeed(subscriber)

		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = subscriber.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without live feed)", "error", err)
		}
	}

	srv := httpapi.NewServer(cfg, logger, mux)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if subscriber != nil {
		logger.Info("mqtt disconnecting")
		subscriber.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
