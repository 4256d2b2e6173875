package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// Driver selects the observation store: "sqlite3" (default) or "pgx" for Postgres.
	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool

	// UploadMaxBytes caps the multipart body of a single upload request.
	UploadMaxBytes int64
	CommitTimeout  time.Duration
	YearBoundsTTL  time.Duration

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTTopic    string
	MQTTClientID string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	driver := envOrDefault("DB_DRIVER", DriverSQLite)
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: %s, %s)", driver, DriverSQLite, DriverPostgres)
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if driver == DriverPostgres && dsn == "" {
		return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=%s", DriverPostgres)
	}

	// An upload batch holds one connection for its whole transaction; the
	// rest serve archive reads, /healthz and the live feed meanwhile.
	defaultConns := "4"
	if driver == DriverPostgres {
		defaultConns = "10"
	}
	maxOpenConns, err := parseInt("DB_MAX_OPEN_CONNS", defaultConns)
	if err != nil {
		return Config{}, err
	}
	if maxOpenConns < 2 {
		return Config{}, fmt.Errorf("DB_MAX_OPEN_CONNS must be >= 2 (an upload holds one connection for its whole batch)")
	}
	maxIdleConns, err := parseInt("DB_MAX_IDLE_CONNS", defaultConns)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := parseDuration("DB_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return Config{}, err
	}
	logSQL, err := parseBool("DB_LOG_SQL", "false")
	if err != nil {
		return Config{}, err
	}

	uploadMaxBytes, err := strconv.ParseInt(envOrDefault("UPLOAD_MAX_BYTES", "67108864"), 10, 64)
	if err != nil || uploadMaxBytes <= 0 {
		return Config{}, fmt.Errorf("invalid UPLOAD_MAX_BYTES %q (expected positive integer)", os.Getenv("UPLOAD_MAX_BYTES"))
	}
	commitTimeout, err := parseDuration("INGEST_COMMIT_TIMEOUT", "30s")
	if err != nil {
		return Config{}, err
	}
	if commitTimeout <= 0 {
		return Config{}, fmt.Errorf("INGEST_COMMIT_TIMEOUT must be > 0")
	}
	yearBoundsTTL, err := parseDuration("YEAR_BOUNDS_TTL", "24h")
	if err != nil {
		return Config{}, err
	}
	if yearBoundsTTL <= 0 {
		return Config{}, fmt.Errorf("YEAR_BOUNDS_TTL must be > 0")
	}

	mqttEnabled, err := parseBool("MQTT_ENABLED", "false")
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := parseInt("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (must be 1-65535)", mqttPort)
	}

	return Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		Driver:          driver,
		DSN:             dsn,
		Path:            envOrDefault("SQLITE_PATH", "../dev/sqlite/weather.db"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		LogSQL:          logSQL,
		UploadMaxBytes:  uploadMaxBytes,
		CommitTimeout:   commitTimeout,
		YearBoundsTTL:   yearBoundsTTL,
		MQTTEnabled:     mqttEnabled,
		MQTTBroker:      envOrDefault("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTTopic:       envOrDefault("MQTT_TOPIC", "weather/observations"),
		MQTTClientID:    envOrDefault("MQTT_CLIENT_ID", "weather-archive-server"),
	}, nil
}

func envOrDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parseInt(key, def string) (int, error) {
	s := envOrDefault(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func parseBool(key, def string) (bool, error) {
	s := envOrDefault(key, def)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q (expected true or false)", key, s)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
