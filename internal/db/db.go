package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"weather-archive-server/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the observation store selected by cfg.Driver and returns
// the handle together with the SQL dialect queries must be written for.
func Open(cfg config.Config, logger *slog.Logger) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, Dialect{}, err
	}

	var db *sql.DB
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err = sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, Dialect{}, fmt.Errorf("db open: %w", err)
		}
	default:
		dsn, dsnErr := buildSQLiteDSN(cfg)
		if dsnErr != nil {
			return nil, Dialect{}, dsnErr
		}
		if cfg.LogSQL {
			connector, connErr := NewLoggingConnector(dsn, logger)
			if connErr != nil {
				return nil, Dialect{}, connErr
			}
			db = sql.OpenDB(connector)
		} else {
			db, err = sql.Open(cfg.Driver, dsn)
			if err != nil {
				return nil, Dialect{}, fmt.Errorf("db open: %w", err)
			}
		}
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, Dialect{}, fmt.Errorf("db ping: %w", err)
	}

	return db, dialect, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildSQLiteDSN(cfg config.Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	path := cfg.Path
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	// busy_timeout covers a CLI import running next to the server.
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
