package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"weather-archive-server/internal/config"
)

// Dialect captures the few places where sqlite3 and Postgres disagree:
// bind parameter syntax, transaction isolation and the migration set.
type Dialect struct {
	name string
}

var (
	SQLite   = Dialect{name: "sqlite"}
	Postgres = Dialect{name: "postgres"}
)

func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverSQLite:
		return SQLite, nil
	case config.DriverPostgres:
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// Name doubles as the migrations subdirectory.
func (d Dialect) Name() string { return d.name }

// Rebind rewrites '?' placeholders to '$N' for Postgres. Question marks inside
// single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// TxOptions returns the isolation used for ingestion batches. SQLite
// transactions are serializable already, so the driver default is kept.
func (d Dialect) TxOptions() *sql.TxOptions {
	if d == Postgres {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}
