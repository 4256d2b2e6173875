package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"weather-archive-server/internal/db"
	"weather-archive-server/internal/modules/weather/types"
)

//go:embed sql/select-observations.sql
var selectObservationsSQL string

//go:embed sql/count-observations.sql
var countObservationsSQL string

//go:embed sql/find-observation-by-timestamp.sql
var findObservationByTimestampSQL string

//go:embed sql/insert-observation.sql
var insertObservationSQL string

//go:embed sql/update-observation.sql
var updateObservationSQL string

//go:embed sql/year-bounds.sql
var yearBoundsSQL string

type ObservationRepository interface {
	// BeginBatch opens the single transaction an ingestion batch runs in.
	BeginBatch(ctx context.Context) (BatchTx, error)
	QueryObservations(ctx context.Context, year, month *int, limit, offset int) ([]types.Observation, error)
	CountObservations(ctx context.Context, year, month *int) (int, error)
	YearBounds(ctx context.Context) (types.YearBounds, error)
}

// BatchTx is an open ingestion transaction. Lookups see rows written earlier
// through the same transaction.
type BatchTx interface {
	// FindByTimestamp returns nil, nil when no row has exactly this timestamp.
	FindByTimestamp(ctx context.Context, ts time.Time) (*types.Observation, error)
	// Insert stores o and sets o.ID.
	Insert(ctx context.Context, o *types.Observation) error
	Update(ctx context.Context, o types.Observation) error
	Commit() error
	Rollback() error
}

type repositoryImpl struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewRepository(conn *sql.DB, dialect db.Dialect) ObservationRepository {
	return &repositoryImpl{db: conn, dialect: dialect}
}

func (r *repositoryImpl) BeginBatch(ctx context.Context) (BatchTx, error) {
	tx, err := r.db.BeginTx(ctx, r.dialect.TxOptions())
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &batchTx{tx: tx, dialect: r.dialect}, nil
}

func (r *repositoryImpl) QueryObservations(ctx context.Context, year, month *int, limit, offset int) ([]types.Observation, error) {
	where, args := periodFilter(year, month)
	q := strings.TrimSpace(selectObservationsSQL) + where + " ORDER BY observed_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close observation rows", "error", err)
		}
	}()

	out := []types.Observation{}
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) CountObservations(ctx context.Context, year, month *int) (int, error) {
	where, args := periodFilter(year, month)
	q := strings.TrimSpace(countObservationsSQL) + where
	var n int
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(q), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

func (r *repositoryImpl) YearBounds(ctx context.Context) (types.YearBounds, error) {
	var minTS, maxTS sql.NullString
	if err := r.db.QueryRowContext(ctx, yearBoundsSQL).Scan(&minTS, &maxTS); err != nil {
		return types.YearBounds{}, fmt.Errorf("year bounds: %w", err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return types.YearBounds{Empty: true}, nil
	}
	lo, err := yearOf(minTS.String)
	if err != nil {
		return types.YearBounds{}, err
	}
	hi, err := yearOf(maxTS.String)
	if err != nil {
		return types.YearBounds{}, err
	}
	return types.YearBounds{Min: lo, Max: hi}, nil
}

// periodFilter builds the WHERE clause for the optional year and month. The
// stored timestamp is fixed-width text, so both are plain substring matches.
func periodFilter(year, month *int) (string, []any) {
	var conds []string
	var args []any
	if year != nil {
		conds = append(conds, "substr(observed_at, 1, 4) = ?")
		args = append(args, fmt.Sprintf("%04d", *year))
	}
	if month != nil {
		conds = append(conds, "substr(observed_at, 6, 2) = ?")
		args = append(args, fmt.Sprintf("%02d", *month))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func yearOf(ts string) (int, error) {
	if len(ts) < 4 {
		return 0, fmt.Errorf("parse year from %q: too short", ts)
	}
	y, err := strconv.Atoi(ts[:4])
	if err != nil {
		return 0, fmt.Errorf("parse year from %q: %w", ts, err)
	}
	return y, nil
}

type batchTx struct {
	tx      *sql.Tx
	dialect db.Dialect
}

func (b *batchTx) FindByTimestamp(ctx context.Context, ts time.Time) (*types.Observation, error) {
	key := ts.UTC().Format(types.TimestampLayout)
	row := b.tx.QueryRowContext(ctx, b.dialect.Rebind(findObservationByTimestampSQL), key)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find observation %s: %w", key, err)
	}
	return &o, nil
}

func (b *batchTx) Insert(ctx context.Context, o *types.Observation) error {
	args := columnArgs(*o)
	if err := b.tx.QueryRowContext(ctx, b.dialect.Rebind(insertObservationSQL), args...).Scan(&o.ID); err != nil {
		return fmt.Errorf("insert observation %s: %w", o.Key(), err)
	}
	return nil
}

func (b *batchTx) Update(ctx context.Context, o types.Observation) error {
	args := append(columnArgs(o), o.ID)
	res, err := b.tx.ExecContext(ctx, b.dialect.Rebind(updateObservationSQL), args...)
	if err != nil {
		return fmt.Errorf("update observation %d: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update observation %d: %w", o.ID, err)
	}
	if n != 1 {
		return fmt.Errorf("update observation %d: %d rows affected", o.ID, n)
	}
	return nil
}

func (b *batchTx) Commit() error {
	return b.tx.Commit()
}

// Rollback is a no-op once the transaction has finished.
func (b *batchTx) Rollback() error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// columnArgs lists the stored columns in insert order. Keep in step with
// Observation.Assign.
func columnArgs(o types.Observation) []any {
	return []any{
		o.Key(),
		o.Temperature,
		o.AirHumidity,
		o.DewPoint,
		o.AtmPressure,
		o.AirDirection,
		o.AirSpeed,
		o.Cloudiness,
		o.H,
		o.VV,
		o.WeatherEvents,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObservation(s scanner) (types.Observation, error) {
	var o types.Observation
	var ts string
	err := s.Scan(
		&o.ID, &ts,
		&o.Temperature, &o.AirHumidity, &o.DewPoint, &o.AtmPressure,
		&o.AirDirection, &o.AirSpeed, &o.Cloudiness, &o.H, &o.VV, &o.WeatherEvents,
	)
	if err != nil {
		return types.Observation{}, err
	}
	t, err := time.Parse(types.TimestampLayout, ts)
	if err != nil {
		return types.Observation{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	o.Timestamp = t
	return o, nil
}
