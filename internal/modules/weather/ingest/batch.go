// Package ingest turns uploaded archive workbooks into stored observations.
//
// A batch runs in one store transaction. Bad rows and unreadable files are
// skipped and reported; a failure while writing or committing rolls the whole
// batch back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"weather-archive-server/internal/modules/weather/repository"
	"weather-archive-server/internal/modules/weather/types"
	"weather-archive-server/internal/observability"
	"weather-archive-server/internal/spreadsheet"
)

// ErrCommit marks a batch whose staged changes were rolled back.
var ErrCommit = errors.New("batch commit failed")

// CommitError reports the stage at which the store rejected the batch.
type CommitError struct {
	BatchID string
	Stage   string // begin, flush or commit
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("batch %s: %s: %v", e.BatchID, e.Stage, e.Err)
}

func (e *CommitError) Unwrap() []error { return []error{ErrCommit, e.Err} }

// Upload is one file of a batch. Open may be called at most once.
type Upload struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Invalidator drops cached aggregates after a successful commit.
type Invalidator interface {
	Invalidate()
}

type Options struct {
	// CommitTimeout bounds flushing staged changes plus the commit itself.
	CommitTimeout time.Duration
}

const defaultCommitTimeout = 30 * time.Second

type Coordinator struct {
	repo          repository.ObservationRepository
	cache         Invalidator
	metrics       *observability.Metrics
	logger        *slog.Logger
	commitTimeout time.Duration
}

func NewCoordinator(repo repository.ObservationRepository, cache Invalidator, metrics *observability.Metrics, logger *slog.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = defaultCommitTimeout
	}
	return &Coordinator{
		repo:          repo,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		commitTimeout: opts.CommitTimeout,
	}
}

// ProcessUpload ingests every file in one transaction. Row and file failures
// are recorded in the report and never returned. The returned error is
// non-nil only when the batch was rolled back, and is then a *CommitError;
// the report is returned in both cases.
func (c *Coordinator) ProcessUpload(ctx context.Context, files []Upload) (*BatchReport, error) {
	start := time.Now()
	report := &BatchReport{ID: uuid.NewString(), Files: []FileResult{}}
	logger := c.logger.With("batch", report.ID)

	txCtx, cancelTx := context.WithCancel(ctx)
	defer cancelTx()

	tx, err := c.repo.BeginBatch(txCtx)
	if err != nil {
		return c.fail(logger, report, start, "begin", err)
	}
	rec := NewReconciler(tx)

	for _, u := range files {
		fr := c.processFile(txCtx, logger, rec, u)
		c.metrics.FilesProcessed.WithLabelValues(string(fr.Status)).Inc()
		report.addFile(fr)
	}

	inserted, updated, stage, err := c.commit(txCtx, cancelTx, tx, rec)
	if err != nil {
		c.rollback(logger, tx)
		return c.fail(logger, report, start, stage, err)
	}

	report.Inserted = inserted
	report.Updated = updated
	report.Committed = true
	report.finish(time.Since(start))
	c.afterCommit()
	c.metrics.Batches.WithLabelValues("committed").Inc()
	c.metrics.BatchDuration.Observe(report.Duration.Seconds())

	logger.Info("batch committed",
		"files", len(report.Files),
		"files_failed", report.FilesFailed,
		"rows_skipped", report.RowsSkipped,
		"inserted", inserted,
		"updated", updated,
		"duration_ms", report.DurationMS,
	)
	return report, nil
}

// IngestObservation upserts a single observation in its own transaction.
func (c *Coordinator) IngestObservation(ctx context.Context, o types.Observation) (RowOutcome, error) {
	logger := c.logger.With("timestamp", o.Key())

	txCtx, cancelTx := context.WithCancel(ctx)
	defer cancelTx()

	tx, err := c.repo.BeginBatch(txCtx)
	if err != nil {
		return "", &CommitError{BatchID: o.Key(), Stage: "begin", Err: err}
	}
	rec := NewReconciler(tx)
	outcome, err := rec.Reconcile(txCtx, o)
	if err != nil {
		c.rollback(logger, tx)
		return "", err
	}

	_, _, stage, err := c.commit(txCtx, cancelTx, tx, rec)
	if err != nil {
		c.rollback(logger, tx)
		logger.Error("observation rolled back", "stage", stage, "error", err)
		return "", &CommitError{BatchID: o.Key(), Stage: stage, Err: err}
	}
	c.afterCommit()
	return outcome, nil
}

func (c *Coordinator) processFile(ctx context.Context, logger *slog.Logger, rec *Reconciler, u Upload) FileResult {
	fr := FileResult{Name: u.Name, Status: FileIngested}
	logger = logger.With("file", u.Name)

	if u.Size == 0 {
		fr.Status = FileSkipped
		fr.Reason = "empty"
		logger.Info("file skipped", "reason", fr.Reason)
		return fr
	}

	wb, err := c.openWorkbook(u)
	if err != nil {
		fr.Status = FileFailed
		fr.Reason = err.Error()
		logger.Warn("file skipped", "error", err)
		return fr
	}
	defer func() {
		if err := wb.Close(); err != nil {
			logger.Warn("close workbook", "error", err)
		}
	}()

	for _, sheet := range wb.Sheets() {
		rows, err := wb.Rows(sheet)
		if err != nil {
			fr.Status = FileFailed
			fr.Reason = err.Error()
			logger.Warn("file skipped", "sheet", sheet, "error", err)
			return fr
		}
		fr.Sheets = append(fr.Sheets, c.processSheet(ctx, logger, rec, u.Name, sheet, rows, wb.Date1904()))
	}
	return fr
}

func (c *Coordinator) openWorkbook(u Upload) (*spreadsheet.Workbook, error) {
	if u.Open == nil {
		return nil, fmt.Errorf("%w: no content", spreadsheet.ErrInvalidWorkbook)
	}
	rc, err := u.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()
	return spreadsheet.Open(rc)
}

// processSheet walks data rows in index order; later rows for a timestamp
// supersede earlier ones.
func (c *Coordinator) processSheet(ctx context.Context, logger *slog.Logger, rec *Reconciler, file, sheet string, rows []spreadsheet.Row, date1904 bool) SheetResult {
	sr := SheetResult{Name: sheet}
	for i := HeaderRows; i < len(rows); i++ {
		if IsBlank(rows[i]) {
			continue
		}
		res, err := c.processRow(ctx, rec, file, sheet, i, rows[i], date1904)
		if err != nil {
			logger.Warn("row skipped", "sheet", sheet, "row", i, "error", err)
		}
		c.metrics.RowsProcessed.WithLabelValues(string(res.Outcome)).Inc()
		sr.add(res)
	}
	return sr
}

func (c *Coordinator) processRow(ctx context.Context, rec *Reconciler, file, sheet string, idx int, row spreadsheet.Row, date1904 bool) (RowResult, error) {
	o, err := NormalizeRow(row, date1904)
	if err == nil {
		var outcome RowOutcome
		if outcome, err = rec.Reconcile(ctx, o); err == nil {
			return RowResult{Row: idx, Outcome: outcome}, nil
		}
	}
	return RowResult{Row: idx, Outcome: RowSkipped, Reason: err.Error()},
		&RowError{File: file, Sheet: sheet, Row: idx, Err: err}
}

// commit flushes staged records and commits under the commit timeout. When
// the deadline passes the transaction context is cancelled, which aborts the
// transaction even if the driver is blocked inside Commit.
func (c *Coordinator) commit(txCtx context.Context, cancelTx context.CancelFunc, tx repository.BatchTx, rec *Reconciler) (int, int, string, error) {
	ctx, cancel := context.WithTimeout(txCtx, c.commitTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancelTx)
	defer stop()

	inserted, updated, err := rec.Flush(ctx)
	if err != nil {
		return 0, 0, "flush", err
	}
	if err := tx.Commit(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return 0, 0, "commit", err
	}
	return inserted, updated, "", nil
}

func (c *Coordinator) rollback(logger *slog.Logger, tx repository.BatchTx) {
	if err := tx.Rollback(); err != nil {
		logger.Warn("rollback", "error", err)
	}
}

func (c *Coordinator) afterCommit() {
	if c.cache != nil {
		c.cache.Invalidate()
	}
}

func (c *Coordinator) fail(logger *slog.Logger, report *BatchReport, start time.Time, stage string, err error) (*BatchReport, error) {
	cerr := &CommitError{BatchID: report.ID, Stage: stage, Err: err}
	report.Committed = false
	report.Inserted, report.Updated = 0, 0
	report.Error = cerr.Error()
	report.finish(time.Since(start))
	c.metrics.Batches.WithLabelValues("rolled_back").Inc()
	c.metrics.BatchDuration.Observe(report.Duration.Seconds())
	logger.Error("batch rolled back", "stage", stage, "files", len(report.Files), "error", err)
	return report, cerr
}
