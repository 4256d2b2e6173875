package ingest

import "time"

type RowOutcome string

const (
	RowInserted RowOutcome = "inserted"
	RowUpdated  RowOutcome = "updated"
	RowSkipped  RowOutcome = "skipped"
)

type RowResult struct {
	Row     int        `json:"row"`
	Outcome RowOutcome `json:"outcome"`
	Reason  string     `json:"reason,omitempty"`
}

// SheetResult counts the data rows of one sheet. Only skipped rows are kept
// individually.
type SheetResult struct {
	Name      string      `json:"name"`
	Processed int         `json:"processed"`
	Skipped   []RowResult `json:"skipped,omitempty"`
}

func (s *SheetResult) add(r RowResult) {
	if r.Outcome == RowSkipped {
		s.Skipped = append(s.Skipped, r)
		return
	}
	s.Processed++
}

type FileStatus string

const (
	FileIngested FileStatus = "ingested"
	FileFailed   FileStatus = "failed"
	FileSkipped  FileStatus = "skipped"
)

type FileResult struct {
	Name   string        `json:"name"`
	Status FileStatus    `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Sheets []SheetResult `json:"sheets,omitempty"`
}

func (f FileResult) rowsSkipped() int {
	n := 0
	for _, s := range f.Sheets {
		n += len(s.Skipped)
	}
	return n
}

func (f FileResult) rowsProcessed() int {
	n := 0
	for _, s := range f.Sheets {
		n += s.Processed
	}
	return n
}

// BatchReport is the outcome of one upload. Inserted and Updated count
// distinct stored records and are only non-zero when Committed is true.
type BatchReport struct {
	ID            string        `json:"id"`
	Files         []FileResult  `json:"files"`
	RowsProcessed int           `json:"rowsProcessed"`
	RowsSkipped   int           `json:"rowsSkipped"`
	FilesFailed   int           `json:"filesFailed"`
	FilesSkipped  int           `json:"filesSkipped"`
	Inserted      int           `json:"inserted"`
	Updated       int           `json:"updated"`
	Committed     bool          `json:"committed"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"-"`
	DurationMS    int64         `json:"durationMs"`
}

func (b *BatchReport) addFile(f FileResult) {
	b.Files = append(b.Files, f)
	switch f.Status {
	case FileFailed:
		b.FilesFailed++
	case FileSkipped:
		b.FilesSkipped++
	}
	b.RowsProcessed += f.rowsProcessed()
	b.RowsSkipped += f.rowsSkipped()
}

func (b *BatchReport) finish(d time.Duration) {
	b.Duration = d
	b.DurationMS = d.Milliseconds()
}
