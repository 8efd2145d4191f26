// Package stats tracks per-record and batch-level processing counters.
package stats

import "time"

// Parsing accumulates row counters for one record name across all files of
// a batch. It is created lazily the first time a record name is seen and
// finalized once; a finalized stats object is never re-opened.
type Parsing struct {
	TotalRows         int64
	SuccessRows       int64
	FailedRows        int64
	SkippedRows       int64
	ValidationErrors  int64
	FileParseFailures int64

	StartTime time.Time
	EndTime   time.Time
}

// NewParsing returns a stats object with the clock started.
func NewParsing() *Parsing {
	return &Parsing{StartTime: time.Now()}
}

// Finalize sets the end time if not already set.
func (p *Parsing) Finalize() {
	if p.EndTime.IsZero() {
		p.EndTime = time.Now()
	}
}

// Duration reports elapsed processing time; for unfinalized stats it runs
// against the current clock.
func (p *Parsing) Duration() time.Duration {
	end := p.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(p.StartTime)
}

// RowsPerSecond reports successful-row throughput.
func (p *Parsing) RowsPerSecond() float64 {
	d := p.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(p.SuccessRows) / d
}

// Merge folds counters from another stats object into p, used when
// parallel workers each tracked their own copy. The earliest start and
// latest end win.
func (p *Parsing) Merge(other *Parsing) {
	p.TotalRows += other.TotalRows
	p.SuccessRows += other.SuccessRows
	p.FailedRows += other.FailedRows
	p.SkippedRows += other.SkippedRows
	p.ValidationErrors += other.ValidationErrors
	p.FileParseFailures += other.FileParseFailures
	if other.StartTime.Before(p.StartTime) {
		p.StartTime = other.StartTime
	}
	if other.EndTime.After(p.EndTime) {
		p.EndTime = other.EndTime
	}
}

// Summary holds batch-level file counts. These are file counts, not row
// counts; row-level outcomes live in the per-record Parsing stats.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
	Duration  time.Duration
}
