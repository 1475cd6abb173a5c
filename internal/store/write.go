package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one recovery run.
type RunRecord struct {
	ID         string
	Seq        int64
	Archive    string
	Dest       string
	Status     string
	Total      int
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
	// Report is the full JSON report of the run.
	Report []byte
}

// UnitRecord is the terminal state of one unit in a run.
type UnitRecord struct {
	RunID         string
	Index         int
	Name          string
	Size          int64
	Digest        string
	Outcome       string
	Winner        string
	Reason        string
	HeaderValid   bool
	HeaderVersion string
}

// AttemptRecord is one strategy attempt; Seq is its try order within the unit.
type AttemptRecord struct {
	RunID     string
	UnitIndex int
	Seq       int
	Strategy  string
	Outcome   string
	Evidence  string
	Duration  time.Duration
}

// FetchRecord is one mirror request made during the run.
type FetchRecord struct {
	RunID      string
	Seq        int
	Capability string
	URL        string
	Succeeded  bool
	StatusCode int
	Error      string
	Duration   time.Duration
	At         time.Time
}

// RunBundle is everything recorded for one run.
type RunBundle struct {
	Run      RunRecord
	Units    []UnitRecord
	Attempts []AttemptRecord
	Fetches  []FetchRecord
}

// WriteRun records a run and its children in one transaction and returns
// the run's logical seq.
//
// Uses ON CONFLICT DO NOTHING for idempotency: writing the same run id twice
// leaves the first write in place and returns its seq. Child RunID fields
// are taken from the run record.
func (s *Store) WriteRun(ctx context.Context, b RunBundle) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM runs WHERE id = ?`, b.Run.ID).Scan(&existing)
	switch {
	case err == nil:
		return existing, nil
	case err != sql.ErrNoRows:
		return 0, fmt.Errorf("write run: lookup: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write run: next seq: %w", err)
	}

	run := b.Run
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, archive, dest, status, total, succeeded, failed, started_at, finished_at, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		seq,
		run.Archive,
		run.Dest,
		run.Status,
		run.Total,
		run.Succeeded,
		run.Failed,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		string(run.Report),
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	for _, u := range b.Units {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO units
			(run_id, idx, name, size, digest, outcome, winner, reason, header_valid, header_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			run.ID, u.Index, u.Name, u.Size, u.Digest, u.Outcome, u.Winner, u.Reason,
			boolToInt(u.HeaderValid), u.HeaderVersion,
		)
		if err != nil {
			return 0, fmt.Errorf("write unit %d: %w", u.Index, err)
		}
	}

	for _, a := range b.Attempts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attempts
			(run_id, unit_idx, seq, strategy, outcome, evidence, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			run.ID, a.UnitIndex, a.Seq, a.Strategy, a.Outcome, a.Evidence, a.Duration.Milliseconds(),
		)
		if err != nil {
			return 0, fmt.Errorf("write attempt %d/%d: %w", a.UnitIndex, a.Seq, err)
		}
	}

	for _, f := range b.Fetches {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fetches
			(run_id, seq, capability, url, succeeded, status_code, error, duration_ms, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			run.ID, f.Seq, f.Capability, f.URL, boolToInt(f.Succeeded), f.StatusCode, f.Error,
			f.Duration.Milliseconds(), formatTime(f.At),
		)
		if err != nil {
			return 0, fmt.Errorf("write fetch %d: %w", f.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
