package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run outcomes as recorded in the journal.
const (
	RunOutcomeRunning = "running"
	RunOutcomeOK      = "ok"
	RunOutcomeFailed  = "failed"
)

// RunCounts mirrors the plan counters into the journal row.
type RunCounts struct {
	Creates   int
	Updates   int
	Deletes   int
	Conflicts int
	Blocked   int
	Noops     int
}

// RunRecord is one preview or apply as the journal remembers it.
type RunRecord struct {
	ID            string
	Kind          string
	StartedAt     time.Time
	FinishedAt    time.Time
	Mode          string
	CalendarID    string
	Counts        RunCounts
	Outcome       string
	Detail        string
	CorrelationID string
}

// RunJournal is an append-mostly sqlite log of every preview and
// apply. It exists for diagnostics; sync correctness never depends on
// it, so callers treat journal failures as warnings.
type RunJournal struct {
	db *sql.DB
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	finished_at    TEXT,
	mode           TEXT NOT NULL,
	calendar_id    TEXT NOT NULL,
	creates        INTEGER NOT NULL DEFAULT 0,
	updates        INTEGER NOT NULL DEFAULT 0,
	deletes        INTEGER NOT NULL DEFAULT 0,
	conflicts      INTEGER NOT NULL DEFAULT 0,
	blocked        INTEGER NOT NULL DEFAULT 0,
	noops          INTEGER NOT NULL DEFAULT 0,
	outcome        TEXT NOT NULL DEFAULT 'running',
	detail         TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// OpenJournal opens (and if needed creates) the journal database.
func OpenJournal(ctx context.Context, path string) (*RunJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids lock churn
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &RunJournal{db: db}, nil
}

func (j *RunJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Begin records the start of a run.
func (j *RunJournal) Begin(ctx context.Context, rec RunRecord) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, started_at, mode, calendar_id, outcome, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.Mode, rec.CalendarID, RunOutcomeRunning, rec.CorrelationID)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	return nil
}

// Finish completes a run with its counters and outcome.
func (j *RunJournal) Finish(ctx context.Context, id string, counts RunCounts, outcome, detail string, finishedAt time.Time) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, creates = ?, updates = ?, deletes = ?,
		    conflicts = ?, blocked = ?, noops = ?, outcome = ?, detail = ?
		WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano),
		counts.Creates, counts.Updates, counts.Deletes,
		counts.Conflicts, counts.Blocked, counts.Noops,
		outcome, detail, id)
	if err != nil {
		return fmt.Errorf("journal finish: %w", err)
	}
	return nil
}

// Recent returns the newest runs first.
func (j *RunJournal) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, started_at, finished_at, mode, calendar_id,
		       creates, updates, deletes, conflicts, blocked, noops,
		       outcome, detail, correlation_id
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	return out, nil
}

// Last returns the newest run of the given kind; kind "" means any.
// The boolean reports whether one exists.
func (j *RunJournal) Last(ctx context.Context, kind string) (RunRecord, bool, error) {
	if j == nil {
		return RunRecord{}, false, nil
	}
	query := `
		SELECT id, kind, started_at, finished_at, mode, calendar_id,
		       creates, updates, deletes, conflicts, blocked, noops,
		       outcome, detail, correlation_id
		FROM runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC LIMIT 1`

	row := j.db.QueryRowContext(ctx, query, args...)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (RunRecord, error) {
	var rec RunRecord
	var started, finished sql.NullString
	err := r.Scan(&rec.ID, &rec.Kind, &started, &finished, &rec.Mode, &rec.CalendarID,
		&rec.Counts.Creates, &rec.Counts.Updates, &rec.Counts.Deletes,
		&rec.Counts.Conflicts, &rec.Counts.Blocked, &rec.Counts.Noops,
		&rec.Outcome, &rec.Detail, &rec.CorrelationID)
	if err != nil {
		return RunRecord{}, err
	}
	if started.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, started.String); perr == nil {
			rec.StartedAt = t
		}
	}
	if finished.Valid && finished.String != "" {
		if t, perr := time.Parse(time.RFC3339Nano, finished.String); perr == nil {
			rec.FinishedAt = t
		}
	}
	return rec, nil
}
