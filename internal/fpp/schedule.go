package fpp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// BackupName is the fixed backup file written next to the live
// schedule, overwritten on every apply.
const BackupName = "schedule.backup.json"

const lockRetryDelay = 100 * time.Millisecond

// ReadSchedule loads the scheduler file and its modification time. A
// missing file is an empty schedule, not an error. Rows are validated
// strictly; the reader never repairs.
func ReadSchedule(path string) ([]ScheduleEntry, time.Time, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read schedule %s: %w", path, err)
	}
	var entries []ScheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse schedule %s: %w", path, err)
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, time.Time{}, fmt.Errorf("schedule %s row %d: %w", path, i, err)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat schedule %s: %w", path, err)
	}
	return entries, info.ModTime(), nil
}

// Writer replaces the scheduler file through the staged protocol:
// serialize and validate before any lock, then under an advisory lock
// back the live file up, write a staging file and rename it into
// place. The player only ever sees the old or the new schedule.
type Writer struct {
	path   string
	logger *slog.Logger
}

func NewWriter(path string, logger *slog.Logger) *Writer {
	return &Writer{path: path, logger: logger}
}

// Path returns the live schedule path.
func (w *Writer) Path() string { return w.path }

// BackupPath returns where the pre-apply schedule is kept.
func (w *Writer) BackupPath() string {
	return filepath.Join(filepath.Dir(w.path), BackupName)
}

func (w *Writer) lockPath() string { return w.path + ".lock" }

// Write replaces the schedule with the given rows. An empty row set is
// refused: a show controller losing its whole schedule is almost
// always a planning bug upstream, never routine.
func (w *Writer) Write(ctx context.Context, entries []ScheduleEntry) error {
	if len(entries) == 0 {
		return ErrEmptySchedule
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize schedule: %w", err)
	}
	data = append(data, '\n')
	var reparse []ScheduleEntry
	if err := json.Unmarshal(data, &reparse); err != nil || len(reparse) != len(entries) {
		return fmt.Errorf("serialized schedule does not parse back: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create schedule dir: %w", err)
	}

	lock := flock.New(w.lockPath())
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock schedule: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock schedule: not acquired")
	}
	defer lock.Unlock()

	if err := w.backupLocked(); err != nil {
		return err
	}
	staging := w.path + ".staging"
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return fmt.Errorf("write staging schedule: %w", err)
	}
	if err := os.Rename(staging, w.path); err != nil {
		return fmt.Errorf("replace schedule: %w", err)
	}
	w.logger.Info("schedule replaced",
		slog.String("path", w.path),
		slog.Int("rows", len(entries)))
	return nil
}

// backupLocked snapshots the live file to the backup path. Caller
// holds the lock. A missing live file means a first write; nothing to
// back up.
func (w *Writer) backupLocked() error {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schedule for backup: %w", err)
	}
	if err := os.WriteFile(w.BackupPath(), data, 0o644); err != nil {
		return fmt.Errorf("write schedule backup: %w", err)
	}
	return nil
}

// Restore puts the backup back as the live schedule. Used when a
// post-write verification fails.
func (w *Writer) Restore(ctx context.Context) error {
	lock := flock.New(w.lockPath())
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock schedule: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock schedule: not acquired")
	}
	defer lock.Unlock()

	data, err := os.ReadFile(w.BackupPath())
	if err != nil {
		return fmt.Errorf("read schedule backup: %w", err)
	}
	staging := w.path + ".staging"
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return fmt.Errorf("write staging schedule: %w", err)
	}
	if err := os.Rename(staging, w.path); err != nil {
		return fmt.Errorf("replace schedule: %w", err)
	}
	w.logger.Warn("schedule restored from backup", slog.String("path", w.path))
	return nil
}
