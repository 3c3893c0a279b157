// Package store persists the bridge's durable state under the state
// directory: the last-synced manifest, tombstones, player write
// stamps, the provider snapshot cache, runtime settings and the run
// journal. Every JSON file is replaced atomically via a sibling temp
// file and rename so a crash never leaves a half-written store.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt marks a state file that exists but cannot be decoded.
// The stores never repair in place; the operator decides.
var ErrCorrupt = errors.New("corrupt state file")

// Paths resolves the on-disk layout below one state directory.
type Paths struct {
	Root string
}

func NewPaths(root string) Paths { return Paths{Root: root} }

func (p Paths) Manifest() string   { return filepath.Join(p.Root, "manifest.json") }
func (p Paths) Runtime() string    { return filepath.Join(p.Root, "runtime") }
func (p Paths) Tombstones() string { return filepath.Join(p.Runtime(), "tombstones.json") }
func (p Paths) FppTimes() string   { return filepath.Join(p.Runtime(), "fpp-times.json") }
func (p Paths) Snapshot() string   { return filepath.Join(p.Runtime(), "calendar-snapshot.json") }
func (p Paths) Settings() string   { return filepath.Join(p.Runtime(), "settings.json") }
func (p Paths) Journal() string    { return filepath.Join(p.Runtime(), "journal.db") }
func (p Paths) RunLock() string    { return filepath.Join(p.Runtime(), "run.lock") }
func (p Paths) Token() string      { return filepath.Join(p.Runtime(), "token.json") }

// readJSON decodes path into out. The boolean reports whether the
// file existed; a missing file is not an error.
func readJSON[T any](path string, out *T) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON replaces path atomically: temp sibling, then rename.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
