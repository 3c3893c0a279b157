package store

import (
	"github.com/fppkit/calbridge/internal/provider"
)

// Snapshot caches the raw provider rows from the last successful
// refresh. Status and preview can fall back to it when the provider
// is unreachable and the caller explicitly allows stale reads; apply
// never does.
type Snapshot struct {
	CalendarID  string              `json:"calendarId"`
	Provider    string              `json:"provider,omitempty"`
	GeneratedAt int64               `json:"generatedAtEpoch"`
	Events      []provider.RawEvent `json:"events"`
}

// AgeSeconds reports how old the snapshot is at the given instant.
func (s *Snapshot) AgeSeconds(nowEpoch int64) int64 {
	if s == nil || s.GeneratedAt == 0 {
		return -1
	}
	age := nowEpoch - s.GeneratedAt
	if age < 0 {
		return 0
	}
	return age
}

// SnapshotStore persists the provider snapshot cache.
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

func (s *SnapshotStore) Path() string { return s.path }

// Load reads the snapshot; nil means none has been taken yet.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	var snap Snapshot
	found, err := readJSON(s.path, &snap)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// Save replaces the cache after a successful provider refresh.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	return writeJSON(s.path, snap)
}
