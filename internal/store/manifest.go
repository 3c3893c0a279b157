package store

import (
	"fmt"

	"github.com/fppkit/calbridge/internal/intent"
)

// ManifestStore persists the last-synced manifest. Its file is the
// single source of truth for "what both sides agreed on last time";
// loading it back must reproduce the exact hashes it was saved with.
type ManifestStore struct {
	path string
}

func NewManifestStore(path string) *ManifestStore {
	return &ManifestStore{path: path}
}

func (s *ManifestStore) Path() string { return s.path }

// Load reads the manifest, or returns an empty one on first run.
// Every event is re-finalized and checked against its stored key, so
// hand-edited or truncated files surface as ErrCorrupt instead of
// feeding the planner bad identities.
func (s *ManifestStore) Load() (*intent.Manifest, error) {
	m := intent.NewManifest("sync")
	found, err := readJSON(s.path, m)
	if err != nil {
		return nil, err
	}
	if !found {
		return intent.NewManifest("sync"), nil
	}
	if m.Events == nil {
		m.Events = make(map[string]*intent.ManifestEvent)
	}
	for key, ev := range m.Events {
		if err := ev.Finalize(); err != nil {
			return nil, fmt.Errorf("%w: manifest event %s: %v", ErrCorrupt, key, err)
		}
		if ev.IdentityHash != key {
			return nil, fmt.Errorf("%w: manifest key %s does not match identity %s", ErrCorrupt, key, ev.IdentityHash)
		}
	}
	return m, nil
}

// Save writes the manifest atomically. Map keys marshal sorted, so
// the file is byte-stable for identical content.
func (s *ManifestStore) Save(m *intent.Manifest) error {
	if m == nil {
		m = intent.NewManifest("sync")
	}
	if m.Version == 0 {
		m.Version = intent.ManifestVersion
	}
	return writeJSON(s.path, m)
}
