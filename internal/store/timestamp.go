package store

// Timestamps remembers when the bridge last wrote each managed
// identity (and each exact state) into the schedule file. The next
// run compares these against the file mtime to tell its own writes
// from later manual edits. Both maps are best effort; losing them
// only degrades authority decisions to the file mtime.
type Timestamps struct {
	Identity map[string]int64 `json:"identity"`
	State    map[string]int64 `json:"state"`
}

func NewTimestamps() *Timestamps {
	return &Timestamps{
		Identity: make(map[string]int64),
		State:    make(map[string]int64),
	}
}

// TimestampStore persists the player write stamps.
type TimestampStore struct {
	path string
}

func NewTimestampStore(path string) *TimestampStore {
	return &TimestampStore{path: path}
}

func (s *TimestampStore) Path() string { return s.path }

// Load reads the stamps. A missing or corrupt file comes back empty
// with the error, so callers can log and carry on with mtime-only
// authority.
func (s *TimestampStore) Load() (*Timestamps, error) {
	t := NewTimestamps()
	if _, err := readJSON(s.path, t); err != nil {
		return NewTimestamps(), err
	}
	if t.Identity == nil {
		t.Identity = make(map[string]int64)
	}
	if t.State == nil {
		t.State = make(map[string]int64)
	}
	return t, nil
}

// Save writes the stamps atomically.
func (s *TimestampStore) Save(t *Timestamps) error {
	if t == nil {
		t = NewTimestamps()
	}
	return writeJSON(s.path, t)
}

// Absorb replaces the stamps for the identities and states written
// this run and drops identities that were deleted. State stamps for
// identities that no longer exist are pruned so the map stays bounded
// by the managed set.
func (t *Timestamps) Absorb(identity, state map[string]int64, deleted []string) {
	for _, id := range deleted {
		delete(t.Identity, id)
	}
	for id, epoch := range identity {
		t.Identity[id] = epoch
	}
	if len(state) > 0 {
		// a schedule write replaces the whole managed row set, so the
		// surviving states are exactly the ones just written
		t.State = make(map[string]int64, len(state))
		for h, epoch := range state {
			t.State[h] = epoch
		}
	}
}
