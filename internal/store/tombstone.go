package store

// TombstoneVersion is the current tombstone file format.
const TombstoneVersion = 1

// Tombstones records deliberate deletions so a one-sided absence is
// not mistaken for something to recreate. Calendar entries are scoped
// "calendarID::identityHash" and only suppress resurrection on that
// calendar; player entries are global identity hashes.
type Tombstones struct {
	Version     int              `json:"version"`
	GeneratedAt int64            `json:"generatedAtEpoch"`
	Sources     TombstoneSources `json:"sources"`
}

type TombstoneSources struct {
	Calendar map[string]int64 `json:"calendar"`
	Fpp      map[string]int64 `json:"fpp"`
}

// NewTombstones allocates an empty set.
func NewTombstones() *Tombstones {
	return &Tombstones{
		Version: TombstoneVersion,
		Sources: TombstoneSources{
			Calendar: make(map[string]int64),
			Fpp:      make(map[string]int64),
		},
	}
}

// MarkCalendar records a calendar-side deletion under its scoped key.
func (t *Tombstones) MarkCalendar(scopedKey string, epoch int64) {
	t.Sources.Calendar[scopedKey] = epoch
}

// MarkFpp records a player-side deletion.
func (t *Tombstones) MarkFpp(identityHash string, epoch int64) {
	t.Sources.Fpp[identityHash] = epoch
}

// Expire drops the named keys from both sides. Keys that are not
// present are ignored.
func (t *Tombstones) Expire(calendarKeys, fppKeys []string) {
	for _, k := range calendarKeys {
		delete(t.Sources.Calendar, k)
	}
	for _, k := range fppKeys {
		delete(t.Sources.Fpp, k)
	}
}

// TombstoneStore persists the tombstone file.
type TombstoneStore struct {
	path string
}

func NewTombstoneStore(path string) *TombstoneStore {
	return &TombstoneStore{path: path}
}

func (s *TombstoneStore) Path() string { return s.path }

// Load reads the tombstone set, or an empty one when the file does
// not exist yet.
func (s *TombstoneStore) Load() (*Tombstones, error) {
	t := NewTombstones()
	found, err := readJSON(s.path, t)
	if err != nil {
		return nil, err
	}
	if !found {
		return NewTombstones(), nil
	}
	if t.Sources.Calendar == nil {
		t.Sources.Calendar = make(map[string]int64)
	}
	if t.Sources.Fpp == nil {
		t.Sources.Fpp = make(map[string]int64)
	}
	return t, nil
}

// Save stamps the set and writes it atomically.
func (s *TombstoneStore) Save(t *Tombstones, nowEpoch int64) error {
	if t == nil {
		t = NewTombstones()
	}
	t.Version = TombstoneVersion
	t.GeneratedAt = nowEpoch
	return writeJSON(s.path, t)
}
