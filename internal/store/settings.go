package store

// RuntimeSettings are the operator-adjustable knobs that survive
// restarts: which calendar to bind and which directions to sync.
// Unset fields fall back to the environment configuration.
type RuntimeSettings struct {
	CalendarID string `json:"calendarId,omitempty"`
	SyncMode   string `json:"syncMode,omitempty"`
	Provider   string `json:"provider,omitempty"`
	UpdatedAt  int64  `json:"updatedAtEpoch,omitempty"`
}

// SettingsStore persists the runtime settings file.
type SettingsStore struct {
	path string
}

func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

func (s *SettingsStore) Path() string { return s.path }

// Load reads the settings; a missing file is just all defaults.
func (s *SettingsStore) Load() (*RuntimeSettings, error) {
	var rs RuntimeSettings
	if _, err := readJSON(s.path, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Save writes the settings atomically.
func (s *SettingsStore) Save(rs *RuntimeSettings) error {
	if rs == nil {
		rs = &RuntimeSettings{}
	}
	return writeJSON(s.path, rs)
}
