package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// runLock serializes side-effecting runs on one host. It is advisory:
// previews never take it, applies always do.
type runLock struct {
	fl *flock.Flock
}

func acquireRunLock(path string) (*runLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrConcurrentRun, path)
	}
	return &runLock{fl: fl}, nil
}

func (l *runLock) release() {
	if l != nil && l.fl != nil {
		_ = l.fl.Unlock()
	}
}
