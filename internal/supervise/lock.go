package supervise

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// InstanceLock guards against two ntmd processes sharing one data
// directory. Grounded on the teacher's single-process assumption in
// cmd/server/main.go (one store, one broadcaster, no peer coordination),
// generalized here into an explicit filesystem lock since NTMD's store
// is a single SQLite file rather than an in-memory map.
type InstanceLock struct {
	fl *flock.Flock
}

// ErrAlreadyRunning is returned by AcquireInstanceLock when another process
// already holds the lock; callers should exit(4) per spec.md's exit codes.
var ErrAlreadyRunning = fmt.Errorf("supervise: another ntmd instance holds the lock for this data directory")

// AcquireInstanceLock takes a non-blocking exclusive lock on
// <dataDir>/ntmd.lock. Returns ErrAlreadyRunning if the lock is held.
func AcquireInstanceLock(dataDir string) (*InstanceLock, error) {
	path := filepath.Join(dataDir, "ntmd.lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("supervise: acquiring instance lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &InstanceLock{fl: fl}, nil
}

// Release unlocks and closes the lock file.
func (l *InstanceLock) Release() error {
	return l.fl.Unlock()
}
