// Package oplock keeps long-running operations exclusive across processes.
//
// The lock is an advisory OS file lock, so it is released when the holding
// process exits, however it exits.
package oplock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock is held by another operation")

// Acquire takes the lock at path without blocking and returns the function
// that releases it. The lock file's directory is created if missing.
func Acquire(path string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, path)
	}
	return func() { _ = fl.Unlock() }, nil
}
