// Package lock marks a working directory as owned by a live process. The
// owner holds an exclusive flock(2) on a file inside the directory for as long
// as the directory is in use; a crashed owner releases it implicitly.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrHeld is returned when another open file description holds the lock.
var ErrHeld = errors.New("lock is held by another owner")

// OwnerLock keeps the lock alive by keeping the file descriptor open.
type OwnerLock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at lockPath without blocking and writes the current
// PID into the file.
func Acquire(lockPath string) (*OwnerLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := tryLock(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := writePID(f); err != nil {
		unlock(f)
		_ = f.Close()
		return nil, err
	}

	return &OwnerLock{path: lockPath, f: f}, nil
}

// Held reports whether some live owner holds the lock at lockPath. A missing
// lock file means no owner.
func Held(lockPath string) (bool, error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	if err := tryLock(f); err != nil {
		if errors.Is(err, ErrHeld) {
			return true, nil
		}
		return false, err
	}
	unlock(f)
	return false, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return nil
}

func (l *OwnerLock) Path() string { return l.path }

// Release drops the lock. It is safe to call more than once.
func (l *OwnerLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlock(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}
