package state

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/schuerik/uberdot/pkg/errors"
)

// Lock holds an advisory exclusive lock guarding the state file against
// concurrent uberdot invocations for the duration of a run.
type Lock struct {
	file *os.File
}

// Acquire takes a non-blocking exclusive flock on a sibling lock file.
// A second invocation on the same state file fails immediately instead
// of queueing behind the first.
func (s *Store) Acquire() (*Lock, error) {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, errors.Wrap(err, errors.ErrExecution, "failed to create state directory")
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrExecution, "failed to open lock file %s", lockPath)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.Newf(errors.ErrPrecondition,
				"another uberdot instance holds the lock on %s", s.path)
		}
		return nil, errors.Wrapf(err, errors.ErrExecution, "failed to lock %s", lockPath)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. Safe to call once; the lock file itself stays
// behind as an inert marker.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrExecution, "failed to unlock state file")
	}
	return closeErr
}
