package proc

import (
	"fmt"

	"github.com/gofrs/flock"
)

// WithLock runs fn while holding an exclusive file lock at path,
// serializing cross-process mutation of a single external resource such
// as a program's build directory. Acquisition blocks; the lock is
// released on every exit path.
func WithLock(path string, fn func() error) error {
	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	defer lock.Unlock()

	return fn()
}
