//go:build unix

package proc

import (
	"sync"

	"golang.org/x/sys/unix"
)

// rlimitMu serializes core-limit changes; the limit is process-wide and
// two concurrent launches must not restore each other's snapshot.
var rlimitMu sync.Mutex

// WithUnlimitedCore runs fn with RLIMIT_CORE raised to the hard maximum,
// restoring the previous limit on every exit path. Processes spawned
// inside fn inherit the lifted limit, so their coredumps are unbounded.
func WithUnlimitedCore(fn func() error) error {
	rlimitMu.Lock()
	defer rlimitMu.Unlock()

	var old unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &old); err != nil {
		// Cannot snapshot, run with whatever limit is in place.
		return fn()
	}

	lifted := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	if old.Max != unix.RLIM_INFINITY {
		// Unprivileged processes cannot raise the hard limit.
		lifted = unix.Rlimit{Cur: old.Max, Max: old.Max}
	}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &lifted); err == nil {
		defer func() { _ = unix.Setrlimit(unix.RLIMIT_CORE, &old) }()
	}

	return fn()
}
