// Package lock provides the cross-process mutual exclusion primitive
// that serializes installer activity on the managed directory (spec
// §4.1, component A).
//
// Possession of a Guard is proof that the caller holds the exclusive
// advisory lock on a directory. Guard is a capability, not a mutex: it
// cannot be constructed except by Acquire, and its only operation is
// Release.
package lock

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-xdp/logging"
)

// logger is this package's component logger, configurable via the
// XDP_LOG environment variable.
var logger = func() *slog.Logger {
	l, err := logging.FromEnv()
	if err != nil {
		l = slog.Default()
	}
	return l.With("component", "lock")
}()

// Guard represents the dynamic region in which the directory's
// exclusive advisory lock is held. Its destructor (Release) unlocks and
// closes the underlying descriptor.
type Guard struct {
	f   *os.File
	dir string
}

// Acquire opens dir and obtains an exclusive advisory whole-file lock,
// blocking until it is available. There is no timeout and no backoff:
// flock(2) itself blocks the calling goroutine until the lock is free,
// matching the original's xdp_lock_acquire (a bare LOCK_EX, not
// LOCK_EX|LOCK_NB with polling).
//
// Callers must not nest acquisitions on the same directory from the
// same process; flock is not recursive and a second Acquire would
// deadlock against the first.
func Acquire(dir string) (*Guard, error) {
	logger.Debug("acquiring lock", "dir", dir)

	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", dir, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock: flock %s: %w", dir, err)
	}

	logger.Debug("lock acquired", "dir", dir)

	return &Guard{f: f, dir: dir}, nil
}

// Release unlocks and closes the guarded descriptor. Safe to call more
// than once: calls after the first find no descriptor and return nil.
func (g *Guard) Release() error {
	if g == nil || g.f == nil {
		return nil
	}
	logger.Debug("releasing lock", "dir", g.dir)
	err := unix.Flock(int(g.f.Fd()), unix.LOCK_UN)
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	g.f = nil
	return err
}
