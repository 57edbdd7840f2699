package peerroll

import (
	"os"
	"path/filepath"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/rkt/rkt/pkg/lock"
)

// hostLock serializes Sync evaluations between multiple processes acting for
// the same unit on one host. Some hosting agents dispatch each lifecycle hook
// in a fresh process and additionally keep a background worker around; two of
// those racing to evaluate the same snapshot could both publish. An exclusive
// lock on a well-known file keeps them honest. It is optional: a host whose
// event delivery is already single-threaded does not need it.
type hostLock struct {
	dir string
	l   log15.Logger
}

// errHostBusy indicates that another local process is evaluating right now.
// The holder will pick up whatever we were reacting to, so skipping is safe.
var errHostBusy = errors.New("another local process holds the evaluation lock")

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0755)
	if err != nil {
		return err
	}
	return f.Close()
}

func (h *hostLock) path() string {
	return filepath.Join(h.dir, "sync.lock")
}

// acquire takes the exclusive evaluation lock without blocking. On success
// the caller must Close the returned lock to release it. If another process
// holds it, errHostBusy is returned.
func (h *hostLock) acquire() (*lock.FileLock, error) {
	if err := touchFile(h.path()); err != nil {
		return nil, errors.Wrapf(err, "error creating evaluation lock file")
	}
	fileLock, err := lock.TryExclusiveLock(h.path(), lock.RegFile)
	if err == lock.ErrLocked {
		h.l.Debug("evaluation lock held elsewhere, skipping", "path", h.path())
		return nil, errHostBusy
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error taking evaluation lock")
	}
	return fileLock, nil
}
