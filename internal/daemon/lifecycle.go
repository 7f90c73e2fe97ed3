package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/majorcontext/girasol/internal/errdefs"
)

const lockFileName = "daemon.lock"

// LockInfo is what a running daemon advertises to clients in its lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	Listen    string    `json:"listen"`
	StartedAt time.Time `json:"started_at"`
}

// IsAlive reports whether the recorded process still exists.
func (l *LockInfo) IsAlive() bool {
	if l.PID <= 0 {
		return false
	}
	process, err := os.FindProcess(l.PID)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Lock is the daemon's exclusive claim on a home directory. At most one
// live process holds it; a lock left behind by a dead process is taken over.
type Lock struct {
	path string
	info LockInfo
}

// AcquireLock claims dir for the current process. It fails with
// ErrConflict while another live daemon holds the lock.
func AcquireLock(dir, listen string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	l := &Lock{
		path: filepath.Join(dir, lockFileName),
		info: LockInfo{PID: os.Getpid(), Listen: listen, StartedAt: time.Now().UTC()},
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			werr := writeLockInfo(f, l.info)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(l.path)
				return nil, fmt.Errorf("writing lock file: %w", werr)
			}
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		holder, rerr := ReadLockFile(dir)
		if rerr == nil && holder != nil && holder.IsAlive() && holder.PID != os.Getpid() {
			return nil, errdefs.Conflict("daemon already running (pid %d, listening on %s)", holder.PID, holder.Listen)
		}
		// Stale or unreadable: the holder is gone.
		os.Remove(l.path)
	}
	return nil, errdefs.Conflict("lock file %s is contended", l.path)
}

// Info returns what the lock currently advertises.
func (l *Lock) Info() LockInfo { return l.info }

// SetListen records the bound address once it is known.
func (l *Lock) SetListen(addr string) error {
	l.info.Listen = addr
	tmp := l.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeLockInfo(f, l.info); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, l.path)
}

// Release removes the lock file if this process still owns it.
func (l *Lock) Release() {
	if info, err := ReadLockFile(filepath.Dir(l.path)); err == nil && info != nil && info.PID != l.info.PID {
		return
	}
	os.Remove(l.path)
}

func writeLockInfo(f *os.File, info LockInfo) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		return err
	}
	return f.Sync()
}

// ReadLockFile reads the lock file in dir. Returns nil, nil if there is none.
func ReadLockFile(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	return &info, nil
}

// ResolveEndpoint returns the address of the live daemon advertised in dir,
// or fallback when there is none.
func ResolveEndpoint(dir, fallback string) string {
	lock, err := ReadLockFile(dir)
	if err != nil || lock == nil || !lock.IsAlive() || lock.Listen == "" {
		return fallback
	}
	return lock.Listen
}
