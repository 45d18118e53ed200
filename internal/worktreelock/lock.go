// Package worktreelock implements the cross-process exclusive lock that
// serializes shared version-control operations on one working copy.
//
// Acquisition is atomic directory creation at <worktree>/.git-lock/; success
// is proven by writing lock.json inside. This is deliberately not an
// advisory byte-range lock: those do not survive crashed interpreters
// reliably on every filesystem the engine targets, while mkdir-atomicity
// does.
package worktreelock

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

const (
	// DefaultTimeout bounds how long Acquire retries before giving up.
	DefaultTimeout = 30 * time.Second
	// retryInterval is the polling interval between acquisition attempts.
	retryInterval = 100 * time.Millisecond
	// staleAge is how old a lock directory's mtime must be to be
	// considered stale regardless of owner liveness.
	staleAge = 5 * time.Minute

	lockDirName  = ".git-lock"
	metaFileName = "lock.json"
)

// Metadata is the on-disk contents of lock.json.
type Metadata struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Hostname   string    `json:"hostname"`
}

// Handle represents a held lock. Release is idempotent and safe to call
// from a deferred statement on every exit path, including after a panic.
type Handle struct {
	path       string
	acquiredAt time.Time
	pid        int

	once     sync.Once
	stopSig  func()
}

func (h *Handle) Path() string          { return h.path }
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }
func (h *Handle) PID() int              { return h.pid }

// Release removes the lock directory. Calling Release more than once has
// the same effect as calling it once.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		if h.stopSig != nil {
			h.stopSig()
		}
		err = os.RemoveAll(h.path)
	})
	return err
}

func lockDir(worktreePath string) string {
	return filepath.Join(worktreePath, lockDirName)
}

// Acquire blocks until the lock on worktreePath is obtained or timeout
// elapses. On success a signal hook is installed so that interrupting the
// holding process removes the lock directory on exit.
func Acquire(worktreePath string, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dir := lockDir(worktreePath)
	deadline := time.Now().Add(timeout)

	for {
		acquiredAt := time.Now()
		if err := os.Mkdir(dir, 0o755); err == nil {
			meta := Metadata{PID: os.Getpid(), AcquiredAt: acquiredAt, Hostname: hostname()}
			if err := writeMetadata(dir, meta); err != nil {
				os.RemoveAll(dir)
				return nil, core.NewDomainError(core.CategoryLock, "lock_metadata_write_failed", "failed to write lock metadata", err)
			}
			h := &Handle{path: dir, acquiredAt: acquiredAt, pid: meta.PID}
			h.stopSig = installExitHook(h)
			return h, nil
		} else if !os.IsExist(err) {
			return nil, core.NewDomainError(core.CategoryLock, "lock_mkdir_failed", "failed to create lock directory", err)
		}

		if isStale(dir) {
			os.RemoveAll(dir)
			continue
		}

		if time.Now().After(deadline) {
			return nil, core.NewDomainError(core.CategoryLock, "lock_timeout", "timed out waiting for worktree lock", nil).
				WithDetails(map[string]any{"path": dir})
		}
		time.Sleep(retryInterval)
	}
}

// WithLock acquires the lock, runs fn, and releases the lock on every exit
// path including panics.
func WithLock(worktreePath string, timeout time.Duration, fn func() error) error {
	h, err := Acquire(worktreePath, timeout)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn()
}

func writeMetadata(dir string, meta Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, metaFileName), b, 0o644)
}

// isStale implements the load-bearing policy: stale by age OR stale by dead
// owner OR inconclusive (missing/corrupt metadata) all count as stale.
func isStale(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil {
		// Directory vanished between our failed Mkdir and this check;
		// treat as stale so the caller retries immediately.
		return true
	}
	if time.Since(info.ModTime()) > staleAge {
		return true
	}

	meta, err := readMetadata(dir)
	if err != nil {
		return true
	}
	alive, err := process.PidExists(int32(meta.PID))
	if err != nil {
		return true
	}
	return !alive
}

func readMetadata(dir string) (Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func hostname() string {
	h := os.Getenv("HOSTNAME")
	if h == "" {
		return "unknown"
	}
	return h
}

// installExitHook arranges for h's lock directory to be removed if the
// process receives an interrupt/termination signal, and returns a function
// that cancels the hook (called from Release).
func installExitHook(h *Handle) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			os.RemoveAll(h.path)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
