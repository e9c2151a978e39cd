//go:build !windows

package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"carto/internal/errors"
)

const lockFile = "index.lock"

// Lock is an exclusive advisory cross-process lock guarding the snapshot file.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock attempts to acquire the exclusive snapshot lock, retrying with
// backoff for up to wait. Contention past the deadline surfaces as a
// LOCK_CONTENTION error naming the holder's PID when known.
func AcquireLock(cartoDir string, wait time.Duration) (*Lock, error) {
	if err := os.MkdirAll(cartoDir, 0755); err != nil {
		return nil, fmt.Errorf("creating carto directory: %w", err)
	}

	path := filepath.Join(cartoDir, lockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	deadline := time.Now().Add(wait)
	backoff := 25 * time.Millisecond
	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			if content, readErr := os.ReadFile(path); readErr == nil && len(content) > 0 {
				pid := strings.TrimSpace(string(content))
				return nil, errors.Newf(errors.LockContention,
					"index is locked by another process (PID %s)", pid)
			}
			return nil, errors.Newf(errors.LockContention, "index is locked by another process")
		}
		time.Sleep(backoff)
		if backoff < 400*time.Millisecond {
			backoff *= 2
		}
	}

	// Record our PID for diagnostics.
	if err := file.Truncate(0); err == nil {
		if _, err := file.Seek(0, 0); err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
		}
	}

	return &Lock{path: path, file: file}, nil
}

// Release releases the lock. The lock file is left in place: unlinking it
// would let a waiter holding an fd on the old inode flock the orphan while a
// newcomer locks a fresh file at the same path, yielding two holders. Every
// process flocks the same inode only if the path is never removed.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
}
