//go:build windows

package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const lockFile = "index.lock"

// Lock is an exclusive advisory cross-process lock guarding the snapshot file.
// Note: Windows locking is not yet implemented. This uses a simple PID-based check.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock attempts to acquire the snapshot lock.
// On Windows, this uses a simple file-based check (not truly atomic).
func AcquireLock(cartoDir string, wait time.Duration) (*Lock, error) {
	if err := os.MkdirAll(cartoDir, 0755); err != nil {
		return nil, fmt.Errorf("creating carto directory: %w", err)
	}

	path := filepath.Join(cartoDir, lockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing PID to lock file: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Release releases the lock and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	l.file.Close()
	os.Remove(l.path)
}
