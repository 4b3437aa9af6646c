package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockTimeout    = 10 * time.Second
	lockRetry      = 10 * time.Millisecond
	lockStaleAfter = time.Minute
)

// ErrLockTimeout is returned when another process holds the append lock for
// longer than the timeout.
var ErrLockTimeout = errors.New("append lock timeout")

// AppendLine appends line plus a newline to path under a sibling .lock file
// so concurrent processes never interleave records. Lock files older than a
// minute are treated as abandoned and removed.
func AppendLine(path string, line []byte, mode os.FileMode) error {
	if !filepath.IsAbs(path) && !filepath.IsLocal(path) {
		return fmt.Errorf("append path %q must be absolute or local", path)
	}
	clean := filepath.Clean(path)
	parent := filepath.Dir(clean)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("create append directory: %w", err)
	}

	record := make([]byte, 0, len(line)+1)
	record = append(record, line...)
	record = append(record, '\n')

	err := withLock(clean+".lock", func() error {
		// #nosec G304 -- path is checked above and chosen by the operator.
		file, err := os.OpenFile(clean, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if err != nil {
			return fmt.Errorf("open append file: %w", err)
		}
		if _, err := file.Write(record); err != nil {
			_ = file.Close()
			return fmt.Errorf("append line: %w", err)
		}
		if err := file.Sync(); err != nil {
			_ = file.Close()
			return fmt.Errorf("sync append file: %w", err)
		}
		return file.Close()
	})
	if err != nil {
		return err
	}
	syncDir(parent)
	return nil
}

func withLock(lockPath string, fn func() error) error {
	deadline := time.Now().Add(lockTimeout)
	for {
		// #nosec G304 -- lock path is derived from a checked append path.
		lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lock.Close()
			defer func() {
				_ = os.Remove(lockPath)
			}()
			return fn()
		}
		if !lockHeld(err, lockPath) {
			return fmt.Errorf("acquire append lock: %w", err)
		}
		if lockStale(lockPath, time.Now()) {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(lockRetry)
	}
}

// lockHeld reports whether err means another writer owns the lock. Windows
// reports a pending delete as a permission error.
func lockHeld(err error, lockPath string) bool {
	if errors.Is(err, os.ErrExist) {
		return true
	}
	if !errors.Is(err, os.ErrPermission) {
		return false
	}
	_, statErr := os.Stat(lockPath)
	return statErr == nil
}

func lockStale(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) > lockStaleAfter
}
