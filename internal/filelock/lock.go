package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Suffix is appended to a resource path to form its lock marker path.
const Suffix = ".lock"

// pollInterval is the fixed backoff between acquisition attempts.
const pollInterval = 50 * time.Millisecond

// ErrLockTimeout is returned when a lock cannot be acquired within the
// configured timeout. It is fatal to the calling operation; callers may
// retry at a higher level but the package never retries automatically.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Lock represents an acquired advisory lock on a resource path.
type Lock struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	// Internal fields (not serialized)
	markerPath string
}

// MarkerPath returns the lock marker path for a resource path.
func MarkerPath(path string) string {
	return path + Suffix
}

// Acquire attempts to exclusively create the lock marker for path.
// If the marker already exists it polls with a fixed backoff until either
// the marker disappears or timeout elapses, at which point it returns
// ErrLockTimeout. The caller must pair every successful Acquire with a
// Release.
func Acquire(path string, timeout time.Duration) (*Lock, error) {
	markerPath := MarkerPath(path)

	// The marker lives next to the resource; make sure the directory exists
	// so locking a not-yet-created resource works.
	if err := os.MkdirAll(filepath.Dir(markerPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	deadline := time.Now().Add(timeout)
	for {
		// O_EXCL makes creation the atomic acquisition point.
		f, err := os.OpenFile(markerPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			lock := &Lock{
				PID:        os.Getpid(),
				Hostname:   hostname,
				AcquiredAt: time.Now(),
				markerPath: markerPath,
			}
			data, merr := json.MarshalIndent(lock, "", "  ")
			if merr == nil {
				_, merr = f.Write(data)
			}
			cerr := f.Close()
			if merr != nil || cerr != nil {
				os.Remove(markerPath)
				if merr != nil {
					return nil, fmt.Errorf("failed to write lock marker: %w", merr)
				}
				return nil, fmt.Errorf("failed to close lock marker: %w", cerr)
			}
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock marker: %w", err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, path, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// Release removes the lock marker. Safe to call multiple times.
// Only a marker written by this process is removed (PID check), so a
// Release racing with another process's acquisition cannot steal its lock.
func (l *Lock) Release() error {
	if l == nil || l.markerPath == "" {
		return nil
	}

	existing, err := ReadMarker(l.markerPath)
	if err != nil {
		// Marker doesn't exist or can't be read - nothing to do
		return nil
	}
	if existing.PID != l.PID {
		// Not our marker - don't remove it
		return nil
	}

	if err := os.Remove(l.markerPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// WithLock acquires the lock for path, runs fn, and releases the lock on
// every exit path including panics.
func WithLock(path string, timeout time.Duration, fn func() error) error {
	lock, err := Acquire(path, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	return fn()
}

// ReadMarker reads a lock marker file and returns the recorded Lock info.
func ReadMarker(markerPath string) (*Lock, error) {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock marker: %w", err)
	}
	lock.markerPath = markerPath

	return &lock, nil
}

// IsLocked reports whether the resource at path currently has a lock
// marker held by a live process. Returns the marker info if present.
func IsLocked(path string) (*Lock, bool) {
	lock, err := ReadMarker(MarkerPath(path))
	if err != nil {
		return nil, false
	}
	if !isProcessAlive(lock.PID) {
		// Stale marker
		return lock, false
	}
	return lock, true
}

// CleanStale removes the lock marker for path if its recorded process is
// no longer running. Returns true if a stale marker was removed.
func CleanStale(path string) (bool, error) {
	markerPath := MarkerPath(path)

	lock, err := ReadMarker(markerPath)
	if err != nil {
		// No marker, or an unreadable one we won't touch
		return false, nil
	}
	if isProcessAlive(lock.PID) {
		return false, nil
	}

	if err := os.Remove(markerPath); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove stale lock marker: %w", err)
	}
	return true, nil
}

// CleanStaleAll walks dir and removes every stale lock marker found.
// Returns the resource paths whose markers were cleaned.
func CleanStaleAll(dir string) ([]string, error) {
	var cleaned []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, Suffix) {
			return nil
		}
		resource := strings.TrimSuffix(p, Suffix)
		ok, cerr := CleanStale(resource)
		if cerr != nil {
			return cerr
		}
		if ok {
			cleaned = append(cleaned, resource)
		}
		return nil
	})
	if err != nil {
		return cleaned, err
	}
	return cleaned, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	// On Unix, sending signal 0 checks if process exists without affecting it
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
