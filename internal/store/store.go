// Package store provides the file-lock-guarded atomic read-modify-write
// primitive that every kaiwa resource mutation funnels through. The
// on-disk JSON for a resource is only ever replaced via a temp-file-then-
// rename swap, so no concurrent reader observes a partially-written file,
// and the sidecar lock guarantees at most one writer is inside its
// modifier at a time for a given resource.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mizuki-ai/kaiwa/internal/filelock"
)

// DefaultLockTimeout bounds lock acquisition for resources that don't
// configure their own timeout.
const DefaultLockTimeout = 10 * time.Second

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a document that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrCorrupt is returned when an on-disk document cannot be parsed.
var ErrCorrupt = errors.New("corrupt data")

// Read decodes the JSON document at path into v.
// Returns ErrNotFound if the file is missing and ErrCorrupt (wrapping the
// decode error) if it cannot be parsed.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// ReadLenient decodes the JSON document at path into v. A missing or
// corrupt file is recovered by calling reset, which should restore v to a
// usable empty document. This is the deliberate prefer-availability policy
// for the session index and the cache registry; session files themselves
// use the strict Read.
func ReadLenient(path string, v any, reset func()) error {
	err := Read(path, v)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
		reset()
		return nil
	}
	return err
}

// Update performs a locked read-modify-write of the JSON document at path:
// acquire the sidecar lock, read the current document (or start from
// init's result when the file is absent; a nil init fails with
// ErrNotFound), run modify, atomically swap the serialized result over
// path, release the lock. The modifier mutates the document in place;
// caller-visible results are returned through closure capture.
func Update[T any](path string, timeout time.Duration, init func() *T, modify func(*T) error) error {
	return filelock.WithLock(path, timeout, func() error {
		doc := new(T)
		err := Read(path, doc)
		switch {
		case errors.Is(err, ErrNotFound):
			if init == nil {
				return fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			doc = init()
		case err != nil:
			return err
		}

		if err := modify(doc); err != nil {
			return err
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", path, err)
		}
		return WriteAtomic(path, data, 0644)
	})
}

// UpdateLenient is Update with the lenient recovery policy: a missing or
// corrupt document starts from init's result instead of failing. init
// must not be nil.
func UpdateLenient[T any](path string, timeout time.Duration, init func() *T, modify func(*T) error) error {
	return filelock.WithLock(path, timeout, func() error {
		doc := new(T)
		err := Read(path, doc)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
			doc = init()
		} else if err != nil {
			return err
		}

		if err := modify(doc); err != nil {
			return err
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", path, err)
		}
		return WriteAtomic(path, data, 0644)
	})
}

// Create writes the JSON document at path only if it does not already
// exist, under the sidecar lock. Returns ErrAlreadyExists otherwise.
func Create[T any](path string, timeout time.Duration, doc *T) error {
	return filelock.WithLock(path, timeout, func() error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", path, err)
		}
		return WriteAtomic(path, data, 0644)
	})
}

// Remove deletes the document at path under the sidecar lock.
// Returns ErrNotFound if the document does not exist.
func Remove(path string, timeout time.Duration) error {
	return filelock.WithLock(path, timeout, func() error {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	})
}

// WriteAtomic writes data to path by writing a temporary file in the same
// directory and renaming it over path. The target is never in a
// partially-written state: either the old document or the new one is
// visible, nothing in between.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create temp file in same directory to ensure atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Sync to disk
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
