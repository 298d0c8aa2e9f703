package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestAcquire_Release(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	lock, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Marker should exist while held
	if _, err := os.Stat(MarkerPath(path)); err != nil {
		t.Fatalf("Lock marker not created: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Marker should be gone after release
	if _, err := os.Stat(MarkerPath(path)); !os.IsNotExist(err) {
		t.Errorf("Lock marker still present after release: %v", err)
	}
}

func TestAcquire_CreatesMissingDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "resource.json")

	lock, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(MarkerPath(path)); err != nil {
		t.Fatalf("Lock marker not created: %v", err)
	}
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	lock, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	start := time.Now()
	_, err = Acquire(path, 200*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Expected ErrLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Timed out too early: %v", elapsed)
	}
}

func TestAcquire_SucceedsAfterRelease(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	first, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		second, err := Acquire(path, 2*time.Second)
		if err != nil {
			done <- err
			return
		}
		done <- second.Release()
	}()

	time.Sleep(100 * time.Millisecond)
	if err := first.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Second acquire after release failed: %v", err)
	}
}

func TestAcquire_DoesNotHealStaleMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	// Simulate a crashed holder: a marker with a dead PID.
	writeMarker(t, path, 999999999)

	_, err := Acquire(path, 150*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Expected ErrLockTimeout against stale marker, got %v", err)
	}

	// The stale marker must still be there - Acquire never removes it.
	if _, err := os.Stat(MarkerPath(path)); err != nil {
		t.Errorf("Stale marker was removed by Acquire: %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	lock, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("First Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Second Release failed: %v", err)
	}
}

func TestRelease_DoesNotRemoveForeignMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	lock, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Replace the marker with one owned by a different PID.
	if err := os.Remove(MarkerPath(path)); err != nil {
		t.Fatal(err)
	}
	writeMarker(t, path, os.Getpid()+1)

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := os.Stat(MarkerPath(path)); err != nil {
		t.Error("Release removed a marker owned by another process")
	}
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	wantErr := errors.New("modifier failed")
	err := WithLock(path, time.Second, func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithLock did not propagate error: %v", err)
	}

	// Lock must have been released despite the error.
	if _, err := os.Stat(MarkerPath(path)); !os.IsNotExist(err) {
		t.Errorf("Lock marker still present after failed WithLock: %v", err)
	}
}

func TestWithLock_MutualExclusion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter")

	if err := os.WriteFile(path, []byte("0"), 0644); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	const increments = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				err := WithLock(path, 10*time.Second, func() error {
					// Non-atomic read-increment-write; only the lock
					// protects it from lost updates.
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					n, err := strconv.Atoi(string(data))
					if err != nil {
						return err
					}
					return os.WriteFile(path, []byte(strconv.Itoa(n+1)), 0644)
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Worker failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != strconv.Itoa(workers*increments) {
		t.Errorf("Counter = %s, want %d (lost updates)", got, workers*increments)
	}
}

func TestIsLocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	if _, locked := IsLocked(path); locked {
		t.Fatal("Unlocked resource reported as locked")
	}

	lock, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	info, locked := IsLocked(path)
	if !locked {
		t.Fatal("Held lock not reported as locked")
	}
	if info.PID != os.Getpid() {
		t.Errorf("Lock PID = %d, want %d", info.PID, os.Getpid())
	}
}

func TestCleanStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource.json")

	// Live marker is left alone.
	lock, err := Acquire(path, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	cleaned, err := CleanStale(path)
	if err != nil {
		t.Fatalf("CleanStale failed: %v", err)
	}
	if cleaned {
		t.Error("CleanStale removed a live lock marker")
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}

	// Dead-PID marker is cleaned.
	writeMarker(t, path, 999999999)
	cleaned, err = CleanStale(path)
	if err != nil {
		t.Fatalf("CleanStale failed: %v", err)
	}
	if !cleaned {
		t.Error("CleanStale did not remove a stale marker")
	}
	if _, err := os.Stat(MarkerPath(path)); !os.IsNotExist(err) {
		t.Error("Stale marker still present after CleanStale")
	}
}

func TestCleanStaleAll(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "a", "stale.json")
	writeMarker(t, stale, 999999999)

	live := filepath.Join(dir, "b", "live.json")
	lock, err := Acquire(live, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	cleaned, err := CleanStaleAll(dir)
	if err != nil {
		t.Fatalf("CleanStaleAll failed: %v", err)
	}
	if len(cleaned) != 1 || cleaned[0] != stale {
		t.Errorf("CleanStaleAll cleaned %v, want [%s]", cleaned, stale)
	}
	if _, err := os.Stat(MarkerPath(live)); err != nil {
		t.Error("CleanStaleAll removed a live marker")
	}
}

// writeMarker creates a lock marker for path recording the given PID.
func writeMarker(t *testing.T, path string, pid int) {
	t.Helper()
	markerPath := MarkerPath(path)
	if err := os.MkdirAll(filepath.Dir(markerPath), 0755); err != nil {
		t.Fatal(err)
	}
	data := fmt.Sprintf(`{"pid": %d, "hostname": "test", "acquired_at": %q}`,
		pid, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(markerPath, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}
