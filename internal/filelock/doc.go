// Package filelock provides advisory file locking with a polling timeout
// for kaiwa's shared on-disk state.
//
// Many independent OS processes (CLI invocations, web request handlers,
// detached child-agent subprocesses) read and mutate the same session
// files. The filelock package serializes those writers with a sidecar
// marker file: acquiring a lock on "sessions/abc.json" exclusively creates
// "sessions/abc.json.lock". The marker records the holder's PID, hostname,
// and acquisition time for diagnostics.
//
// # Semantics
//
// Each resource has exactly one independent lock; there is no re-entrancy
// and no multi-resource acquisition. Acquire polls with a fixed backoff
// until the marker disappears or the timeout elapses, then fails with
// [ErrLockTimeout]. A marker left behind by a crashed process is
// indistinguishable from a held lock during acquisition and will cause
// every later Acquire on that resource to time out until it is cleared.
// Acquire never removes stale markers itself; that is a deliberate
// maintenance operation exposed as [CleanStale] and [CleanStaleAll].
//
// # Basic Usage
//
//	lock, err := filelock.Acquire("sessions/abc.json", 10*time.Second)
//	if err != nil {
//		return err
//	}
//	defer lock.Release()
//
// Or with the scoped helper, which guarantees release on every exit path:
//
//	err := filelock.WithLock("sessions/abc.json", 10*time.Second, func() error {
//		// exclusive access to sessions/abc.json
//		return nil
//	})
package filelock
