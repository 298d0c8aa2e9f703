package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mizuki-ai/kaiwa/internal/store"
	"github.com/mizuki-ai/kaiwa/internal/turn"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists sessions as JSON files under a base directory, one
// file per session at <dir>/<id>.json with a transient <id>.json.lock
// sidecar while a writer holds it. Every mutating operation is one
// locked read-modify-write; no operation holds a lock across more than
// one disk round-trip, and the session file and index file are always
// two independent locked transactions.
type Store struct {
	dir     string
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long operations wait for a session's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	s := &Store{dir: dir, timeout: store.DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the sessions directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the on-disk path for a session ID. IDs containing "/"
// map to nested directories, mirroring fork lineage.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, filepath.FromSlash(id)+".json")
}

// Load reads a session by ID. Returns ErrNotFound if absent. A corrupt
// session file surfaces store.ErrCorrupt rather than being silently
// replaced: losing a session's history without a word is unacceptable,
// unlike the index and cache registry which recover leniently.
func (s *Store) Load(id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var sess Session
	if err := store.Read(s.Path(id), &sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	sess.normalize()
	return &sess, nil
}

// Save writes a session wholesale under its lock, creating the file if
// it does not exist, and bumps the session's index entry.
func (s *Store) Save(sess *Session) error {
	if err := ValidateID(sess.SessionID); err != nil {
		return err
	}
	sess.normalize()

	err := store.Update(s.Path(sess.SessionID), s.timeout,
		func() *Session { return sess },
		func(doc *Session) error {
			*doc = *sess
			return nil
		})
	if err != nil {
		return err
	}
	return s.touchIndex(sess.SessionID)
}

// Create persists a brand-new session and registers it in the index.
// Returns store.ErrAlreadyExists if a session with the ID exists.
func (s *Store) Create(id, purpose, background string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	sess := New(id, purpose, background)
	if err := store.Create(s.Path(id), s.timeout, sess); err != nil {
		return nil, err
	}
	if err := s.AddToIndex(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session file and its index entry. The two removals
// are independent locked transactions; a crash in between leaves a
// dangling index entry for repair tooling, never a half-written file.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	if err := store.Remove(s.Path(id), s.timeout); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return s.RemoveFromIndex(id)
}

// Exists checks whether a session file is present.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.Path(id))
	return err == nil
}

// update runs one locked read-modify-write against a session that must
// already exist, then bumps its index entry.
func (s *Store) update(id string, fn func(*Session) error) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	err := store.Update(s.Path(id), s.timeout, nil, func(sess *Session) error {
		sess.normalize()
		return fn(sess)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return s.touchIndex(id)
}

// AppendTurn appends a turn to the session's history.
func (s *Store) AppendTurn(id string, t turn.Turn) error {
	return s.update(id, func(sess *Session) error {
		sess.Turns.Add(t)
		return nil
	})
}

// AppendToPool stages a turn in the session's pool without touching the
// main history.
func (s *Store) AppendToPool(id string, t turn.Turn) error {
	return s.update(id, func(sess *Session) error {
		sess.Pools.Add(t)
		return nil
	})
}

// MergePool moves every staged pool turn into the main history.
func (s *Store) MergePool(id string) error {
	return s.update(id, func(sess *Session) error {
		sess.Turns.Merge(sess.Pools)
		return nil
	})
}

// DeleteTurn removes the turn at index from the session's history.
func (s *Store) DeleteTurn(id string, index int) error {
	return s.update(id, func(sess *Session) error {
		return sess.Turns.Delete(index)
	})
}

// EditTurn replaces the turn at index.
func (s *Store) EditTurn(id string, index int, t turn.Turn) error {
	return s.update(id, func(sess *Session) error {
		return sess.Turns.Edit(index, t)
	})
}

// ReplaceRangeWithSummary deletes turns [start, end] inclusive and
// inserts one compressed-history turn at start recording the replaced
// range.
func (s *Store) ReplaceRangeWithSummary(id, summary string, start, end int) error {
	return s.update(id, func(sess *Session) error {
		compressed := &turn.CompressedHistory{
			Timestamp:          time.Now().UTC(),
			Summary:            summary,
			OriginalTurnsRange: [2]int{start, end},
		}
		return sess.Turns.ReplaceRange(start, end, compressed)
	})
}

// ExpireOldToolResponses applies the lossy tool-output expiration to the
// session's history. Returns whether anything was modified.
func (s *Store) ExpireOldToolResponses(id string, threshold int) (bool, error) {
	modified := false
	err := s.update(id, func(sess *Session) error {
		modified = sess.Turns.ExpireOldToolResponses(threshold)
		return nil
	})
	return modified, err
}

// SetCachedTurnCount persists the cache/buffer boundary computed by the
// split policy. The value is stored as computed; it is not forced to be
// monotonically non-decreasing across calls.
func (s *Store) SetCachedTurnCount(id string, count int) error {
	if count < 0 {
		return fmt.Errorf("cached turn count cannot be negative: %d", count)
	}
	return s.update(id, func(sess *Session) error {
		sess.CachedTurnCount = count
		return nil
	})
}
