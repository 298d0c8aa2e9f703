package session

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/mizuki-ai/kaiwa/internal/store"
)

// IndexFileName is the session index document within the sessions dir.
const IndexFileName = "index.json"

// indexVersion is the schema version stamped into the index document.
const indexVersion = "1.0"

// IndexEntry is the per-session metadata kept in the index.
type IndexEntry struct {
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Purpose       string    `json:"purpose"`
}

// Index is the on-disk session index document.
type Index struct {
	Sessions map[string]IndexEntry `json:"sessions"`
	Version  string                `json:"version"`
}

// Info is one row of a session listing.
type Info struct {
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Purpose       string    `json:"purpose"`
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, IndexFileName)
}

func newIndex() *Index {
	return &Index{Sessions: make(map[string]IndexEntry), Version: indexVersion}
}

// AddToIndex registers a session's metadata in the index. The index has
// its own lock; this is always a separate transaction from any session
// file write. A missing or corrupt index is rebuilt from empty rather
// than failing (prefer availability: the index is derivable metadata).
func (s *Store) AddToIndex(sess *Session) error {
	return store.UpdateLenient(s.indexPath(), s.timeout, newIndex, func(idx *Index) error {
		if idx.Sessions == nil {
			idx.Sessions = make(map[string]IndexEntry)
		}
		idx.Version = indexVersion
		idx.Sessions[sess.SessionID] = IndexEntry{
			CreatedAt:     sess.CreatedAt,
			LastUpdatedAt: time.Now().UTC(),
			Purpose:       sess.Purpose,
		}
		return nil
	})
}

// RemoveFromIndex drops a session's index entry, if present.
func (s *Store) RemoveFromIndex(id string) error {
	return store.UpdateLenient(s.indexPath(), s.timeout, newIndex, func(idx *Index) error {
		delete(idx.Sessions, id)
		return nil
	})
}

// touchIndex bumps a session's last-updated time. Sessions that were
// never indexed are left alone; indexing is an explicit operation.
func (s *Store) touchIndex(id string) error {
	return store.UpdateLenient(s.indexPath(), s.timeout, newIndex, func(idx *Index) error {
		entry, ok := idx.Sessions[id]
		if !ok {
			return nil
		}
		entry.LastUpdatedAt = time.Now().UTC()
		idx.Sessions[id] = entry
		return nil
	})
}

// ListSortedByLastUpdated returns index rows newest-first.
func (s *Store) ListSortedByLastUpdated() ([]Info, error) {
	var idx Index
	err := store.ReadLenient(s.indexPath(), &idx, func() {
		idx = *newIndex()
	})
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(idx.Sessions))
	for id, entry := range idx.Sessions {
		infos = append(infos, Info{
			SessionID:     id,
			CreatedAt:     entry.CreatedAt,
			LastUpdatedAt: entry.LastUpdatedAt,
			Purpose:       entry.Purpose,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].LastUpdatedAt.Equal(infos[j].LastUpdatedAt) {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].LastUpdatedAt.After(infos[j].LastUpdatedAt)
	})
	return infos, nil
}
