package cache

import (
	"time"

	"github.com/mizuki-ai/kaiwa/internal/store"
)

// RegistryFileName is the default name of the cache registry document.
const RegistryFileName = ".cache_registry.json"

// Entry records the provider-side cache object for one cached-prefix hash.
type Entry struct {
	Name       string    `json:"name"`
	ExpireTime time.Time `json:"expire_time"`
}

// Registry maps content hashes to provider-side cache objects. It lives
// in its own JSON document with its own lock, mutated independently of
// any session file; there is no cross-file atomicity between the two. A
// corrupt registry recovers to empty rather than failing: losing cache
// bookkeeping only costs a provider round-trip, never session history.
type Registry struct {
	path    string
	timeout time.Duration
}

// NewRegistry returns a Registry stored at path.
func NewRegistry(path string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = store.DefaultLockTimeout
	}
	return &Registry{path: path, timeout: timeout}
}

func emptyRegistry() *map[string]Entry {
	m := make(map[string]Entry)
	return &m
}

// normalize repairs a nil map after deserialization. A registry file
// holding the JSON literal "null" decodes without error into a nil map,
// bypassing the lenient init.
func normalize(entries *map[string]Entry) {
	if *entries == nil {
		*entries = make(map[string]Entry)
	}
}

// Get returns the entry for hash, if present.
func (r *Registry) Get(hash string) (Entry, bool, error) {
	var entries map[string]Entry
	err := store.ReadLenient(r.path, &entries, func() {
		entries = make(map[string]Entry)
	})
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[hash]
	return e, ok, nil
}

// Put records the provider cache object for hash.
func (r *Registry) Put(hash string, e Entry) error {
	return store.UpdateLenient(r.path, r.timeout, emptyRegistry, func(entries *map[string]Entry) error {
		normalize(entries)
		(*entries)[hash] = e
		return nil
	})
}

// Remove drops the entry for hash, if present.
func (r *Registry) Remove(hash string) error {
	return store.UpdateLenient(r.path, r.timeout, emptyRegistry, func(entries *map[string]Entry) error {
		normalize(entries)
		delete(*entries, hash)
		return nil
	})
}

// PruneExpired removes every entry whose provider-side cache has expired
// as of now. Returns the number of entries removed.
func (r *Registry) PruneExpired(now time.Time) (int, error) {
	pruned := 0
	err := store.UpdateLenient(r.path, r.timeout, emptyRegistry, func(entries *map[string]Entry) error {
		normalize(entries)
		for hash, e := range *entries {
			if !e.ExpireTime.After(now) {
				delete(*entries, hash)
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}
