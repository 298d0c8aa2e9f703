package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mizuki-ai/kaiwa/internal/filelock"
)

// EventOp classifies a watcher notification.
type EventOp string

const (
	// OpWrite means a session file was created or rewritten.
	OpWrite EventOp = "write"
	// OpRemove means a session file was deleted.
	OpRemove EventOp = "remove"
)

// Event reports a change to a session file made by some process.
type Event struct {
	SessionID string
	Op        EventOp
}

// Watcher observes the sessions directory so a resident process (the web
// server, typically) learns about mutations made by CLI invocations and
// detached child agents. Lock markers, temp files, and the index are
// filtered out; only session document changes surface.
type Watcher struct {
	store     *Store
	fsw       *fsnotify.Watcher
	events    chan Event
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts observing the store's sessions directory, including
// nested fork directories created later.
func (s *Store) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		store:  s,
		fsw:    fsw,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	// Watch the root and any pre-existing fork directories.
	err = filepath.Walk(s.dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fsw.Add(p)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch sessions directory: %w", err)
	}

	go w.loop()
	return w, nil
}

// Events delivers session change notifications.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors delivers watcher failures.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher and closes its channels. It is safe to call
// more than once; later calls return nil.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			// New fork directories need their own watch.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(ev.Name)
					continue
				}
			}

			id, ok := w.sessionID(ev.Name)
			if !ok {
				continue
			}

			var op EventOp
			switch {
			case ev.Op.Has(fsnotify.Remove):
				op = OpRemove
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename):
				// Atomic swaps surface as a rename onto the target.
				op = OpWrite
			default:
				continue
			}

			select {
			case w.events <- Event{SessionID: id, Op: op}:
			case <-w.done:
				return
			}
		}
	}
}

// sessionID maps a filesystem path inside the store to a session ID,
// rejecting anything that isn't a session document.
func (w *Watcher) sessionID(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasSuffix(base, filelock.Suffix) || strings.HasPrefix(base, ".tmp-") {
		return "", false
	}
	if base == IndexFileName {
		return "", false
	}
	if !strings.HasSuffix(base, ".json") {
		return "", false
	}

	rel, err := filepath.Rel(w.store.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), ".json"), true
}
