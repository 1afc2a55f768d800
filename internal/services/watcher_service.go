package services

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"drydock/internal/logging"
)

// FileChangeCallback receives the batch of local paths that changed within
// one debounce window.
type FileChangeCallback func(paths []string)

// watchEntry is one active recursive watch, keyed by session key.
type watchEntry struct {
	key         string
	root        string
	watcher     *fsnotify.Watcher
	done        chan struct{}
	stopOnce    sync.Once
	mu          sync.Mutex
	pending     map[string]bool
	timer       *time.Timer
	subscribers map[int]FileChangeCallback
	nextSubID   int
}

// WatcherService tracks local workspace directories with fsnotify and
// notifies subscribers after changes settle. Watches are keyed by an
// arbitrary session key; starting a watch under a key that is already in
// use replaces the previous watch.
//
// Hidden entries and dependency directories are ignored, matching what the
// sync layer transfers.
type WatcherService struct {
	mu       sync.Mutex
	watches  map[string]*watchEntry
	debounce time.Duration
}

const DefaultWatchDebounce = 500 * time.Millisecond

func NewWatcherService(debounce time.Duration) *WatcherService {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &WatcherService{
		watches:  make(map[string]*watchEntry),
		debounce: debounce,
	}
}

// StartWatching begins a recursive watch of root under the given key. The
// returned bool is false (with nil error) when root does not exist or is
// not a directory. An existing watch under the same key is stopped first.
func (s *WatcherService) StartWatching(key, root string) (bool, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("create watcher for %s: %w", key, err)
	}

	entry := &watchEntry{
		key:         key,
		root:        root,
		watcher:     watcher,
		done:        make(chan struct{}),
		pending:     make(map[string]bool),
		subscribers: make(map[int]FileChangeCallback),
	}

	if err := addWatchTree(watcher, root); err != nil {
		watcher.Close()
		return false, fmt.Errorf("watch %s: %w", root, err)
	}

	s.mu.Lock()
	previous := s.watches[key]
	s.watches[key] = entry
	s.mu.Unlock()

	if previous != nil {
		previous.stop()
		logging.Debug("replaced watch for %s", key)
	}

	go s.run(entry)
	logging.Info("watching %s for %s", root, key)
	return true, nil
}

// addWatchTree registers root and every non-skipped subdirectory.
func addWatchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipSyncName(d.Name()) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// run is the event loop for one watch. It exits when the watch is stopped
// or the underlying watcher reports an error, in which case the watch is
// removed from the registry.
func (s *WatcherService) run(entry *watchEntry) {
	for {
		select {
		case <-entry.done:
			return

		case event, ok := <-entry.watcher.Events:
			if !ok {
				s.remove(entry)
				return
			}
			s.handleEvent(entry, event)

		case err, ok := <-entry.watcher.Errors:
			if !ok {
				s.remove(entry)
				return
			}
			logging.Error("watcher for %s failed: %v", entry.key, err)
			s.remove(entry)
			entry.stop()
			return
		}
	}
}

func (s *WatcherService) handleEvent(entry *watchEntry, event fsnotify.Event) {
	rel, err := filepath.Rel(entry.root, event.Name)
	if err != nil || skipSyncPath(filepath.ToSlash(rel)) {
		return
	}

	// New directories must be added to the watch before anything inside
	// them can be observed.
	if event.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			if addErr := addWatchTree(entry.watcher, event.Name); addErr != nil {
				logging.Debug("watch new directory %s: %v", event.Name, addErr)
			}
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	entry.mu.Lock()
	entry.pending[event.Name] = true
	if entry.timer == nil {
		entry.timer = time.AfterFunc(s.debounce, func() { s.flush(entry) })
	} else {
		entry.timer.Reset(s.debounce)
	}
	entry.mu.Unlock()
}

// flush delivers the accumulated paths to every subscriber once the
// debounce window has passed without further events.
func (s *WatcherService) flush(entry *watchEntry) {
	entry.mu.Lock()
	if len(entry.pending) == 0 {
		entry.timer = nil
		entry.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(entry.pending))
	for p := range entry.pending {
		paths = append(paths, p)
	}
	entry.pending = make(map[string]bool)
	entry.timer = nil
	callbacks := make([]FileChangeCallback, 0, len(entry.subscribers))
	for _, cb := range entry.subscribers {
		callbacks = append(callbacks, cb)
	}
	entry.mu.Unlock()

	for _, cb := range callbacks {
		cb(paths)
	}
}

// OnFilesChanged subscribes to change batches for the given key. The
// returned function removes the subscription; it returns an error when the
// key has no active watch.
func (s *WatcherService) OnFilesChanged(key string, cb FileChangeCallback) (func(), error) {
	s.mu.Lock()
	entry, ok := s.watches[key]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active watch for %s", key)
	}

	entry.mu.Lock()
	id := entry.nextSubID
	entry.nextSubID++
	entry.subscribers[id] = cb
	entry.mu.Unlock()

	return func() {
		entry.mu.Lock()
		delete(entry.subscribers, id)
		entry.mu.Unlock()
	}, nil
}

// StopWatching ends the watch for a key. Safe to call when none exists.
func (s *WatcherService) StopWatching(key string) {
	s.mu.Lock()
	entry, ok := s.watches[key]
	if ok {
		delete(s.watches, key)
	}
	s.mu.Unlock()

	if ok {
		entry.stop()
		logging.Info("stopped watching %s", key)
	}
}

// Watching reports whether a watch is active for the key.
func (s *WatcherService) Watching(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[key]
	return ok
}

// ShutdownAll stops every active watch.
func (s *WatcherService) ShutdownAll() {
	s.mu.Lock()
	entries := make([]*watchEntry, 0, len(s.watches))
	for key, entry := range s.watches {
		entries = append(entries, entry)
		delete(s.watches, key)
	}
	s.mu.Unlock()

	for _, entry := range entries {
		entry.stop()
	}
}

// remove drops the entry from the registry if it is still the active watch
// for its key. A replacement watch under the same key is left alone.
func (s *WatcherService) remove(entry *watchEntry) {
	s.mu.Lock()
	if current, ok := s.watches[entry.key]; ok && current == entry {
		delete(s.watches, entry.key)
	}
	s.mu.Unlock()
}

func (e *watchEntry) stop() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	e.stopOnce.Do(func() {
		close(e.done)
		e.watcher.Close()
	})
}
