// Package watcher provides debounced file system watching for source trees.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"carto/internal/config"
	"carto/internal/logging"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with a debounced batch of changes. Batches are
// delivered sequentially from a single goroutine, never concurrently.
type ChangeHandler func(events []Event)

// Watcher watches a source tree recursively and delivers debounced change
// batches to a single handler.
type Watcher struct {
	rootPath string
	config   config.WatcherConfig
	logger   *logging.Logger
	handler  ChangeHandler

	fsw       *fsnotify.Watcher
	debouncer *BatchDebouncer
	batches   chan []Event

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a new file system watcher for the tree rooted at rootPath.
func New(rootPath string, cfg config.WatcherConfig, logger *logging.Logger, handler ChangeHandler) *Watcher {
	w := &Watcher{
		rootPath: rootPath,
		config:   cfg,
		logger:   logger,
		handler:  handler,
		batches:  make(chan []Event, 16),
		done:     make(chan struct{}),
	}
	w.debouncer = NewBatchDebouncer(time.Duration(cfg.DebounceMs)*time.Millisecond, func(events []Event) {
		select {
		case w.batches <- events:
		case <-w.done:
		}
	})
	return w
}

// Start begins watching. Directories are registered recursively; directories
// created later are picked up from their create events.
func (w *Watcher) Start() error {
	if !w.config.Enabled {
		w.logger.Info("File watcher is disabled", nil)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addRecursive(w.rootPath); err != nil {
		_ = fsw.Close()
		w.fsw = nil
		return err
	}

	w.started = true
	w.wg.Add(2)
	go w.eventLoop()
	go w.dispatchLoop()

	w.logger.Info("Watching source tree", map[string]interface{}{
		"path":       w.rootPath,
		"debounceMs": w.config.DebounceMs,
	})
	return nil
}

// Stop stops watching and waits for in-flight batch delivery to finish.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		started := w.started
		w.mu.Unlock()

		close(w.done)
		w.debouncer.Cancel()
		if started {
			_ = w.fsw.Close()
			w.wg.Wait()
		}
		w.logger.Info("File watcher stopped", nil)
	})
	return nil
}

// eventLoop translates raw fsnotify events into debounced batch entries.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		case <-w.done:
			return
		}
	}
}

// dispatchLoop is the single consumer of debounced batches. Running the
// handler here keeps invalidation strictly sequential even when new events
// arrive while a batch is being processed.
func (w *Watcher) dispatchLoop() {
	defer w.wg.Done()

	for {
		select {
		case events := <-w.batches:
			w.logger.Debug("Change batch detected", map[string]interface{}{
				"eventCount": len(events),
			})
			if w.handler != nil {
				w.handler(events)
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		rel = event.Name
	}
	if w.IsIgnored(rel) {
		return
	}

	// New directories must be registered to keep the recursive watch
	// complete; their contents arrive as separate create events.
	if event.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", map[string]interface{}{
					"path":  event.Name,
					"error": err.Error(),
				})
			}
			return
		}
	}

	var typ EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		typ = EventCreate
	case event.Op&fsnotify.Write != 0:
		typ = EventModify
	case event.Op&fsnotify.Remove != 0:
		typ = EventDelete
	case event.Op&fsnotify.Rename != 0:
		typ = EventRename
	default:
		return // chmod and friends
	}

	w.debouncer.Add(Event{
		Type:      typ,
		Path:      event.Name,
		Timestamp: time.Now(),
	})
}

// addRecursive registers dir and all non-ignored subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.rootPath, path)
		if relErr == nil && rel != "." && w.IsIgnored(rel) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// IsIgnored checks if a path matches ignore patterns
func (w *Watcher) IsIgnored(path string) bool {
	return Ignored(w.config.IgnorePatterns, path)
}

// Ignored reports whether path matches any of the glob-style patterns.
// Patterns without ** match against the base name; ** patterns match
// prefix/suffix against the whole (root-relative) path.
func Ignored(patterns []string, path string) bool {
	for _, pattern := range patterns {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		if matched {
			return true
		}

		// Handle ** patterns
		if strings.Contains(pattern, "**") {
			parts := strings.Split(pattern, "**")
			if len(parts) == 2 {
				prefix := strings.TrimSuffix(parts[0], "/")
				suffix := strings.TrimPrefix(parts[1], "/")
				if strings.HasPrefix(path, prefix) &&
					(suffix == "" || strings.HasSuffix(path, suffix)) {
					return true
				}
			}
		}
	}
	return false
}

// Stats returns watcher statistics
func (w *Watcher) Stats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	return map[string]interface{}{
		"enabled":        w.config.Enabled,
		"started":        w.started,
		"debounceMs":     w.config.DebounceMs,
		"ignorePatterns": len(w.config.IgnorePatterns),
		"pendingEvents":  w.debouncer.EventCount(),
	}
}
