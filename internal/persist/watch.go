package persist

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the snapshot file for writes by other processes and
// reports them so the in-memory index can reload-merge. Our own saves are
// suppressed via the store's saving flag.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	onWrite func()

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// WatchSnapshot starts watching the snapshot file's directory; onWrite is
// invoked (on the watcher goroutine) whenever another process replaces the
// snapshot.
func WatchSnapshot(store *Store, onWrite func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating snapshot watcher: %w", err)
	}

	// Watch the directory, not the file: atomic rename replaces the inode,
	// so a watch on the file itself is lost after the first save.
	if err := fsw.Add(store.cartoDir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", store.cartoDir, err)
	}

	w := &Watcher{
		store:   store,
		watcher: fsw,
		onWrite: onWrite,
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	target := filepath.Base(w.store.Path())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if w.store.Saving() {
				continue // our own write
			}
			w.store.logger.Debug("Snapshot changed externally", map[string]interface{}{
				"path": event.Name,
			})
			w.onWrite()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

		case <-w.done:
			return
		}
	}
}

// Stop tears down the watch and waits for the watcher goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()
	})
}
