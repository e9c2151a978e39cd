// Package cache provides the in-memory cache layers over analysis artifacts.
//
// Two invalidation disciplines are used. Per-file entries carry the content
// hash of their owning file and are valid only while the recomputed hash
// matches, so editing one file never touches another file's entries.
// Whole-result entries carry the global change epoch in their key, so any
// tracked-file change invalidates them wholesale without a sweep.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Epoch is a monotonically increasing counter bumped on any tracked file
// change. Zero at startup; incremented only by the change watcher.
type Epoch struct {
	n atomic.Uint64
}

// Current returns the current epoch value.
func (e *Epoch) Current() uint64 {
	return e.n.Load()
}

// Bump increments the epoch and returns the new value.
func (e *Epoch) Bump() uint64 {
	return e.n.Add(1)
}

// fileEntry is a cached value stamped with the owning file's content hash.
type fileEntry[V any] struct {
	value V
	hash  string
}

// PerFileCache stores analysis-derived artifacts keyed by (path, content hash).
// It never serves a value computed against a stale hash.
type PerFileCache[V any] struct {
	mu      sync.Mutex
	entries map[string]fileEntry[V]
}

// NewPerFileCache creates an empty per-file cache.
func NewPerFileCache[V any]() *PerFileCache[V] {
	return &PerFileCache[V]{
		entries: make(map[string]fileEntry[V]),
	}
}

// Get returns the cached value for path if it was computed against
// currentHash; otherwise it invokes compute, stores the result stamped with
// currentHash, and returns it. A stale entry for path is evicted on the miss.
func (c *PerFileCache[V]) Get(path, currentHash string, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	if entry, ok := c.entries[path]; ok && entry.hash == currentHash {
		c.mu.Unlock()
		return entry.value, nil
	}
	// Stale or absent. Drop the stale entry before computing so a compute
	// failure never leaves an old-hash value behind.
	delete(c.entries, path)
	c.mu.Unlock()

	value, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[path] = fileEntry[V]{value: value, hash: currentHash}
	c.mu.Unlock()

	return value, nil
}

// Peek returns the cached value for path iff it matches currentHash,
// without computing on a miss.
func (c *PerFileCache[V]) Peek(path, currentHash string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[path]; ok && entry.hash == currentHash {
		return entry.value, true
	}
	var zero V
	return zero, false
}

// Invalidate eagerly drops the entry for path.
func (c *PerFileCache[V]) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *PerFileCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// epochEntry is a cached result stamped with the epoch it was computed in.
type epochEntry[V any] struct {
	value V
	epoch uint64
}

// ResultCache memoizes whole-tool outputs keyed by a request fingerprint
// that includes the global epoch, so every tracked-file change invalidates
// all prior entries implicitly.
type ResultCache[V any] struct {
	epoch      *Epoch
	maxEntries int

	mu      sync.Mutex
	entries map[string]epochEntry[V]
}

// NewResultCache creates a result cache bound to the given epoch counter.
// maxEntries bounds memory; entries from older epochs are reclaimed
// opportunistically once the bound is reached.
func NewResultCache[V any](epoch *Epoch, maxEntries int) *ResultCache[V] {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &ResultCache[V]{
		epoch:      epoch,
		maxEntries: maxEntries,
		entries:    make(map[string]epochEntry[V]),
	}
}

// Fingerprint derives a cache key from a tool name and its arguments plus
// the current epoch.
func (c *ResultCache[V]) Fingerprint(tool string, args ...string) string {
	return fmt.Sprintf("%s(%s)@%d", tool, strings.Join(args, ","), c.epoch.Current())
}

// GetOrCompute returns the cached result for fingerprint, computing and
// storing it on a miss. Fingerprints minted before the last epoch bump can
// never hit because the epoch is part of the key.
func (c *ResultCache[V]) GetOrCompute(fingerprint string, compute func() (V, error)) (V, error) {
	current := c.epoch.Current()

	c.mu.Lock()
	if entry, ok := c.entries[fingerprint]; ok && entry.epoch == current {
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	value, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.reclaimLocked(current)
	}
	c.entries[fingerprint] = epochEntry[V]{value: value, epoch: current}
	c.mu.Unlock()

	return value, nil
}

// reclaimLocked drops entries from older epochs; if everything is current,
// the whole map is reset to honor the bound.
func (c *ResultCache[V]) reclaimLocked(current uint64) {
	for key, entry := range c.entries {
		if entry.epoch != current {
			delete(c.entries, key)
		}
	}
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]epochEntry[V])
	}
}

// Len returns the number of cached entries, including not-yet-reclaimed
// entries from older epochs.
func (c *ResultCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
