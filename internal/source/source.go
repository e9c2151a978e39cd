// Package source lazily parses tracked files and memoizes the result by content hash.
package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/singleflight"

	"carto/internal/errors"
	"carto/internal/logging"
)

// ParsedFile is a memoized parse result for a single tracked file.
// Entries are owned exclusively by the Cache and recreated whenever
// the content hash changes.
type ParsedFile struct {
	Path     string
	Content  []byte
	Hash     string // hex SHA-256 of Content
	Language Language
	Tree     *sitter.Tree // nil for unsupported languages
	ParsedAt time.Time
}

// Cache parses files on demand and memoizes the result keyed by content hash.
type Cache struct {
	parser *Parser
	logger *logging.Logger

	mu      sync.RWMutex
	entries map[string]*ParsedFile

	// group serializes fresh parses per path so concurrent readers of the
	// same changed file never parse it twice.
	group singleflight.Group

	// parserMu guards the shared tree-sitter parser, which is not
	// safe for concurrent use.
	parserMu sync.Mutex
}

// NewCache creates a new source cache.
func NewCache(logger *logging.Logger) *Cache {
	return &Cache{
		parser:  NewParser(),
		logger:  logger,
		entries: make(map[string]*ParsedFile),
	}
}

// HashBytes returns the hex SHA-256 digest of content.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)
}

// HashFile returns the hex SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.NotFound, fmt.Sprintf("file not found: %s", path), err)
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return HashBytes(data), nil
}

// Get returns the parsed file for path, reparsing only if its content hash
// changed since the last parse. A malformed file fails with a PARSE_ERROR
// and does not disturb other entries.
func (c *Cache) Get(ctx context.Context, path string) (*ParsedFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.NotFound, fmt.Sprintf("file not found: %s", path), err)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	hash := HashBytes(content)

	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && entry.Hash == hash {
		return entry, nil
	}

	// Miss or stale hash: parse fresh, serialized per path.
	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		// Another caller may have parsed this exact content while we waited.
		c.mu.RLock()
		entry, ok := c.entries[path]
		c.mu.RUnlock()
		if ok && entry.Hash == hash {
			return entry, nil
		}
		return c.parseFresh(ctx, path, content, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ParsedFile), nil
}

func (c *Cache) parseFresh(ctx context.Context, path string, content []byte, hash string) (*ParsedFile, error) {
	pf := &ParsedFile{
		Path:     path,
		Content:  content,
		Hash:     hash,
		ParsedAt: time.Now().UTC(),
	}

	lang, supported := LanguageFromPath(path)
	if supported {
		c.parserMu.Lock()
		tree, err := c.parser.Parse(ctx, content, lang)
		c.parserMu.Unlock()
		if err != nil {
			return nil, errors.New(errors.ParseError, fmt.Sprintf("parsing %s", path), err)
		}
		if tree.RootNode().HasError() {
			c.logger.Warn("File has syntax errors, skipping", map[string]interface{}{
				"path": path,
			})
			return nil, errors.Newf(errors.ParseError, "syntax errors in %s", path)
		}
		pf.Language = lang
		pf.Tree = tree
	}

	c.mu.Lock()
	c.entries[path] = pf
	c.mu.Unlock()

	return pf, nil
}

// Invalidate forcibly drops the entry for path. Used by the change watcher
// when a file is deleted or renamed away.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// CachedHash returns the memoized content hash for path, if any.
func (c *Cache) CachedHash(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.entries[path]; ok {
		return entry.Hash, true
	}
	return "", false
}

// Len returns the number of memoized entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
