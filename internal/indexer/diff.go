package indexer

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"

	"carto/internal/chunk"
	"carto/internal/source"
	"carto/internal/watcher"
)

// Plan is the work an indexing run has to do: chunks whose content hash is
// missing from or stale in the vector index, and index entries whose chunk
// no longer exists in the tree.
type Plan struct {
	Embed     []chunk.Chunk
	Remove    []string
	Unchanged int

	// FileHashes maps every scanned file to its current content hash,
	// recorded as last-indexed once the run succeeds.
	FileHashes map[string]string
}

// Empty reports whether the plan has no work.
func (p *Plan) Empty() bool {
	return len(p.Embed) == 0 && len(p.Remove) == 0
}

// scan walks the tree and returns every chunk of every supported,
// non-ignored source file. Parse results come from the source cache and
// chunk extraction from the per-file cache, so an unchanged file costs one
// hash comparison, not a re-parse.
func (c *Coordinator) scan(ctx context.Context) (map[string]chunk.Chunk, map[string]string, error) {
	desired := make(map[string]chunk.Chunk)
	fileHashes := make(map[string]string)

	err := filepath.WalkDir(c.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(c.rootPath, path)
		if relErr != nil {
			rel = path
		}

		if d.IsDir() {
			if rel != "." && watcher.Ignored(c.cfg.Watcher.IgnorePatterns, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if watcher.Ignored(c.cfg.Watcher.IgnorePatterns, rel) {
			return nil
		}
		if _, ok := source.LanguageFromPath(path); !ok {
			return nil
		}

		chunks, hash, err := c.fileChunks(ctx, path)
		if err != nil {
			// A file that fails to parse is logged and skipped; its stale
			// index entries survive until the file parses again.
			c.logger.Warn("Skipping unparseable file", map[string]interface{}{
				"path":  rel,
				"error": err.Error(),
			})
			return nil
		}

		fileHashes[path] = hash
		for _, ch := range chunks {
			desired[ch.ID] = ch
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return desired, fileHashes, nil
}

// fileChunks returns the chunks of one file, via the per-file cache.
func (c *Coordinator) fileChunks(ctx context.Context, path string) ([]chunk.Chunk, string, error) {
	hash, err := source.HashFile(path)
	if err != nil {
		return nil, "", err
	}

	chunks, err := c.chunkCache.Get(path, hash, func() ([]chunk.Chunk, error) {
		pf, err := c.sources.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return c.extractor.Extract(pf), nil
	})
	return chunks, hash, err
}

// plan diffs the desired chunk set against the vector index. A chunk whose
// hash matches its indexed vector needs nothing; everything else is embed
// work or removal.
func (c *Coordinator) plan(ctx context.Context) (*Plan, error) {
	desired, fileHashes, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}

	indexed := c.index.Hashes()
	p := &Plan{FileHashes: fileHashes}

	for id, ch := range desired {
		if have, ok := indexed[id]; ok && have == ch.Hash {
			p.Unchanged++
			continue
		}
		p.Embed = append(p.Embed, ch)
	}
	for id := range indexed {
		if _, ok := desired[id]; !ok {
			p.Remove = append(p.Remove, id)
		}
	}

	// Deterministic order keeps checkpoint resume aligned across runs over
	// the same tree state.
	sort.Slice(p.Embed, func(i, j int) bool { return p.Embed[i].ID < p.Embed[j].ID })
	sort.Strings(p.Remove)

	return p, nil
}
