// Package vecindex provides the in-memory vector similarity index.
//
// Reads (Nearest, Get) run under a shared lock and may proceed with
// unbounded concurrency; writes (Upsert, Remove, Restore, Merge) are
// mutually exclusive with each other and with in-flight reads, so no
// reader ever observes a vector mid-update.
package vecindex

import (
	"math"
	"sort"
	"sync"
	"time"
)

// EmbeddingVector is the embedding of a single chunk, stamped with the
// content hash of the chunk's source at embedding time.
type EmbeddingVector struct {
	ChunkID    string    `json:"chunkId"`
	Vector     []float32 `json:"vector"`
	Provider   string    `json:"provider"`
	Hash       string    `json:"hash"`
	EmbeddedAt time.Time `json:"embeddedAt"`
}

// Match is a single similarity result.
type Match struct {
	ChunkID string
	Score   float64
}

// Index is the in-memory mapping from chunk identity to embedding vector.
type Index struct {
	mu      sync.RWMutex
	vectors map[string]EmbeddingVector
}

// New creates an empty index.
func New() *Index {
	return &Index{
		vectors: make(map[string]EmbeddingVector),
	}
}

// Upsert inserts or replaces the vector for a chunk.
func (ix *Index) Upsert(v EmbeddingVector) {
	ix.mu.Lock()
	ix.vectors[v.ChunkID] = v
	ix.mu.Unlock()
}

// Remove deletes the vector for a chunk. Removing an absent id is a no-op.
func (ix *Index) Remove(chunkID string) {
	ix.mu.Lock()
	delete(ix.vectors, chunkID)
	ix.mu.Unlock()
}

// Get returns the vector for a chunk id.
func (ix *Index) Get(chunkID string) (EmbeddingVector, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, ok := ix.vectors[chunkID]
	return v, ok
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Nearest returns the k most similar vectors to query by cosine similarity,
// in descending score order. Ties are broken by ascending chunk id so the
// ordering is deterministic.
func (ix *Index) Nearest(query []float32, k int) []Match {
	if k <= 0 || len(query) == 0 {
		return nil
	}

	ix.mu.RLock()
	matches := make([]Match, 0, len(ix.vectors))
	for id, v := range ix.vectors {
		matches = append(matches, Match{
			ChunkID: id,
			Score:   cosineSimilarity(query, v.Vector),
		})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Hashes returns the map of chunk id to embedded-at content hash, used by
// the indexing coordinator to diff against current chunks.
func (ix *Index) Hashes() map[string]string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	hashes := make(map[string]string, len(ix.vectors))
	for id, v := range ix.vectors {
		hashes[id] = v.Hash
	}
	return hashes
}

// Vectors returns a deep copy of the index contents for snapshotting.
func (ix *Index) Vectors() map[string]EmbeddingVector {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]EmbeddingVector, len(ix.vectors))
	for id, v := range ix.vectors {
		vec := make([]float32, len(v.Vector))
		copy(vec, v.Vector)
		v.Vector = vec
		out[id] = v
	}
	return out
}

// Restore replaces the index contents wholesale.
func (ix *Index) Restore(vectors map[string]EmbeddingVector) {
	fresh := make(map[string]EmbeddingVector, len(vectors))
	for id, v := range vectors {
		fresh[id] = v
	}
	ix.mu.Lock()
	ix.vectors = fresh
	ix.mu.Unlock()
}

// Merge folds externally-loaded vectors into the index. For ids present on
// both sides the vector with the newer EmbeddedAt wins; removals are not
// merged (the next indexing diff reconciles them).
func (ix *Index) Merge(vectors map[string]EmbeddingVector) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	merged := 0
	for id, incoming := range vectors {
		existing, ok := ix.vectors[id]
		if !ok || incoming.EmbeddedAt.After(existing.EmbeddedAt) {
			ix.vectors[id] = incoming
			merged++
		}
	}
	return merged
}

// cosineSimilarity computes dot(a,b) / (|a|*|b|). Mismatched dimensions or
// zero-norm vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
