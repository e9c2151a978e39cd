// Package chunk extracts embeddable units (functions, methods, types) from
// parsed source files. The extraction heuristics here are deliberately
// simple; the cache and index layers treat chunks as opaque.
package chunk

import "fmt"

// Chunk is a named, embeddable unit of source.
type Chunk struct {
	ID        string `json:"id"`   // stable identity: path:kind:name
	Path      string `json:"path"` // owning file
	Name      string `json:"name"`
	Kind      string `json:"kind"` // "function", "method", "type"
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Hash      string `json:"hash"` // hex SHA-256 of Text
	Text      string `json:"text"`
}

// chunkID builds the stable identity for a chunk. Line numbers are excluded
// so moving a chunk within its file does not change its identity.
func chunkID(path, kind, name string) string {
	return fmt.Sprintf("%s:%s:%s", path, kind, name)
}
