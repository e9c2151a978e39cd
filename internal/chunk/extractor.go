package chunk

import (
	sitter "github.com/smacker/go-tree-sitter"

	"carto/internal/source"
)

// maxChunkBytes caps the text size of a single chunk so one giant function
// cannot blow past the embedding model's context.
const maxChunkBytes = 8192

// Extractor walks syntax trees and produces chunks.
type Extractor struct{}

// NewExtractor creates a chunk extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the chunks of a parsed file in declaration order.
// Files without a syntax tree (unsupported language) yield no chunks.
func (e *Extractor) Extract(pf *source.ParsedFile) []Chunk {
	if pf == nil || pf.Tree == nil {
		return nil
	}

	types, ok := chunkNodeTypes[pf.Language]
	if !ok {
		return nil
	}

	var chunks []Chunk
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if kind, ok := types[n.Type()]; ok {
			if c, ok := e.chunkFromNode(n, pf, kind); ok {
				chunks = append(chunks, c)
			}
			// Nested declarations (methods in types, closures) are covered
			// by their enclosing chunk's text.
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(pf.Tree.RootNode())

	return chunks
}

func (e *Extractor) chunkFromNode(n *sitter.Node, pf *source.ParsedFile, kind string) (Chunk, bool) {
	name := nodeName(n, pf.Content)
	if name == "" {
		return Chunk{}, false
	}

	start, end := int(n.StartByte()), int(n.EndByte())
	if end > len(pf.Content) {
		end = len(pf.Content)
	}
	if end-start > maxChunkBytes {
		end = start + maxChunkBytes
	}
	text := string(pf.Content[start:end])

	return Chunk{
		ID:        chunkID(pf.Path, kind, name),
		Path:      pf.Path,
		Name:      name,
		Kind:      kind,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Hash:      source.HashBytes([]byte(text)),
		Text:      text,
	}, true
}

// nodeName finds the declared name of a chunk node.
func nodeName(n *sitter.Node, content []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(content)
	}
	// Some grammars (Swift class_declaration, Go type_declaration) nest the
	// identifier one level down.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "identifier", "simple_identifier", "type_identifier", "field_identifier":
			return child.Content(content)
		case "type_spec":
			if name := child.ChildByFieldName("name"); name != nil {
				return name.Content(content)
			}
		}
	}
	return ""
}

// chunkNodeTypes maps tree-sitter node types to chunk kinds per language.
var chunkNodeTypes = map[source.Language]map[string]string{
	source.LangGo: {
		"function_declaration": "function",
		"method_declaration":   "method",
		"type_declaration":     "type",
	},
	source.LangSwift: {
		"function_declaration": "function",
		"class_declaration":    "type",
		"protocol_declaration": "type",
	},
	source.LangJavaScript: {
		"function_declaration": "function",
		"method_definition":    "method",
		"class_declaration":    "type",
	},
	source.LangTypeScript: {
		"function_declaration":  "function",
		"method_definition":     "method",
		"class_declaration":     "type",
		"interface_declaration": "type",
	},
	source.LangPython: {
		"function_definition": "function",
		"class_definition":    "type",
	},
}
