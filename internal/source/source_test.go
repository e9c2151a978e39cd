package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"carto/internal/errors"
	"carto/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLanguageFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Language
		ok   bool
	}{
		{"main.go", LangGo, true},
		{"App.swift", LangSwift, true},
		{"index.js", LangJavaScript, true},
		{"util.mjs", LangJavaScript, true},
		{"server.ts", LangTypeScript, true},
		{"train.py", LangPython, true},
		{"README.md", "", false},
		{"Makefile", "", false},
		{"photo.PNG", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := LanguageFromPath(tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("LanguageFromPath(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestHashBytes(t *testing.T) {
	// Known SHA-256 of the empty string.
	if got := HashBytes(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("HashBytes(nil) = %s", got)
	}
	if HashBytes([]byte("a")) == HashBytes([]byte("b")) {
		t.Error("distinct content must hash differently")
	}
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "absent.go"))
	if !errors.HasCode(err, errors.NotFound) {
		t.Errorf("error code = %v, want NotFound", errors.CodeOf(err))
	}
}

func TestGetParsesAndMemoizes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n\nfunc Hello() string { return \"hi\" }\n")

	c := NewCache(testLogger())
	ctx := context.Background()

	pf, err := c.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if pf.Language != LangGo {
		t.Errorf("Language = %q, want go", pf.Language)
	}
	if pf.Tree == nil {
		t.Fatal("Tree is nil for supported language")
	}

	// Unchanged content: the exact same entry comes back.
	pf2, err := c.Get(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if pf2 != pf {
		t.Error("unchanged file was reparsed")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestGetReparsesOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n\nfunc A() {}\n")

	c := NewCache(testLogger())
	ctx := context.Background()

	pf1, err := c.Get(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "main.go", "package main\n\nfunc B() {}\n")

	pf2, err := c.Get(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if pf2 == pf1 {
		t.Error("changed file served from stale cache entry")
	}
	if pf1.Hash == pf2.Hash {
		t.Error("hash unchanged across edit")
	}
}

func TestGetMissingFile(t *testing.T) {
	c := NewCache(testLogger())

	_, err := c.Get(context.Background(), filepath.Join(t.TempDir(), "ghost.go"))
	if !errors.HasCode(err, errors.NotFound) {
		t.Errorf("error code = %v, want NotFound", errors.CodeOf(err))
	}
}

func TestGetSyntaxError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.go", "package main\n\nfunc Broken( {\n")

	c := NewCache(testLogger())

	_, err := c.Get(context.Background(), path)
	if !errors.HasCode(err, errors.ParseError) {
		t.Errorf("error code = %v, want ParseError", errors.CodeOf(err))
	}
	// The failure must not poison the cache.
	if c.Len() != 0 {
		t.Errorf("Len() = %d after failed parse, want 0", c.Len())
	}
}

func TestGetUnsupportedLanguage(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "not source code")

	c := NewCache(testLogger())

	pf, err := c.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get() error for unsupported file: %v", err)
	}
	if pf.Tree != nil {
		t.Error("unsupported file should have nil Tree")
	}
	if pf.Hash == "" {
		t.Error("unsupported file still gets hashed")
	}
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n")

	c := NewCache(testLogger())
	if _, err := c.Get(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	c.Invalidate(path)
	if _, ok := c.CachedHash(path); ok {
		t.Error("CachedHash() hit after Invalidate")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestConcurrentGetSamePath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n\nfunc A() {}\n")

	c := NewCache(testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*ParsedFile, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pf, err := c.Get(ctx, path)
			if err != nil {
				t.Errorf("concurrent Get() error: %v", err)
				return
			}
			results[n] = pf
		}(i)
	}
	wg.Wait()

	// Per-path singleflight: every caller gets the same entry.
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Errorf("caller %d got a different entry", i)
		}
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
