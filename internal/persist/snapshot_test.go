package persist

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"carto/internal/config"
	"carto/internal/errors"
	"carto/internal/logging"
	"carto/internal/vecindex"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
}

func testVectors() map[string]vecindex.EmbeddingVector {
	return map[string]vecindex.EmbeddingVector{
		"a.go:function:Foo": {
			ChunkID:    "a.go:function:Foo",
			Vector:     []float32{0.1, 0.2, 0.3},
			Provider:   "test-model",
			Hash:       "abc123",
			EmbeddedAt: time.Now().UTC().Truncate(time.Second),
		},
		"b.go:type:Bar": {
			ChunkID:    "b.go:type:Bar",
			Vector:     []float32{0.4, 0.5, 0.6},
			Provider:   "test-model",
			Hash:       "def456",
			EmbeddedAt: time.Now().UTC().Truncate(time.Second),
		},
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, testLogger())

	want := testVectors()
	if err := store.Save(&Snapshot{
		Provider:   "test-model",
		Dimensions: 3,
		Vectors:    want,
	}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	snap, ok := store.Load()
	if !ok {
		t.Fatal("Load() failed after Save()")
	}
	if snap.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", snap.SchemaVersion, SchemaVersion)
	}
	if snap.Provider != "test-model" || snap.Dimensions != 3 {
		t.Errorf("Provider/Dimensions = %q/%d", snap.Provider, snap.Dimensions)
	}
	if len(snap.Vectors) != len(want) {
		t.Fatalf("loaded %d vectors, want %d", len(snap.Vectors), len(want))
	}
	for id, w := range want {
		got, ok := snap.Vectors[id]
		if !ok {
			t.Errorf("vector %s missing after roundtrip", id)
			continue
		}
		if got.Hash != w.Hash || len(got.Vector) != len(w.Vector) {
			t.Errorf("vector %s = %+v, want %+v", id, got, w)
		}
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger())

	if snap, ok := store.Load(); ok || snap != nil {
		t.Errorf("Load() on empty dir = (%v, %v), want (nil, false)", snap, ok)
	}
}

func TestLoadCorruptSnapshot(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, testLogger())

	dir := filepath.Join(root, config.CartoDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), []byte("not a zstd stream"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Load(); ok {
		t.Error("Load() succeeded on corrupt bytes, want degradation to (nil, false)")
	}
	if _, err := store.load(); !errors.HasCode(err, errors.CorruptIndex) {
		t.Errorf("error code = %v, want CorruptIndex", errors.CodeOf(err))
	}
}

func TestLoadSchemaMismatch(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, testLogger())

	// Emulate a snapshot left behind by an older build.
	if err := store.Save(&Snapshot{Vectors: testVectors()}); err != nil {
		t.Fatal(err)
	}
	snap, ok := store.Load()
	if !ok {
		t.Fatal("setup Load failed")
	}

	snap.SchemaVersion = SchemaVersion - 1
	writeRawSnapshot(t, store.Path(), snap)

	if _, ok := store.Load(); ok {
		t.Error("Load() accepted old schema version, want rejection")
	}
	if _, err := store.load(); !errors.HasCode(err, errors.SchemaMismatch) {
		t.Errorf("error code = %v, want SchemaMismatch", errors.CodeOf(err))
	}
}

// writeRawSnapshot bypasses Save's version stamping to emulate snapshots
// written by other (older or newer) carto builds.
func writeRawSnapshot(t *testing.T, path string, snap *Snapshot) {
	t.Helper()

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(encoder).Encode(snap); err != nil {
		t.Fatal(err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, testLogger())

	if err := store.Save(&Snapshot{Vectors: testVectors()}); err != nil {
		t.Fatal(err)
	}

	// No temp file may survive a completed save.
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save()")
	}
}

func TestConcurrentSavesSerialize(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Save(&Snapshot{Vectors: testVectors()}); err != nil {
				t.Errorf("concurrent Save() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, ok := store.Load(); !ok {
		t.Error("Load() failed after concurrent saves")
	}
}

func TestLockContention(t *testing.T) {
	dir := filepath.Join(t.TempDir(), config.CartoDirName)

	lock, err := AcquireLock(dir, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock() error: %v", err)
	}
	defer lock.Release()

	// A second acquisition against the held lock must time out with a
	// contention error, not block forever.
	_, err = AcquireLock(dir, 100*time.Millisecond)
	if err == nil {
		t.Fatal("second AcquireLock() succeeded while lock held")
	}
	if !errors.HasCode(err, errors.LockContention) {
		t.Errorf("error code = %v, want LockContention", errors.CodeOf(err))
	}
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	dir := filepath.Join(t.TempDir(), config.CartoDirName)

	lock, err := AcquireLock(dir, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	lock.Release()

	// The lock file stays in place across releases: removing it would let a
	// waiter with an fd on the old inode and a newcomer on a fresh file hold
	// the lock at the same time.
	if _, err := os.Stat(filepath.Join(dir, lockFile)); err != nil {
		t.Errorf("lock file missing after Release(): %v", err)
	}

	lock2, err := AcquireLock(dir, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("reacquire after Release() failed: %v", err)
	}
	lock2.Release()
}

func TestAcquireOverStaleLockFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), config.CartoDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	// A lock file left behind by a dead process holds no flock, so it must
	// not block acquisition.
	if err := os.WriteFile(filepath.Join(dir, lockFile), []byte("99999"), 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireLock(dir, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLock() over stale lock file failed: %v", err)
	}
	lock.Release()
}
