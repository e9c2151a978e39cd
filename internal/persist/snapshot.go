// Package persist durably stores and loads vector index snapshots with
// schema versioning and cross-process mutual exclusion.
package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"carto/internal/config"
	"carto/internal/errors"
	"carto/internal/logging"
	"carto/internal/vecindex"
)

// SchemaVersion is the current snapshot format version. A persisted
// snapshot with any other version is discarded in full; there is no
// partial migration.
const SchemaVersion = 2

const (
	snapshotFile = "index.carto"
	lockWait     = 5 * time.Second
)

// Snapshot is the durable form of the vector index.
type Snapshot struct {
	SchemaVersion int                                  `json:"schemaVersion"`
	Provider      string                               `json:"provider"`
	Dimensions    int                                  `json:"dimensions"`
	SavedAt       time.Time                            `json:"savedAt"`
	Vectors       map[string]vecindex.EmbeddingVector `json:"vectors"`
}

// Store owns the snapshot file for one tracked root. It is the sole writer
// within this process; other processes write only under the shared advisory
// lock.
type Store struct {
	cartoDir string
	logger   *logging.Logger

	// saving is set for the duration of our own writes so the snapshot
	// watcher can tell self-writes from external ones.
	saving atomic.Bool
}

// NewStore creates a snapshot store rooted at <root>/.carto.
func NewStore(rootPath string, logger *logging.Logger) *Store {
	return &Store{
		cartoDir: filepath.Join(rootPath, config.CartoDirName),
		logger:   logger,
	}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return filepath.Join(s.cartoDir, snapshotFile)
}

// Load reads the persisted snapshot. An absent, unreadable, corrupt, or
// version-mismatched snapshot yields (nil, false) and a warning log; it is
// never an error, the caller rebuilds from scratch.
func (s *Store) Load() (*Snapshot, bool) {
	snap, err := s.load()
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Snapshot unusable, rebuilding index", map[string]interface{}{
				"path":  s.Path(),
				"code":  string(errors.CodeOf(err)),
				"error": err.Error(),
			})
		}
		return nil, false
	}
	return snap, true
}

// load classifies every failure mode: raw read errors pass through,
// undecodable bytes are CORRUPT_INDEX, a decoded snapshot with the wrong
// version is SCHEMA_MISMATCH.
func (s *Store) load() (*Snapshot, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(errors.CorruptIndex, "snapshot is not valid zstd", err)
	}
	defer decoder.Close()

	var snap Snapshot
	if err := json.NewDecoder(decoder).Decode(&snap); err != nil {
		return nil, errors.New(errors.CorruptIndex, "snapshot payload is not decodable", err)
	}

	if snap.SchemaVersion != SchemaVersion {
		return nil, errors.Newf(errors.SchemaMismatch,
			"snapshot schema version %d, expected %d", snap.SchemaVersion, SchemaVersion)
	}

	if snap.Vectors == nil {
		snap.Vectors = make(map[string]vecindex.EmbeddingVector)
	}
	return &snap, nil
}

// Save persists the snapshot under the exclusive cross-process lock,
// writing to a temp file and renaming so a crash mid-write never corrupts
// the previous snapshot. The lock is never held across a network call;
// callers must fully assemble the snapshot before saving.
func (s *Store) Save(snap *Snapshot) error {
	lock, err := AcquireLock(s.cartoDir, lockWait)
	if err != nil {
		return err
	}
	defer lock.Release()

	snap.SchemaVersion = SchemaVersion
	snap.SavedAt = time.Now().UTC()

	s.saving.Store(true)
	defer s.saving.Store(false)

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("creating snapshot encoder: %w", err)
	}
	if err := json.NewEncoder(encoder).Encode(snap); err != nil {
		_ = encoder.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finishing snapshot encoding: %w", err)
	}

	tmp := s.Path() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing snapshot temp file: %w", err)
	}

	if err := os.Rename(tmp, s.Path()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved", map[string]interface{}{
		"path":    s.Path(),
		"vectors": len(snap.Vectors),
	})
	return nil
}

// Saving reports whether this process is currently writing the snapshot.
func (s *Store) Saving() bool {
	return s.saving.Load()
}
