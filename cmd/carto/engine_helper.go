package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"carto/internal/config"
	"carto/internal/indexer"
	"carto/internal/jobs"
	"carto/internal/logging"
	"carto/internal/persist"
	"carto/internal/remote"
	"carto/internal/source"
	"carto/internal/vecindex"
)

// engine bundles everything a command needs to operate on one tracked root.
type engine struct {
	cfg       *config.Config
	logger    *logging.Logger
	coord     *indexer.Coordinator
	snapshots *persist.Store
	index     *vecindex.Index
	jobs      *jobs.Store
	client    *remote.Client
}

// newEngine loads config, restores the persisted snapshot, and wires the
// coordinator. Callers must invoke close when done.
func newEngine(rootPath string) (*engine, error) {
	cfg, err := config.Load(rootPath)
	if err != nil {
		return nil, err
	}
	cfg.RootPath = rootPath
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})

	index := vecindex.New()
	snapshots := persist.NewStore(rootPath, logger)
	if snap, ok := snapshots.Load(); ok {
		index.Restore(snap.Vectors)
		logger.Debug("Restored index snapshot", map[string]interface{}{
			"vectors": index.Len(),
		})
	}

	jobStore, err := jobs.OpenStore(filepath.Join(rootPath, config.CartoDirName), logger)
	if err != nil {
		return nil, fmt.Errorf("opening jobs store: %w", err)
	}

	client := remote.New(cfg.Embedding.ServerURL,
		time.Duration(cfg.Embedding.RequestTimeoutMs)*time.Millisecond, logger)

	sources := source.NewCache(logger)
	coord := indexer.New(cfg, logger, sources, index, snapshots, jobStore, client)

	return &engine{
		cfg:       cfg,
		logger:    logger,
		coord:     coord,
		snapshots: snapshots,
		index:     index,
		jobs:      jobStore,
		client:    client,
	}, nil
}

func (e *engine) close() {
	if err := e.jobs.Close(); err != nil {
		e.logger.Warn("Failed to close jobs store", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// mustEngine exits with an error message when the engine cannot be built.
func mustEngine() *engine {
	root, err := resolveRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving root: %v\n", err)
		os.Exit(1)
	}

	e, err := newEngine(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return e
}
