package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Embedding.ServerURL == "" {
		t.Error("default ServerURL is empty")
	}
	if cfg.Indexing.CheckpointInterval <= 0 {
		t.Errorf("CheckpointInterval = %d, want positive", cfg.Indexing.CheckpointInterval)
	}
	if cfg.Indexing.Retry.MaxAttempts <= 0 {
		t.Errorf("Retry.MaxAttempts = %d, want positive", cfg.Indexing.Retry.MaxAttempts)
	}
	if cfg.Watcher.DebounceMs <= 0 {
		t.Errorf("DebounceMs = %d, want positive", cfg.Watcher.DebounceMs)
	}

	found := false
	for _, p := range cfg.Watcher.IgnorePatterns {
		if p == CartoDirName+"/**" {
			found = true
		}
	}
	if !found {
		t.Errorf("ignore patterns %v do not exclude %s", cfg.Watcher.IgnorePatterns, CartoDirName)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RootPath != root {
		t.Errorf("RootPath = %q, want %q", cfg.RootPath, root)
	}
	if cfg.Embedding.ServerURL != DefaultConfig().Embedding.ServerURL {
		t.Errorf("ServerURL = %q, want default", cfg.Embedding.ServerURL)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.RootPath = root
	cfg.Embedding.ServerURL = "http://gpu-box:9090"
	cfg.Embedding.MaxBatchSize = 32
	cfg.Watcher.DebounceMs = 250
	cfg.Indexing.CheckpointInterval = 100
	cfg.Logging.Level = "debug"

	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Embedding.ServerURL != "http://gpu-box:9090" {
		t.Errorf("ServerURL = %q", got.Embedding.ServerURL)
	}
	if got.Embedding.MaxBatchSize != 32 {
		t.Errorf("MaxBatchSize = %d, want 32", got.Embedding.MaxBatchSize)
	}
	if got.Watcher.DebounceMs != 250 {
		t.Errorf("DebounceMs = %d, want 250", got.Watcher.DebounceMs)
	}
	if got.Indexing.CheckpointInterval != 100 {
		t.Errorf("CheckpointInterval = %d, want 100", got.Indexing.CheckpointInterval)
	}
	if got.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", got.Logging.Level)
	}
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, CartoDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	partial := `version = 1

[embedding]
serverUrl = "http://gpu-box:9090"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Embedding.ServerURL != "http://gpu-box:9090" {
		t.Errorf("ServerURL = %q, not overridden", cfg.Embedding.ServerURL)
	}
	// Unmentioned sections keep their defaults.
	if cfg.Indexing.CheckpointInterval != DefaultConfig().Indexing.CheckpointInterval {
		t.Errorf("CheckpointInterval = %d, default lost", cfg.Indexing.CheckpointInterval)
	}
	if len(cfg.Watcher.IgnorePatterns) == 0 {
		t.Error("default ignore patterns lost")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "bad version",
			mutate:  func(c *Config) { c.Version = 2 },
			wantErr: "version",
		},
		{
			name:    "missing server URL",
			mutate:  func(c *Config) { c.Embedding.ServerURL = "" },
			wantErr: "embedding.serverUrl",
		},
		{
			name:    "zero checkpoint interval",
			mutate:  func(c *Config) { c.Indexing.CheckpointInterval = 0 },
			wantErr: "indexing.checkpointInterval",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Indexing.Retry.MaxAttempts = 0 },
			wantErr: "indexing.retry.maxAttempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %q", err.Error(), tt.wantErr)
			}
		})
	}
}
