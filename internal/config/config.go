// Package config loads and persists carto configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// CartoDirName is the directory under the tracked root holding all carto state.
const CartoDirName = ".carto"

// Config represents the complete carto configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version" toml:"version"`
	RootPath string `json:"rootPath" mapstructure:"rootPath" toml:"rootPath"`

	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding" toml:"embedding"`
	Watcher   WatcherConfig   `json:"watcher" mapstructure:"watcher" toml:"watcher"`
	Indexing  IndexingConfig  `json:"indexing" mapstructure:"indexing" toml:"indexing"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache" toml:"cache"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging" toml:"logging"`
}

// EmbeddingConfig contains remote embedding server settings
type EmbeddingConfig struct {
	ServerURL        string `json:"serverUrl" mapstructure:"serverUrl" toml:"serverUrl"`
	RequestTimeoutMs int    `json:"requestTimeoutMs" mapstructure:"requestTimeoutMs" toml:"requestTimeoutMs"`
	// MaxBatchSize caps the batch size even if the server recommends more.
	MaxBatchSize int `json:"maxBatchSize" mapstructure:"maxBatchSize" toml:"maxBatchSize"`
}

// WatcherConfig contains filesystem watcher settings
type WatcherConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	DebounceMs     int      `json:"debounceMs" mapstructure:"debounceMs" toml:"debounceMs"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns" toml:"ignorePatterns"`
}

// IndexingConfig contains incremental indexing settings
type IndexingConfig struct {
	// CheckpointInterval is the number of processed chunks between checkpoints.
	CheckpointInterval int         `json:"checkpointInterval" mapstructure:"checkpointInterval" toml:"checkpointInterval"`
	Retry              RetryConfig `json:"retry" mapstructure:"retry" toml:"retry"`
}

// RetryConfig describes the backoff policy for remote embedding requests
type RetryConfig struct {
	MaxAttempts int     `json:"maxAttempts" mapstructure:"maxAttempts" toml:"maxAttempts"`
	BaseDelayMs int     `json:"baseDelayMs" mapstructure:"baseDelayMs" toml:"baseDelayMs"`
	MaxDelayMs  int     `json:"maxDelayMs" mapstructure:"maxDelayMs" toml:"maxDelayMs"`
	Multiplier  float64 `json:"multiplier" mapstructure:"multiplier" toml:"multiplier"`
}

// CacheConfig contains in-memory cache limits
type CacheConfig struct {
	ResultCacheMaxEntries int `json:"resultCacheMaxEntries" mapstructure:"resultCacheMaxEntries" toml:"resultCacheMaxEntries"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format" toml:"format"`
	Level  string `json:"level" mapstructure:"level" toml:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RootPath: ".",
		Embedding: EmbeddingConfig{
			ServerURL:        "http://localhost:8080",
			RequestTimeoutMs: 120000,
			MaxBatchSize:     64,
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 500,
			IgnorePatterns: []string{
				"*.log",
				"*.tmp",
				".git/**",
				".carto/**",
				"node_modules/**",
				"vendor/**",
				"build/**",
				"DerivedData/**",
			},
		},
		Indexing: IndexingConfig{
			CheckpointInterval: 500,
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelayMs: 500,
				MaxDelayMs:  15000,
				Multiplier:  2.0,
			},
		},
		Cache: CacheConfig{
			ResultCacheMaxEntries: 1024,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// Load loads configuration from <root>/.carto/config.toml.
// A missing config file yields the defaults.
func Load(rootPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(rootPath, CartoDirName))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := DefaultConfig()
			cfg.RootPath = rootPath
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.RootPath == "" || cfg.RootPath == "." {
		cfg.RootPath = rootPath
	}

	return cfg, nil
}

// Save writes the configuration to <root>/.carto/config.toml.
func (c *Config) Save(rootPath string) error {
	dir := filepath.Join(rootPath, CartoDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", CartoDirName, err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "config.toml"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Embedding.ServerURL == "" {
		return &ConfigError{Field: "embedding.serverUrl", Message: "server URL is required"}
	}
	if c.Indexing.CheckpointInterval <= 0 {
		return &ConfigError{Field: "indexing.checkpointInterval", Message: "must be positive"}
	}
	if c.Indexing.Retry.MaxAttempts <= 0 {
		return &ConfigError{Field: "indexing.retry.maxAttempts", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
