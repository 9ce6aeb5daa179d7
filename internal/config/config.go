// Package config provides configuration loading and structs for the mvptree command.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/mvptree/internal/metric"
	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Storage StorageConfig `yaml:"storage"`
	Tree    TreeConfig    `yaml:"tree"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Watch   WatchConfig   `yaml:"watch"`
}

// StorageConfig selects the storage backend. DatabasePath is a file for
// sqlite and a directory for badger.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DatabasePath string `yaml:"database_path"`
}

// TreeConfig holds the tree parameters used when a new tree is created.
// An existing tree keeps the parameters it was built with.
type TreeConfig struct {
	BranchFactor      int           `yaml:"branch_factor"`
	PathLength        int           `yaml:"path_length"`
	LeafMinimum       int           `yaml:"leaf_minimum"`
	LevelsPerNode     int           `yaml:"levels_per_node"`
	Metric            string        `yaml:"metric"`
	ElementKind       string        `yaml:"element_kind"`
	RootRetryAttempts int           `yaml:"root_retry_attempts"`
	RootRetryDelay    time.Duration `yaml:"root_retry_delay"`
}

// IngestConfig holds bulk loading settings.
type IngestConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects unknown backends, element kinds and metrics, and tree
// parameters the tree would refuse.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case storage.BackendMemory, storage.BackendSQLite, storage.BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if _, err := vector.ParseKind(c.Tree.ElementKind); err != nil {
		return err
	}
	if _, err := metric.ByName[float64](c.Tree.Metric); err != nil {
		return err
	}
	t := c.Tree
	switch {
	case t.BranchFactor < 2:
		return fmt.Errorf("tree.branch_factor must be at least 2, got %d", t.BranchFactor)
	case t.PathLength <= 0:
		return fmt.Errorf("tree.path_length must be positive, got %d", t.PathLength)
	case t.LeafMinimum <= 0:
		return fmt.Errorf("tree.leaf_minimum must be positive, got %d", t.LeafMinimum)
	case t.LevelsPerNode <= 0:
		return fmt.Errorf("tree.levels_per_node must be positive, got %d", t.LevelsPerNode)
	case t.RootRetryAttempts <= 0:
		return fmt.Errorf("tree.root_retry_attempts must be positive, got %d", t.RootRetryAttempts)
	case t.RootRetryDelay < 0:
		return fmt.Errorf("tree.root_retry_delay must not be negative, got %s", t.RootRetryDelay)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
