package config

import (
	"strings"

	"github.com/hyperjump/mvptree/internal/ingest"
	"github.com/hyperjump/mvptree/internal/metric"
	"github.com/hyperjump/mvptree/internal/mvp"
	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

// DefaultDatabasePath is used when storage.database_path is unset.
const DefaultDatabasePath = "/usr/local/var/mvptree/data/mvptree.db"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendSQLite
	}
	if cfg.Storage.DatabasePath == "" && cfg.Storage.Backend != storage.BackendMemory {
		cfg.Storage.DatabasePath = DefaultDatabasePath
	}
	if cfg.Tree.BranchFactor == 0 {
		cfg.Tree.BranchFactor = mvp.DefaultBranchFactor
	}
	if cfg.Tree.PathLength == 0 {
		cfg.Tree.PathLength = mvp.DefaultPathLength
	}
	if cfg.Tree.LeafMinimum == 0 {
		cfg.Tree.LeafMinimum = mvp.DefaultLeafMinimum
	}
	if cfg.Tree.LevelsPerNode == 0 {
		cfg.Tree.LevelsPerNode = mvp.DefaultLevelsPerNode
	}
	if cfg.Tree.Metric == "" {
		cfg.Tree.Metric = metric.NameL1
	}
	if cfg.Tree.ElementKind == "" {
		cfg.Tree.ElementKind = vector.Float32.String()
	}
	if cfg.Tree.RootRetryAttempts == 0 {
		cfg.Tree.RootRetryAttempts = mvp.DefaultRootRetryAttempts
	}
	if cfg.Tree.RootRetryDelay == 0 {
		cfg.Tree.RootRetryDelay = mvp.DefaultRootRetryDelay
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = ingest.DefaultBatchSize
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), ingest.Extensions...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
