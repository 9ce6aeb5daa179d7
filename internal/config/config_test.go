package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: badger
  database_path: "/tmp/mvptree-badger"
tree:
  branch_factor: 3
  path_length: 4
  leaf_minimum: 5
  levels_per_node: 1
  metric: hamming
  element_kind: int32
  root_retry_delay: 250ms
ingest:
  batch_size: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.DatabasePath != "/tmp/mvptree-badger" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	tr := cfg.Tree
	if tr.BranchFactor != 3 || tr.PathLength != 4 || tr.LeafMinimum != 5 || tr.LevelsPerNode != 1 {
		t.Errorf("unexpected tree config: %+v", tr)
	}
	if tr.Metric != "hamming" || tr.ElementKind != "int32" {
		t.Errorf("unexpected metric/kind: %q %q", tr.Metric, tr.ElementKind)
	}
	if tr.RootRetryDelay != 250*time.Millisecond {
		t.Errorf("root_retry_delay = %s, want 250ms", tr.RootRetryDelay)
	}
	if tr.RootRetryAttempts != 5 {
		t.Errorf("root_retry_attempts default = %d, want 5", tr.RootRetryAttempts)
	}
	if cfg.Ingest.BatchSize != 50 {
		t.Errorf("batch_size = %d, want 50", cfg.Ingest.BatchSize)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/mvptree.db"
watch:
  directories: ["./incoming"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "mvptree.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	if want := filepath.Join(dir, "incoming"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], want)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := map[string]string{
		"backend":       "storage:\n  backend: postgres\n",
		"kind":          "tree:\n  element_kind: complex128\n",
		"metric":        "tree:\n  metric: cosine\n",
		"branch factor": "tree:\n  branch_factor: 1\n",
		"path length":   "tree:\n  path_length: -2\n",
		"batch size":    "ingest:\n  batch_size: -1\n",
		"yaml":          "tree: [unclosed\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.DatabasePath != DefaultDatabasePath {
		t.Errorf("default storage: %+v", cfg.Storage)
	}
	tr := cfg.Tree
	if tr.BranchFactor != 2 || tr.PathLength != 8 || tr.LeafMinimum != 10 || tr.LevelsPerNode != 2 {
		t.Errorf("default tree params: %+v", tr)
	}
	if tr.Metric != "L1" || tr.ElementKind != "float32" {
		t.Errorf("default metric/kind: %q %q", tr.Metric, tr.ElementKind)
	}
	if tr.RootRetryAttempts != 5 || tr.RootRetryDelay != time.Second {
		t.Errorf("default root retry: %d %s", tr.RootRetryAttempts, tr.RootRetryDelay)
	}
	if cfg.Ingest.BatchSize != 1000 {
		t.Errorf("default batch size: %d", cfg.Ingest.BatchSize)
	}
	if len(cfg.Watch.Extensions) != 3 || cfg.Watch.Extensions[0] != ".jsonl" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	mem := &Config{Storage: StorageConfig{Backend: "Memory"}}
	ApplyDefaults(mem)
	if mem.Storage.Backend != "memory" || mem.Storage.DatabasePath != "" {
		t.Errorf("memory backend should not get a database path: %+v", mem.Storage)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/points"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Storage: StorageConfig{Backend: "sqlite", DatabasePath: "/tmp/mvptree.db"},
		Tree:    TreeConfig{BranchFactor: 4, RootRetryDelay: 2 * time.Second},
		Watch:   WatchConfig{Directories: []string{"/tmp/in"}},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Tree.BranchFactor != 4 || loaded.Tree.RootRetryDelay != 2*time.Second {
		t.Errorf("loaded tree: %+v", loaded.Tree)
	}
	if len(loaded.Watch.Directories) != 1 || loaded.Watch.Directories[0] != "/tmp/in" {
		t.Errorf("loaded watch: %+v", loaded.Watch)
	}
}
