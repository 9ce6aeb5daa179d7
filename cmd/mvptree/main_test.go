package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/mvptree/internal/models"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after vector are moved first",
			args:     []string{"1,2,3", "--radius", "0.5"},
			expected: []string{"--radius", "0.5", "--", "1,2,3"},
		},
		{
			name:     "flags first keep their order",
			args:     []string{"--radius", "0.5", "1,2,3"},
			expected: []string{"--radius", "0.5", "--", "1,2,3"},
		},
		{
			name:     "positionals only",
			args:     []string{"a", "b"},
			expected: []string{"--", "a", "b"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "negative coordinates are not flags",
			args:     []string{"-1,2", "-.5", "--output", "json"},
			expected: []string{"--output", "json", "--", "-1,2", "-.5"},
		},
		{
			name:     "leading flags with a trailing flag",
			args:     []string{"--config", "c.yaml", "--output", "json", "0,0", "--radius", "1"},
			expected: []string{"--config", "c.yaml", "--output", "json", "--radius", "1", "--", "0,0"},
		},
		{
			name:     "bool flags take no value",
			args:     []string{"--metrics", "0,0", "--yes", "--radius=2"},
			expected: []string{"--metrics", "--yes", "--radius=2", "--", "0,0"},
		},
		{
			name:     "double dash ends flags",
			args:     []string{"--radius", "1", "--", "--odd-id"},
			expected: []string{"--radius", "1", "--", "--odd-id"},
		},
	}
	fs, _ := newFlagSet("test", "test")
	fs.Float64("radius", 0, "")
	fs.Bool("yes", false, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(fs, tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
			if err := fs.Parse(got); err != nil {
				t.Errorf("Parse(%v): %v", got, err)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  backend: memory
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("tree:\n  metric: L2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Tree.Metric != "L2" {
		t.Errorf("unexpected tree config: %+v", cfg.Tree)
	}
}

// testConfig writes a config using a sqlite database next to it.
func testConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  backend: sqlite
  database_path: ./data/mvptree.db
tree:
  element_kind: int32
  metric: L1
  branch_factor: 2
  path_length: 2
  leaf_minimum: 2
  levels_per_node: 1
` + extra
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, cmd command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := cmd(args, &out); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestCommands_endToEnd(t *testing.T) {
	cfgPath := testConfig(t, "")
	dir := filepath.Dir(cfgPath)
	pointsFile := filepath.Join(dir, "points.csv")
	var csv strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&csv, "p%d,%d,%d\n", i, i, i%5)
	}
	if err := os.WriteFile(pointsFile, []byte(csv.String()), 0600); err != nil {
		t.Fatal(err)
	}

	out := run(t, runInsert, "--config", cfgPath, pointsFile)
	if !strings.Contains(out, "Loaded 30 point(s)") {
		t.Errorf("insert file output: %s", out)
	}
	out = run(t, runInsert, "--config", cfgPath, "--id", "origin", "0,0")
	if !strings.Contains(out, "Inserted: origin") {
		t.Errorf("insert inline output: %s", out)
	}

	out = run(t, runQuery, "--config", cfgPath, "--output", "json", "0,0", "--radius", "1")
	var resp models.QueryResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("query json: %v\n%s", err, out)
	}
	// L1 averages over the dimension, so (1,1) is at distance 1 from (0,0).
	var ids []string
	for _, h := range resp.Hits {
		ids = append(ids, h.ID)
	}
	if want := []string{"origin", "p0", "p1"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("query hits = %v, want %v", ids, want)
	}

	out = run(t, runQuery, "--config", cfgPath, "--output", "compact", "--id", "p1", "--radius", "0")
	if strings.TrimSpace(out) != "p1\t0" {
		t.Errorf("query by id output: %q", out)
	}

	out = run(t, runLookup, "--config", cfgPath, "p2", "missing")
	if !strings.Contains(out, "p2\t[2, 2]") || !strings.Contains(out, "missing\t(not found)") {
		t.Errorf("lookup output: %q", out)
	}

	out = run(t, runDistance, "--config", cfgPath, "p0", "4,2")
	if strings.TrimSpace(out) != "3" {
		t.Errorf("distance output: %q", out)
	}

	out = run(t, runRemove, "--config", cfgPath, "p0", "nope")
	if !strings.Contains(out, "Removed 1 of 2") {
		t.Errorf("remove output: %q", out)
	}

	out = run(t, runStatus, "--config", cfgPath, "--output", "json")
	var status statusResponse
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("status json: %v\n%s", err, out)
	}
	if status.Points != 30 {
		t.Errorf("status points = %d, want 30", status.Points)
	}
	if status.DiskUsageBytes == nil || *status.DiskUsageBytes == 0 {
		t.Error("status should report disk usage for sqlite")
	}
	if status.Config.Tree.ElementKind != "int32" || status.Config.Tree.PathLength != 2 {
		t.Errorf("status tree params: %+v", status.Config.Tree)
	}

	out = run(t, runStats, "--config", cfgPath)
	if !strings.Contains(out, "Indexed points: 30") {
		t.Errorf("stats output: %s", out)
	}
	out = run(t, runPrint, "--config", cfgPath)
	if !strings.Contains(out, "Tree structure:") {
		t.Errorf("print output: %s", out)
	}

	out = run(t, runClear, "--config", cfgPath, "--yes")
	if !strings.Contains(out, "Index cleared") {
		t.Errorf("clear output: %s", out)
	}
	out = run(t, runStatus, "--config", cfgPath)
	if !strings.Contains(out, "points:             0") {
		t.Errorf("status after clear: %s", out)
	}
}

func TestCommands_errors(t *testing.T) {
	cfgPath := testConfig(t, "")
	var out bytes.Buffer
	if err := runQuery([]string{"--config", cfgPath, "--radius", "-1", "1,2"}, &out); err == nil {
		t.Error("negative radius should fail")
	}
	if err := runQuery([]string{"--config", cfgPath, "--output", "xml", "1,2"}, &out); err == nil {
		t.Error("unknown output format should fail")
	}
	if err := runInsert([]string{"--config", cfgPath, "1,2,x"}, &out); err == nil {
		t.Error("bad vector should fail")
	}
	if err := runInsert([]string{"--config", cfgPath, "1,2"}, &out); err != nil {
		t.Fatal(err)
	}
	if err := runInsert([]string{"--config", cfgPath, "1,2,3"}, &out); err == nil {
		t.Error("dimension mismatch should fail")
	}
	if err := runDistance([]string{"--config", cfgPath, "1,2"}, &out); err == nil {
		t.Error("distance with one argument should fail")
	}

	// A tree built with int32 elements cannot be reopened as float64.
	other := filepath.Join(filepath.Dir(cfgPath), "float.yaml")
	content := "storage:\n  backend: sqlite\n  database_path: ./data/mvptree.db\ntree:\n  element_kind: float64\n"
	if err := os.WriteFile(other, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := runStatus([]string{"--config", other}, &out); err == nil {
		t.Error("element kind mismatch should fail")
	}
}

func TestWatchConfigCommands(t *testing.T) {
	cfgPath := testConfig(t, "")
	watched := filepath.Join(t.TempDir(), "incoming")

	out := run(t, runWatch, "add", "--config", cfgPath, watched)
	if !strings.Contains(out, "Added: "+watched) {
		t.Errorf("watch add output: %s", out)
	}
	run(t, runWatch, "add", "--config", cfgPath, watched)
	out = run(t, runWatch, "list", "--config", cfgPath)
	if strings.TrimSpace(out) != watched {
		t.Errorf("watch list = %q, want %q", out, watched)
	}
	run(t, runWatch, "remove", "--config", cfgPath, watched)
	out = run(t, runWatch, "list", "--config", cfgPath)
	if strings.TrimSpace(out) != "" {
		t.Errorf("watch list after remove = %q", out)
	}

	var buf bytes.Buffer
	if err := runWatch([]string{"bogus"}, &buf); err == nil {
		t.Error("unknown watch subcommand should fail")
	}
}
