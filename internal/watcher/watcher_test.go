package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	arrived []string
	removed []string
}

func (r *recorder) handler() HandlerFuncs {
	return HandlerFuncs{
		Arrived: func(_ context.Context, path string) error {
			r.mu.Lock()
			r.arrived = append(r.arrived, path)
			r.mu.Unlock()
			return nil
		},
		Removed: func(_ context.Context, path string) error {
			r.mu.Lock()
			r.removed = append(r.removed, path)
			r.mu.Unlock()
			return nil
		},
	}
}

func (r *recorder) snapshot() (arrived, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.arrived...), append([]string(nil), r.removed...)
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(rec.handler(), WithExtensions(".jsonl"), WithRecursive(true))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(rec.handler(),
		WithRoots(dir),
		WithExtensions(".jsonl", ".csv"),
		WithRecursive(true),
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "p.jsonl")
	for i := 0; i < 3; i++ {
		if err := writeFile(path, strings.Repeat(`{"vector":[1]}`+"\n", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(dir, "notes.txt"), "skip"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		arrived, _ := rec.snapshot()
		return hasSuffix(arrived, "p.jsonl")
	})
	time.Sleep(150 * time.Millisecond)

	arrived, _ := rec.snapshot()
	if hasSuffix(arrived, "notes.txt") {
		t.Errorf("notes.txt should be filtered out: %v", arrived)
	}
	if len(arrived) > 2 {
		t.Errorf("expected writes to be debounced, got %d loads", len(arrived))
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, removed := rec.snapshot()
		return hasSuffix(removed, "p.jsonl")
	})
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.jsonl", []string{".jsonl"}, true},
		{"/a/b.CSV", []string{"csv"}, true},
		{"/a/b.md", []string{".jsonl"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.csv", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.csv"), "a,1\n"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := New(rec.handler(), WithRoots(dir), WithExtensions(".csv"), WithRecursive(true))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	arrived, _ := rec.snapshot()
	if len(arrived) != 1 || !strings.HasSuffix(arrived[0], "a.csv") {
		t.Errorf("expected one loaded file a.csv, got %v", arrived)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := New(HandlerFuncs{}, WithRoots(root), WithRecursive(true))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_NewDirectoryIsLoaded(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(rec.handler(),
		WithRoots(dir),
		WithExtensions(".jsonl", ".csv"),
		WithRecursive(true),
		WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "batch", "day1")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.csv"), "a,1\n"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "skip.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		arrived, _ := rec.snapshot()
		return hasSuffix(arrived, "deep.csv")
	})
	arrived, _ := rec.snapshot()
	if hasSuffix(arrived, "skip.xyz") {
		t.Errorf("skip.xyz should not be loaded: %v", arrived)
	}
}

func TestHandlerFuncs_nil(t *testing.T) {
	var h HandlerFuncs
	if err := h.FileArrived(context.Background(), "x"); err != nil {
		t.Error(err)
	}
	if err := h.FileRemoved(context.Background(), "x"); err != nil {
		t.Error(err)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
