// Package watcher feeds point files into the index as they appear in watched
// directories. It uses fsnotify, debounces bursts of writes per file and can
// add or remove root directories while running.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler reacts to point files arriving in or leaving a watched directory.
type Handler interface {
	FileArrived(ctx context.Context, path string) error
	FileRemoved(ctx context.Context, path string) error
}

// HandlerFuncs adapts plain functions to a Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Arrived func(ctx context.Context, path string) error
	Removed func(ctx context.Context, path string) error
}

// FileArrived implements Handler.
func (h HandlerFuncs) FileArrived(ctx context.Context, path string) error {
	if h.Arrived == nil {
		return nil
	}
	return h.Arrived(ctx, path)
}

// FileRemoved implements Handler.
func (h HandlerFuncs) FileRemoved(ctx context.Context, path string) error {
	if h.Removed == nil {
		return nil
	}
	return h.Removed(ctx, path)
}

// Watcher watches root directories for point files.
type Watcher struct {
	handler    Handler
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	roots    []string
	watched  map[string][]string // root -> directories added to fsnotify
	pending  map[string]*time.Timer
	fsw      *fsnotify.Watcher
	ctx      context.Context
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithRoots sets the directories watched from Start.
func WithRoots(roots ...string) Option {
	return func(w *Watcher) { w.roots = append(w.roots, roots...) }
}

// WithExtensions restricts the watcher to files with these extensions.
// Without it every file is handed over.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) { w.extensions = exts }
}

// WithRecursive watches subdirectories of each root too.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithDebounce sets how long a file must stay quiet before it is loaded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets a logger for debug output and handler failures.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher delivering file events to h.
func New(h Handler, opts ...Option) *Watcher {
	w := &Watcher{
		handler:  h,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		watched:  make(map[string][]string),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start begins watching. Missing roots are created. The watcher runs until
// ctx is cancelled or Stop is called; handlers receive ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
		w.roots[i] = abs
		if err := w.watchRootLocked(abs); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.started = true
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if matchExtension(path, w.extensions) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(path)
		if matchExtension(path, w.extensions) {
			w.deliver(path, false)
		}
	}
}

// handleNewDirectory watches a directory created or moved under a root and
// loads the point files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fsw, recursive := w.fsw, w.recursive
	w.mu.Unlock()
	if fsw == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	w.sync(dir)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule loads path once it has been quiet for the debounce interval.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.deliver(path, true)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) deliver(path string, arrived bool) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if arrived {
		w.logger.Debug("watcher loading file", zap.String("path", path))
		err = w.handler.FileArrived(ctx, path)
	} else {
		w.logger.Debug("watcher file removed", zap.String("path", path))
		err = w.handler.FileRemoved(ctx, path)
	}
	if err != nil {
		w.logger.Warn("watcher handler failed",
			zap.String("path", path), zap.Bool("arrived", arrived), zap.Error(err))
	}
}

// AddDirectory watches another root. With syncExisting the point files
// already in it are loaded in the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.watchRootLocked(abs); err != nil {
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting && w.fsw != nil {
		go w.sync(abs)
	}
	return nil
}

func (w *Watcher) watchRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var dirs []string
	if !w.recursive {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		w.watched[root] = []string{root}
		return nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return err
	}
	w.watched[root] = dirs
	return nil
}

// sync loads every matching file under dir.
func (w *Watcher) sync(dir string) {
	w.logger.Debug("watcher syncing directory", zap.String("dir", dir))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.deliver(path, true)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Points loaded from it stay indexed.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.roots {
		if r != abs {
			continue
		}
		if w.fsw != nil {
			for _, dir := range w.watched[abs] {
				_ = w.fsw.Remove(dir)
			}
		}
		delete(w.watched, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Debug("watcher directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles loads the matching files already present in every root.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.sync(root)
	}
}

// Stop stops the watcher and drops pending loads.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
