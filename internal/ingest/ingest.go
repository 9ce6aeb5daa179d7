// Package ingest bulk loads point files into an MVP tree.
//
// Supported formats are JSON lines (.jsonl, .ndjson), one {"id", "vector"}
// object per line, and CSV (.csv), one "id,v1,v2,..." record per line.
// Records without an id get one derived from their file and line.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/models"
	"github.com/hyperjump/mvptree/internal/mvp"
	"github.com/hyperjump/mvptree/internal/pointid"
	"github.com/hyperjump/mvptree/internal/vector"
)

// DefaultBatchSize is the number of points handed to one AddPoints call.
const DefaultBatchSize = 1000

// Extensions lists the file extensions the loader understands.
var Extensions = []string{".jsonl", ".ndjson", ".csv"}

type loaderConfig struct {
	batchSize int
	logger    *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderConfig)

// WithBatchSize sets how many points are inserted per transaction.
func WithBatchSize(n int) LoaderOption {
	return func(c *loaderConfig) { c.batchSize = n }
}

// WithLogger sets a logger for debug output. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(c *loaderConfig) { c.logger = l }
}

// Loader reads point files and inserts their records into a tree. It
// remembers which ids each file contributed so a removed file can be
// unloaded again.
type Loader[T vector.Element] struct {
	tree      *mvp.Tree[T]
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	sources map[string][]string
}

// NewLoader creates a loader inserting into tree.
func NewLoader[T vector.Element](tree *mvp.Tree[T], opts ...LoaderOption) *Loader[T] {
	cfg := loaderConfig{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = DefaultBatchSize
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return &Loader[T]{
		tree:      tree,
		batchSize: cfg.batchSize,
		logger:    cfg.logger,
		sources:   make(map[string][]string),
	}
}

type record struct {
	line   int
	id     string
	fields []string
}

// LoadFile reads the point file at path and inserts every record whose id is
// not indexed yet. If allowedExts is non-empty the file's extension must be
// in it. Returns the number of points inserted.
func (l *Loader[T]) LoadFile(ctx context.Context, path string, allowedExts []string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !ExtensionAllowed(ext, allowedExts) {
		return 0, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", absPath)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var records []record
	switch ext {
	case ".jsonl", ".ndjson":
		records, err = readJSONLines(f)
	case ".csv":
		records, err = readCSV(f)
	default:
		return 0, fmt.Errorf("unsupported point file format %q", ext)
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", absPath, err)
	}

	points, err := l.points(ctx, absPath, records)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", absPath, err)
	}
	for start := 0; start < len(points); start += l.batchSize {
		end := min(start+l.batchSize, len(points))
		if err := l.tree.AddPoints(ctx, points[start:end]); err != nil {
			return start, fmt.Errorf("insert points from %s: %w", absPath, err)
		}
		l.track(absPath, points[start:end])
	}
	l.logger.Debug("ingest file loaded",
		zap.String("path", absPath),
		zap.Int("records", len(records)),
		zap.Int("inserted", len(points)))
	return len(points), nil
}

func (l *Loader[T]) track(absPath string, points []*mvp.Point[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range points {
		l.sources[absPath] = append(l.sources[absPath], p.ID)
	}
}

// UnloadFile removes the points this loader inserted from path. Returns the
// number of ids removed; files loaded by another process are unknown and
// unload nothing.
func (l *Loader[T]) UnloadFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	l.mu.Lock()
	ids := l.sources[absPath]
	delete(l.sources, absPath)
	l.mu.Unlock()
	for i, id := range ids {
		if err := l.tree.RemovePoint(ctx, id); err != nil {
			l.mu.Lock()
			l.sources[absPath] = append(l.sources[absPath], ids[i:]...)
			l.mu.Unlock()
			return i, fmt.Errorf("remove point %q: %w", id, err)
		}
	}
	if len(ids) > 0 {
		l.logger.Debug("ingest file unloaded", zap.String("path", absPath), zap.Int("removed", len(ids)))
	}
	return len(ids), nil
}

// points parses records into points, skipping ids that are indexed already
// or repeated within the file.
func (l *Loader[T]) points(ctx context.Context, absPath string, records []record) ([]*mvp.Point[T], error) {
	seen := make(map[string]struct{}, len(records))
	out := make([]*mvp.Point[T], 0, len(records))
	for _, r := range records {
		id := r.id
		if id == "" {
			id = pointid.FromSource(absPath, r.line)
		}
		if _, dup := seen[id]; dup {
			l.logger.Warn("ingest skipping repeated id", zap.String("id", id), zap.Int("line", r.line))
			continue
		}
		seen[id] = struct{}{}
		v, err := vector.ParseElements[T](r.fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		existing, err := l.tree.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			l.logger.Debug("ingest skipping indexed point", zap.String("id", id))
			continue
		}
		out = append(out, mvp.NewPoint(id, v))
	}
	return out, nil
}

func readJSONLines(r io.Reader) ([]record, error) {
	var out []record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var in models.PointInput
		if err := dec.Decode(&in); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, record{line: line, id: in.ID, fields: in.Strings()})
	}
	return out, sc.Err()
}

func readCSV(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	var out []record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(out) == 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "id") {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: record has no coordinates", line)
		}
		out = append(out, record{line: line, id: strings.TrimSpace(fields[0]), fields: fields[1:]})
	}
}

// LoadDirectory walks dir recursively and loads each regular file whose
// extension is in allowedExts (Extensions when empty). Returns the number of
// files loaded, the number of points inserted and the first error, if any.
func (l *Loader[T]) LoadDirectory(ctx context.Context, dir string, allowedExts []string) (files, points int, err error) {
	if len(allowedExts) == 0 {
		allowedExts = Extensions
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		n, loadErr := l.LoadFile(ctx, path, allowedExts)
		if loadErr != nil {
			return loadErr
		}
		files++
		points += n
		return nil
	})
	return files, points, err
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the
// leading dot.
func ExtensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
