package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/config"
	"github.com/hyperjump/mvptree/internal/ingest"
	"github.com/hyperjump/mvptree/internal/metric"
	"github.com/hyperjump/mvptree/internal/models"
	"github.com/hyperjump/mvptree/internal/mvp"
	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

// index is the element kind independent view of an opened tree used by the
// subcommands.
type index interface {
	insert(ctx context.Context, ids, vectors []string) ([]string, error)
	loadFile(ctx context.Context, path string, exts []string) (int, error)
	loadDirectory(ctx context.Context, dir string, exts []string) (files, points int, err error)
	unloadFile(ctx context.Context, path string) (int, error)
	query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error)
	lookup(ctx context.Context, id string) (string, bool, error)
	remove(ctx context.Context, ids []string) (int, error)
	distance(ctx context.Context, a, b string) (float64, error)
	count(ctx context.Context) (int64, error)
	stats(ctx context.Context) (*mvp.Stats, error)
	print(ctx context.Context, w io.Writer) error
	clear(ctx context.Context) error
	params() treeParams
	close() error
}

type treeParams struct {
	BranchFactor  int    `json:"branch_factor"`
	PathLength    int    `json:"path_length"`
	LeafMinimum   int    `json:"leaf_minimum"`
	LevelsPerNode int    `json:"levels_per_node"`
	Metric        string `json:"metric"`
	ElementKind   string `json:"element_kind"`
}

// openIndex opens the store named by cfg and the tree on it, typed by the
// configured element kind.
func openIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (index, error) {
	kind, err := vector.ParseKind(cfg.Tree.ElementKind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case vector.Int32:
		return asIndex[int32](openTyped[int32](ctx, cfg, logger))
	case vector.Int64:
		return asIndex[int64](openTyped[int64](ctx, cfg, logger))
	case vector.Byte:
		return asIndex[uint8](openTyped[uint8](ctx, cfg, logger))
	case vector.Float32:
		return asIndex[float32](openTyped[float32](ctx, cfg, logger))
	default:
		return asIndex[float64](openTyped[float64](ctx, cfg, logger))
	}
}

func asIndex[T vector.Element](x *typedIndex[T], err error) (index, error) {
	if err != nil {
		return nil, err
	}
	return x, nil
}

type typedIndex[T vector.Element] struct {
	tree   *mvp.Tree[T]
	loader *ingest.Loader[T]
}

func openTyped[T vector.Element](ctx context.Context, cfg *config.Config, logger *zap.Logger) (*typedIndex[T], error) {
	m, err := metric.ByName[T](cfg.Tree.Metric)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	tree, err := mvp.New[T](ctx, store, m,
		mvp.WithBranchFactor(cfg.Tree.BranchFactor),
		mvp.WithPathLength(cfg.Tree.PathLength),
		mvp.WithLeafMinimum(cfg.Tree.LeafMinimum),
		mvp.WithLevelsPerNode(cfg.Tree.LevelsPerNode),
		mvp.WithRootRetry(cfg.Tree.RootRetryAttempts, cfg.Tree.RootRetryDelay),
		mvp.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	loader := ingest.NewLoader(tree,
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithLogger(logger))
	return &typedIndex[T]{tree: tree, loader: loader}, nil
}

func (x *typedIndex[T]) insert(ctx context.Context, ids, vectors []string) ([]string, error) {
	if len(ids) > len(vectors) {
		return nil, fmt.Errorf("%d ids given for %d vectors", len(ids), len(vectors))
	}
	points := make([]*mvp.Point[T], len(vectors))
	out := make([]string, len(vectors))
	for i, raw := range vectors {
		v, err := vector.ParseVector[T](raw)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i+1, err)
		}
		id := uuid.New().String()
		if i < len(ids) && ids[i] != "" {
			id = ids[i]
		}
		points[i] = mvp.NewPoint(id, v)
		out[i] = id
	}
	if err := x.tree.AddPoints(ctx, points); err != nil {
		return nil, err
	}
	return out, nil
}

func (x *typedIndex[T]) loadFile(ctx context.Context, path string, exts []string) (int, error) {
	return x.loader.LoadFile(ctx, path, exts)
}

func (x *typedIndex[T]) loadDirectory(ctx context.Context, dir string, exts []string) (int, int, error) {
	return x.loader.LoadDirectory(ctx, dir, exts)
}

func (x *typedIndex[T]) unloadFile(ctx context.Context, path string) (int, error) {
	return x.loader.UnloadFile(ctx, path)
}

// resolve returns the vector of an indexed point when ref names one, and
// parses ref as a vector otherwise.
func (x *typedIndex[T]) resolve(ctx context.Context, ref string) ([]T, error) {
	ref = strings.TrimSpace(ref)
	if !strings.ContainsAny(ref, "[], \t") {
		p, err := x.tree.Lookup(ctx, ref)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p.Vector, nil
		}
	}
	v, err := vector.ParseVector[T](ref)
	if err != nil {
		return nil, fmt.Errorf("%q is neither an indexed point id nor a vector: %w", ref, err)
	}
	return v, nil
}

func (x *typedIndex[T]) query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	var target []T
	if req.ID != "" {
		p, err := x.tree.Lookup(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("point %q not found", req.ID)
		}
		target = p.Vector
	} else {
		v, err := vector.ParseElements[T](req.Vector)
		if err != nil {
			return nil, fmt.Errorf("query vector: %w", err)
		}
		target = v
	}

	start := time.Now()
	q := mvp.QueryTarget[T]{Vector: target}
	res, err := x.tree.Query(ctx, q, req.Radius)
	if err != nil {
		return nil, err
	}
	hits := make([]*models.QueryHit, 0, len(res.Points))
	for _, p := range res.Points {
		d, err := x.tree.Distance(p, q)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &models.QueryHit{ID: p.ID, Distance: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	return &models.QueryResponse{
		Hits:        hits,
		Total:       len(hits),
		Radius:      req.Radius,
		DistanceOps: res.DistanceOps,
		Pruned:      res.Pruned,
		QueryTime:   time.Since(start).Milliseconds(),
	}, nil
}

func (x *typedIndex[T]) lookup(ctx context.Context, id string) (string, bool, error) {
	p, err := x.tree.Lookup(ctx, id)
	if err != nil || p == nil {
		return "", false, err
	}
	return vector.Format(p.Vector), true, nil
}

func (x *typedIndex[T]) remove(ctx context.Context, ids []string) (int, error) {
	removed := 0
	for _, id := range ids {
		p, err := x.tree.Lookup(ctx, id)
		if err != nil {
			return removed, err
		}
		if p == nil {
			continue
		}
		if err := x.tree.RemovePoint(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (x *typedIndex[T]) distance(ctx context.Context, a, b string) (float64, error) {
	va, err := x.resolve(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := x.resolve(ctx, b)
	if err != nil {
		return 0, err
	}
	return x.tree.Distance(mvp.QueryTarget[T]{Vector: va}, mvp.QueryTarget[T]{Vector: vb})
}

func (x *typedIndex[T]) count(ctx context.Context) (int64, error) { return x.tree.Count(ctx) }

func (x *typedIndex[T]) stats(ctx context.Context) (*mvp.Stats, error) { return x.tree.Stats(ctx) }

func (x *typedIndex[T]) print(ctx context.Context, w io.Writer) error { return x.tree.Print(ctx, w) }

func (x *typedIndex[T]) clear(ctx context.Context) error { return x.tree.Clear(ctx) }

func (x *typedIndex[T]) params() treeParams {
	return treeParams{
		BranchFactor:  x.tree.BranchFactor(),
		PathLength:    x.tree.PathLength(),
		LeafMinimum:   x.tree.LeafMinimum(),
		LevelsPerNode: x.tree.LevelsPerNode(),
		Metric:        x.tree.Metric().Name(),
		ElementKind:   x.tree.Kind().String(),
	}
}

func (x *typedIndex[T]) close() error { return x.tree.Close() }
