// Package mvp implements a multi-vantage-point tree: a persistent metric
// space index answering range queries over fixed-dimension vectors.
//
// A tree is stored as a graph through storage.Store. Internal nodes hold
// levelsPerNode vantage points and up to branchFactor^levelsPerNode
// children; leaves hold up to pathLength vantage points and member points
// annotated with their distances to those vantage points.
package mvp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/metric"
	"github.com/hyperjump/mvptree/internal/metrics"
	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

// Tree is an MVP tree over vectors of T. Structural and traversal
// operations are serialized by a tree-wide lock.
type Tree[T vector.Element] struct {
	mu     sync.Mutex
	store  storage.Store
	metric metric.Metric[T]
	kind   vector.Kind
	logger *zap.Logger

	bf, pl, lm, nl    int
	fanout, leafLimit int
	retryAttempts     int
	retryDelay        time.Duration
}

// New opens a tree on store. When the store already holds a tree, its
// persisted parameters take precedence over the options; its element kind
// and metric must match.
func New[T vector.Element](ctx context.Context, store storage.Store, m metric.Metric[T], opts ...Option) (*Tree[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	t := &Tree[T]{
		store:         store,
		metric:        m,
		kind:          vector.KindOf[T](),
		logger:        o.logger,
		retryAttempts: o.retryAttempts,
		retryDelay:    o.retryDelay,
	}
	if store == nil {
		return nil, &TreeError{Op: "open", Err: configErrorf("no storage")}
	}
	if m == nil {
		return nil, &TreeError{Op: "open", Err: configErrorf("no metric")}
	}
	if err := t.setParams(o.branchFactor, o.pathLength, o.leafMinimum, o.levelsPerNode); err != nil {
		return nil, &TreeError{Op: "open", Err: err}
	}
	if err := t.run(ctx, "open", t.loadParams); err != nil {
		return nil, err
	}
	t.logger.Debug("tree opened",
		zap.Int("branch_factor", t.bf),
		zap.Int("path_length", t.pl),
		zap.Int("leaf_minimum", t.lm),
		zap.Int("levels_per_node", t.nl),
		zap.String("metric", m.Name()),
		zap.Stringer("kind", t.kind))
	return t, nil
}

func (t *Tree[T]) setParams(bf, pl, lm, nl int) error {
	switch {
	case bf < 2:
		return configErrorf("branch factor must be at least 2, got %d", bf)
	case pl <= 0:
		return configErrorf("path length must be positive, got %d", pl)
	case lm <= 0:
		return configErrorf("leaf minimum must be positive, got %d", lm)
	case nl <= 0:
		return configErrorf("levels per node must be positive, got %d", nl)
	}
	t.bf, t.pl, t.lm, t.nl = bf, pl, lm, nl
	t.fanout = pow(bf, nl)
	t.leafLimit = t.fanout * lm
	return nil
}

// loadParams adopts the parameters persisted on an existing root.
func (t *Tree[T]) loadParams(s *session[T]) error {
	root, err := s.root()
	if err != nil || root == 0 {
		return err
	}
	kind, ok, err := storage.String(s.tx, root, propElementKind)
	if err != nil {
		return err
	}
	if ok && kind != t.kind.String() {
		return configErrorf("tree holds %s elements, opened as %s", kind, t.kind)
	}
	name, ok, err := storage.String(s.tx, root, propMetric)
	if err != nil {
		return err
	}
	if ok && name != t.metric.Name() {
		return configErrorf("tree was built with metric %s, opened with %s", name, t.metric.Name())
	}

	params := []struct {
		prop string
		cur  int
	}{
		{propBranchFactor, t.bf},
		{propPathLength, t.pl},
		{propLeafCapacity, t.lm},
		{propLevelsPerNode, t.nl},
	}
	vals := make([]int, len(params))
	changed := false
	for i, p := range params {
		v, err := storage.IntOr(s.tx, root, p.prop, int64(p.cur))
		if err != nil {
			return err
		}
		vals[i] = int(v)
		changed = changed || vals[i] != p.cur
	}
	if changed {
		t.logger.Warn("using parameters persisted with the tree",
			zap.Ints("persisted", vals),
			zap.Ints("requested", []int{t.bf, t.pl, t.lm, t.nl}))
	}
	return t.setParams(vals[0], vals[1], vals[2], vals[3])
}

// saveParams persists the tree parameters on the root.
func (t *Tree[T]) saveParams(s *session[T], dim int) error {
	root, err := s.root()
	if err != nil || root == 0 {
		return err
	}
	for prop, v := range map[string]any{
		propBranchFactor:  int64(t.bf),
		propPathLength:    int64(t.pl),
		propLeafCapacity:  int64(t.lm),
		propLevelsPerNode: int64(t.nl),
		propDimension:     int64(dim),
		propElementKind:   t.kind.String(),
		propMetric:        t.metric.Name(),
	} {
		if err := s.tx.SetProperty(root, prop, v); err != nil {
			return err
		}
	}
	return nil
}

// dimension returns the vector length pinned by the tree, zero when empty.
func (t *Tree[T]) dimension(s *session[T]) (int, error) {
	root, err := s.root()
	if err != nil || root == 0 {
		return 0, err
	}
	d, err := storage.IntOr(s.tx, root, propDimension, 0)
	return int(d), err
}

// run executes fn in one storage transaction. Any failure rolls the
// transaction back and is returned as a *TreeError.
func (t *Tree[T]) run(ctx context.Context, op string, fn func(s *session[T]) error) (err error) {
	start := time.Now()
	var s *session[T]
	defer func() {
		metrics.ObserveOperation(op, start, err)
		if s != nil {
			metrics.AddDistanceOps(op, s.distanceOps)
		}
	}()

	tx, err := t.store.Begin(ctx)
	if err != nil {
		return t.fail(op, err)
	}
	s = &session[T]{t: t, ctx: ctx, tx: tx}
	if err := fn(s); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = multierr.Append(err, rbErr)
		}
		return t.fail(op, err)
	}
	if err := tx.Commit(); err != nil {
		return t.fail(op, err)
	}
	return nil
}

func (t *Tree[T]) fail(op string, err error) error {
	err = classify(err)
	t.logger.Debug("tree operation failed", zap.String("op", op), zap.Error(err))
	return &TreeError{Op: op, Err: err}
}

// Close closes the underlying store.
func (t *Tree[T]) Close() error {
	return t.store.Close()
}

// BranchFactor returns the number of partitions per vantage point.
func (t *Tree[T]) BranchFactor() int { return t.bf }

// PathLength returns the number of vantage points a leaf holds.
func (t *Tree[T]) PathLength() int { return t.pl }

// LeafMinimum returns the per-child capacity.
func (t *Tree[T]) LeafMinimum() int { return t.lm }

// LevelsPerNode returns the number of vantage points per internal node.
func (t *Tree[T]) LevelsPerNode() int { return t.nl }

// Fanout returns the maximum number of children of an internal node.
func (t *Tree[T]) Fanout() int { return t.fanout }

// LeafLimit returns the member count at which a leaf is split.
func (t *Tree[T]) LeafLimit() int { return t.leafLimit }

// Metric returns the tree's metric.
func (t *Tree[T]) Metric() metric.Metric[T] { return t.metric }

// Kind returns the element kind of the tree.
func (t *Tree[T]) Kind() vector.Kind { return t.kind }

// CreatePoint creates a detached, inactive point with its own storage node.
func (t *Tree[T]) CreatePoint(ctx context.Context) (*Point[T], error) {
	pts, err := t.CreatePoints(ctx, 1)
	if err != nil {
		return nil, err
	}
	return pts[0], nil
}

// CreatePoints creates n detached, inactive points.
func (t *Tree[T]) CreatePoints(ctx context.Context, n int) ([]*Point[T], error) {
	if n < 0 {
		return nil, &TreeError{Op: "create", Err: dataErrorf("negative point count %d", n)}
	}
	pts := make([]*Point[T], 0, n)
	err := t.run(ctx, "create", func(s *session[T]) error {
		for i := 0; i < n; i++ {
			id, err := s.newPointNode()
			if err != nil {
				return err
			}
			pts = append(pts, &Point[T]{node: id})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pts, nil
}

// DeletePoint removes a point that was never inserted. Deleting an active
// point is a data error; use RemovePoint instead.
func (t *Tree[T]) DeletePoint(ctx context.Context, p *Point[T]) error {
	if p == nil || p.node == 0 {
		return nil
	}
	err := t.run(ctx, "delete", func(s *session[T]) error {
		ok, err := s.tx.NodeExists(p.node)
		if err != nil || !ok {
			return err
		}
		active, err := storage.BoolOr(s.tx, p.node, propActive, false)
		if err != nil {
			return err
		}
		if active {
			return dataErrorf("point %q is indexed; remove it instead", p.ID)
		}
		return s.tx.DeleteNode(p.node)
	})
	if err != nil {
		return err
	}
	p.node = 0
	return nil
}

// Distance returns the metric distance between a and b.
func (t *Tree[T]) Distance(a, b Vectored[T]) (float64, error) {
	s := &session[T]{t: t}
	d, err := s.distance(a.Data(), b.Data())
	if err != nil {
		return 0, t.fail("distance", err)
	}
	return d, nil
}

// RemovePoint marks the point with the given id inactive and drops it from
// the id index. It stays linked in the tree until a query scan reclaims it.
// Removing an unknown id is a no-op.
func (t *Tree[T]) RemovePoint(ctx context.Context, id string) error {
	return t.run(ctx, "remove", func(s *session[T]) error {
		node, ok, err := s.tx.IndexGet(id)
		if err != nil || !ok {
			return err
		}
		if err := s.tx.SetProperty(node, propActive, false); err != nil {
			return err
		}
		return s.tx.IndexRemove(id)
	})
}

// Lookup returns the active point with the given id, or nil.
func (t *Tree[T]) Lookup(ctx context.Context, id string) (*Point[T], error) {
	var p *Point[T]
	err := t.run(ctx, "lookup", func(s *session[T]) error {
		node, ok, err := s.tx.IndexGet(id)
		if err != nil || !ok {
			return err
		}
		p, err = s.loadPoint(node)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Count returns the number of active points.
func (t *Tree[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	err := t.run(ctx, "count", func(s *session[T]) error {
		var err error
		n, err = s.tx.IndexCount()
		return err
	})
	return n, err
}
