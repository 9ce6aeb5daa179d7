package mvp

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/metrics"
	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

// QueryResult holds the points found by a range query and the work done to
// find them.
type QueryResult[T vector.Element] struct {
	Points      []*Point[T]
	DistanceOps int64
	// Pruned counts leaf members excluded by their cached paths alone.
	Pruned int64
}

// Pruning bounds compare rounded distances, so they are loosened by a small
// relative tolerance. Exact distance checks are not.
func tolerance(b float64) float64 { return 1e-9 * (1 + math.Abs(b)) }

// within reports a <= b within tolerance.
func within(a, b float64) bool { return a <= b+tolerance(b) }

// exceeds reports a > b within tolerance.
func exceeds(a, b float64) bool { return a > b-tolerance(b) }

// Query returns every active point whose distance to target is at most
// radius, in discovery order. Inactive members met during the scan are
// removed from the tree.
func (t *Tree[T]) Query(ctx context.Context, target Vectored[T], radius float64) (*QueryResult[T], error) {
	if radius < 0 || math.IsNaN(radius) {
		return nil, &TreeError{Op: "query", Err: dataErrorf("invalid radius %v", radius)}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	res := &QueryResult[T]{}
	err := t.run(ctx, "query", func(s *session[T]) error {
		if err := s.query(target.Data(), radius, res); err != nil {
			return err
		}
		res.DistanceOps = s.distanceOps
		res.Pruned = s.pruned
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.QueryPruned.Add(float64(res.Pruned))
	t.logger.Debug("query finished",
		zap.Float64("radius", radius),
		zap.Int("results", len(res.Points)),
		zap.Int64("distance_ops", res.DistanceOps),
		zap.Int64("pruned", res.Pruned))
	return res, nil
}

func (s *session[T]) query(q []T, radius float64, res *QueryResult[T]) error {
	root, err := s.root()
	if err != nil || root == 0 {
		return err
	}
	current := []storage.NodeID{root}
	for len(current) > 0 {
		var next []storage.NodeID
		for _, id := range current {
			kind, err := s.nodeType(id)
			if err != nil {
				return err
			}
			if kind == nodeLeaf {
				if err := s.scanLeaf(id, q, radius, res); err != nil {
					return err
				}
				continue
			}
			kids, err := s.searchInternal(id, q, radius, res)
			if err != nil {
				return err
			}
			next = append(next, kids...)
		}
		current = next
	}
	return nil
}

// searchInternal tests the node's vantage points against the query and
// returns the children that may hold qualifying points.
func (s *session[T]) searchInternal(id storage.NodeID, q []T, radius float64, res *QueryResult[T]) ([]storage.NodeID, error) {
	bf := s.t.bf
	live := []int{0}
	for level := 0; level < s.t.nl; level++ {
		vp, err := s.vantagePoint(id, level)
		if err != nil {
			return nil, err
		}
		d, err := s.distance(vp.Vector, q)
		if err != nil {
			return nil, err
		}
		if vp.active && d <= radius {
			res.Points = append(res.Points, vp)
		}
		splits, err := s.splits(id, level)
		if err != nil {
			return nil, err
		}
		var admitted []int
		for _, g := range live {
			seg := splits[g*(bf-1) : (g+1)*(bf-1)]
			if seg[0] == splitUnset {
				continue
			}
			for j, split := range seg {
				if within(d, split+radius) {
					admitted = append(admitted, g*bf+j)
				}
			}
			if exceeds(d+radius, seg[len(seg)-1]) {
				admitted = append(admitted, g*bf+bf-1)
			}
		}
		live = admitted
	}

	kids, err := s.children(id)
	if err != nil {
		return nil, err
	}
	var out []storage.NodeID
	for _, ord := range live {
		if child, ok := kids[ord]; ok {
			out = append(out, child)
		}
	}
	return out, nil
}

// scanLeaf tests the leaf's vantage points exactly and its members through
// their cached paths first.
func (s *session[T]) scanLeaf(id storage.NodeID, q []T, radius float64, res *QueryResult[T]) error {
	vps, err := s.loadVantagePoints(id)
	if err != nil {
		return err
	}
	qd := make([]float64, len(vps))
	for i, vp := range vps {
		if qd[i], err = s.distance(vp.Vector, q); err != nil {
			return err
		}
		if vp.active && qd[i] <= radius {
			res.Points = append(res.Points, vp)
		}
	}

	members, err := s.members(id)
	if err != nil {
		return err
	}
	for _, p := range members {
		if !admits(p.path, qd, radius) {
			s.pruned++
			continue
		}
		if !p.active {
			if err := s.deletePoint(p); err != nil {
				return err
			}
			continue
		}
		d, err := s.distance(p.Vector, q)
		if err != nil {
			return err
		}
		if d <= radius {
			res.Points = append(res.Points, p)
		}
	}
	return nil
}

// admits reports whether |path[i]-qd[i]| <= radius for every vantage point.
func admits(path, qd []float64, radius float64) bool {
	n := min(len(path), len(qd))
	for i := 0; i < n; i++ {
		if !within(math.Abs(path[i]-qd[i]), radius) {
			return false
		}
	}
	return true
}
