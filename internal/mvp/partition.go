package mvp

import (
	"math"
	"sort"

	"github.com/hyperjump/mvptree/internal/storage"
)

// computeSplits fills out with the bf-1 boundaries dividing sorted into bf
// groups of roughly equal size. Boundary i is the mean of the samples at the
// floor and ceiling of position i*N/bf.
func computeSplits(sorted []float64, bf int, out []float64) {
	n := len(sorted)
	if n == 0 {
		return
	}
	for i := 1; i < bf; i++ {
		pos := float64(i*n) / float64(bf)
		lo := min(int(math.Floor(pos)), n-1)
		hi := min(int(math.Ceil(pos)), n-1)
		out[i-1] = (sorted[lo] + sorted[hi]) / 2
	}
}

// bucketOf returns the first boundary index j with d <= seg[j], or len(seg)
// when d exceeds every boundary.
func bucketOf(d float64, seg []float64) int {
	for j, split := range seg {
		if d <= split {
			return j
		}
	}
	return len(seg)
}

// collate distributes pts through the levels of an internal node and returns
// them grouped by child ordinal. Missing split boundaries are computed from
// the first points that reach them and then kept.
func (s *session[T]) collate(id storage.NodeID, pts []*Point[T]) (map[int][]*Point[T], error) {
	bf := s.t.bf
	groups := map[int][]*Point[T]{0: pts}
	for level := 0; level < s.t.nl; level++ {
		vp, err := s.vantagePoint(id, level)
		if err != nil {
			return nil, err
		}
		splits, err := s.splits(id, level)
		if err != nil {
			return nil, err
		}
		next := make(map[int][]*Point[T])
		for _, g := range sortedKeys(groups) {
			members := groups[g]
			if len(members) == 0 {
				continue
			}
			dists := make([]float64, len(members))
			for i, p := range members {
				if dists[i], err = s.distance(p.Vector, vp.Vector); err != nil {
					return nil, err
				}
			}
			seg := splits[g*(bf-1) : (g+1)*(bf-1)]
			if seg[0] == splitUnset {
				sorted := append([]float64(nil), dists...)
				sort.Float64s(sorted)
				computeSplits(sorted, bf, seg)
			}
			for i, p := range members {
				j := g*bf + bucketOf(dists[i], seg)
				next[j] = append(next[j], p)
			}
		}
		if err := s.setSplits(id, level, splits); err != nil {
			return nil, err
		}
		groups = next
	}

	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total != len(pts) {
		return nil, consistencyErrorf("node %d: collated %d of %d points", id, total, len(pts))
	}
	return groups, nil
}
