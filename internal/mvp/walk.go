package mvp

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/metrics"
	"github.com/hyperjump/mvptree/internal/storage"
)

type visit struct {
	id    storage.NodeID
	index int
	kind  int64
}

// walk calls fn once per stride with the nodes of that stride ordered by
// position. Children are collected before fn runs, so fn may delete nodes.
func (s *session[T]) walk(fn func(level int, nodes []visit) error) error {
	root, err := s.root()
	if err != nil || root == 0 {
		return err
	}
	fanout := s.t.fanout
	current := []visit{{id: root}}
	for level := 0; len(current) > 0; level += s.t.nl {
		var next []visit
		for i := range current {
			v := &current[i]
			if v.kind, err = s.nodeType(v.id); err != nil {
				return err
			}
			if v.kind != nodeInternal {
				continue
			}
			kids, err := s.children(v.id)
			if err != nil {
				return err
			}
			for ord, child := range kids {
				next = append(next, visit{id: child, index: v.index*fanout + ord})
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].index < next[j].index })
		if err := fn(level, current); err != nil {
			return err
		}
		current = next
	}
	return nil
}

// Stats summarizes the shape of a tree.
type Stats struct {
	TotalPoints   int64   `json:"n_total_points"`
	VantagePoints int     `json:"n_vps"`
	LeafPoints    int     `json:"n_points"`
	InternalNodes int     `json:"n_internal"`
	LeafNodes     int     `json:"n_leaf"`
	FringeNodes   int     `json:"n_fringe_nodes"`
	Depth         int     `json:"depth"`
	MinLeafSize   int     `json:"min_leaf_size"`
	MaxLeafSize   int     `json:"max_leaf_size"`
	AvgLeafSize   float64 `json:"avg_leaf_size"`
}

// Stats walks the whole tree and reports its shape. Depth counts strides of
// levelsPerNode levels; fringe nodes are those of the deepest stride.
func (t *Tree[T]) Stats(ctx context.Context) (*Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := &Stats{}
	err := t.run(ctx, "stats", func(s *session[T]) error {
		var err error
		if st.TotalPoints, err = s.tx.IndexCount(); err != nil {
			return err
		}
		return s.walk(func(_ int, nodes []visit) error {
			st.Depth++
			st.FringeNodes = len(nodes)
			for _, v := range nodes {
				vps, err := s.vantagePoints(v.id)
				if err != nil {
					return err
				}
				st.VantagePoints += len(vps)
				if v.kind == nodeInternal {
					st.InternalNodes++
					continue
				}
				n, err := s.memberCount(v.id)
				if err != nil {
					return err
				}
				if st.LeafNodes == 0 || n < st.MinLeafSize {
					st.MinLeafSize = n
				}
				st.MaxLeafSize = max(st.MaxLeafSize, n)
				st.LeafPoints += n
				st.LeafNodes++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if st.LeafNodes > 0 {
		st.AvgLeafSize = float64(st.LeafPoints) / float64(st.LeafNodes)
	}
	metrics.IndexedPoints.Set(float64(st.TotalPoints))
	return st, nil
}

// Print writes a human readable dump of the tree to w.
func (t *Tree[T]) Print(ctx context.Context, w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	err := t.run(ctx, "print", func(s *session[T]) error {
		root, err := s.root()
		if err != nil {
			return err
		}
		total, err := s.tx.IndexCount()
		if err != nil {
			return err
		}
		if root == 0 {
			b.WriteString("Tree is empty.\n")
		}
		fmt.Fprintf(&b, "Tree structure:\n")
		fmt.Fprintf(&b, "branch factor: %d\n", t.bf)
		fmt.Fprintf(&b, "path length: %d\n", t.pl)
		fmt.Fprintf(&b, "leaf minimum: %d\n", t.lm)
		fmt.Fprintf(&b, "levels per internal node: %d\n", t.nl)
		fmt.Fprintf(&b, "metric: %s\n", t.metric.Name())
		fmt.Fprintf(&b, "element kind: %s\n", t.kind)
		fmt.Fprintf(&b, "total data points: %d\n", total)
		return s.walk(func(level int, nodes []visit) error {
			fmt.Fprintf(&b, "level = %d\n", level)
			for _, v := range nodes {
				if err := s.printNode(&b, v); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, b.String())
	return err
}

func (s *session[T]) printNode(b *strings.Builder, v visit) error {
	vps, err := s.loadVantagePoints(v.id)
	if err != nil {
		return err
	}
	if v.kind == nodeInternal {
		fmt.Fprintf(b, "  internal(nodeindex %d)\n", v.index)
		for i, vp := range vps {
			splits, err := s.splits(v.id, i)
			if err != nil {
				return err
			}
			fmt.Fprintf(b, "    (%d) %s splits =", i, vp.ID)
			for _, x := range splits {
				fmt.Fprintf(b, " %.2f", x)
			}
			b.WriteByte('\n')
		}
		return nil
	}
	members, err := s.members(v.id)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "  leaf(nodeindex %d) (%d vps) (%d points)\n", v.index, len(vps), len(members))
	for _, vp := range vps {
		fmt.Fprintf(b, "    vp: %s%s\n", vp.ID, inactiveMark(vp.active))
	}
	for _, p := range members {
		fmt.Fprintf(b, "    %s%s path", p.ID, inactiveMark(p.active))
		for _, x := range p.path {
			fmt.Fprintf(b, " %.2f", x)
		}
		b.WriteByte('\n')
	}
	return nil
}

func inactiveMark(active bool) string {
	if active {
		return ""
	}
	return " (removed)"
}

// Clear deletes every node, vantage point and member of the tree and empties
// the id index. Points created but never inserted are kept.
func (t *Tree[T]) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	deleted := 0
	err := t.run(ctx, "clear", func(s *session[T]) error {
		err := s.walk(func(_ int, nodes []visit) error {
			for _, v := range nodes {
				points, err := s.vantagePoints(v.id)
				if err != nil {
					return err
				}
				if v.kind == nodeLeaf {
					edges, err := s.tx.Edges(v.id, edgeMember, storage.Outgoing)
					if err != nil {
						return err
					}
					for _, e := range edges {
						points = append(points, e.To)
					}
				}
				for _, p := range points {
					if err := s.tx.DeleteNode(p); err != nil {
						return err
					}
				}
				if err := s.tx.DeleteNode(v.id); err != nil {
					return err
				}
				deleted++
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.rootID, s.rootLoaded = 0, true
		return s.tx.IndexClear()
	})
	if err != nil {
		return err
	}
	t.logger.Info("tree cleared", zap.Int("nodes", deleted))
	return nil
}
