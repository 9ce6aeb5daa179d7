package mvp

import (
	"sort"

	"github.com/hyperjump/mvptree/internal/storage"
)

func (s *session[T]) createNode(kind int64) (storage.NodeID, error) {
	id, err := s.tx.CreateNode()
	if err != nil {
		return 0, err
	}
	label := labelInternal
	if kind == nodeLeaf {
		label = labelLeaf
	}
	if err := s.tx.AddLabel(id, label); err != nil {
		return 0, err
	}
	if err := s.tx.SetProperty(id, propNodeType, kind); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *session[T]) nodeType(id storage.NodeID) (int64, error) {
	kind, err := storage.IntOr(s.tx, id, propNodeType, -1)
	if err != nil {
		return 0, err
	}
	if kind != nodeInternal && kind != nodeLeaf {
		return 0, consistencyErrorf("node %d has unknown type %d", id, kind)
	}
	return kind, nil
}

func (s *session[T]) ordered(id storage.NodeID, label string) ([]storage.Edge, error) {
	edges, err := s.tx.Edges(id, label, storage.Outgoing)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Ordinal < edges[j].Ordinal })
	return edges, nil
}

// vantagePoints lists the node's vantage point nodes in ordinal order.
func (s *session[T]) vantagePoints(id storage.NodeID) ([]storage.NodeID, error) {
	edges, err := s.ordered(id, edgeVantage)
	if err != nil {
		return nil, err
	}
	out := make([]storage.NodeID, len(edges))
	for i, e := range edges {
		out[i] = e.To
	}
	return out, nil
}

func (s *session[T]) vantagePoint(id storage.NodeID, ordinal int) (*Point[T], error) {
	edges, err := s.tx.Edges(id, edgeVantage, storage.Outgoing)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if e.Ordinal == ordinal {
			return s.loadPoint(e.To)
		}
	}
	return nil, consistencyErrorf("node %d has no vantage point %d", id, ordinal)
}

func (s *session[T]) loadVantagePoints(id storage.NodeID) ([]*Point[T], error) {
	ids, err := s.vantagePoints(id)
	if err != nil {
		return nil, err
	}
	out := make([]*Point[T], len(ids))
	for i, vp := range ids {
		if out[i], err = s.loadPoint(vp); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// selectVantagePoints makes up to count points from the front of pts
// vantage points of the node and returns the rest.
func (s *session[T]) selectVantagePoints(id storage.NodeID, pts []*Point[T], count int) ([]*Point[T], error) {
	existing, err := s.vantagePoints(id)
	if err != nil {
		return nil, err
	}
	n := min(count, len(pts))
	for i, p := range pts[:n] {
		if _, err := s.tx.CreateEdge(id, p.node, edgeVantage, len(existing)+i); err != nil {
			return nil, err
		}
		if err := s.tx.RemoveProperty(p.node, propPath); err != nil {
			return nil, err
		}
		p.path = nil
	}
	return pts[n:], nil
}

// splits returns the split boundaries of a level, (bf-1)*bf^level values,
// unset entries holding splitUnset.
func (s *session[T]) splits(id storage.NodeID, level int) ([]float64, error) {
	want := (s.t.bf - 1) * pow(s.t.bf, level)
	arr, ok, err := storage.Float64s(s.tx, id, splitsProp(level))
	if err != nil {
		return nil, err
	}
	if !ok {
		arr = make([]float64, want)
		for i := range arr {
			arr[i] = splitUnset
		}
		return arr, nil
	}
	if len(arr) != want {
		return nil, consistencyErrorf("node %d level %d: %d split values, want %d", id, level, len(arr), want)
	}
	return arr, nil
}

func (s *session[T]) setSplits(id storage.NodeID, level int, arr []float64) error {
	return s.tx.SetProperty(id, splitsProp(level), arr)
}

// children maps child ordinals to child nodes.
func (s *session[T]) children(id storage.NodeID) (map[int]storage.NodeID, error) {
	edges, err := s.tx.Edges(id, edgeChild, storage.Outgoing)
	if err != nil {
		return nil, err
	}
	out := make(map[int]storage.NodeID, len(edges))
	for _, e := range edges {
		out[e.Ordinal] = e.To
	}
	return out, nil
}

// setChild links child under parent at ordinal, replacing any other node
// linked there.
func (s *session[T]) setChild(parent storage.NodeID, ordinal int, child storage.NodeID) error {
	edges, err := s.tx.Edges(parent, edgeChild, storage.Outgoing)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.Ordinal != ordinal {
			continue
		}
		if e.To == child {
			return nil
		}
		if err := s.tx.DeleteEdge(e.ID); err != nil {
			return err
		}
	}
	_, err = s.tx.CreateEdge(parent, child, edgeChild, ordinal)
	return err
}

// attachMembers records each point's distances to the leaf's vantage points
// and links it as a member.
func (s *session[T]) attachMembers(leaf storage.NodeID, pts []*Point[T]) error {
	if len(pts) == 0 {
		return nil
	}
	vps, err := s.loadVantagePoints(leaf)
	if err != nil {
		return err
	}
	for _, p := range pts {
		path := make([]float64, len(vps))
		for i, vp := range vps {
			if path[i], err = s.distance(p.Vector, vp.Vector); err != nil {
				return err
			}
		}
		if err := s.tx.SetProperty(p.node, propPath, path); err != nil {
			return err
		}
		if _, err := s.tx.CreateEdge(leaf, p.node, edgeMember, 0); err != nil {
			return err
		}
		p.path = path
	}
	return nil
}

func (s *session[T]) memberCount(leaf storage.NodeID) (int, error) {
	edges, err := s.tx.Edges(leaf, edgeMember, storage.Outgoing)
	return len(edges), err
}

func (s *session[T]) members(leaf storage.NodeID) ([]*Point[T], error) {
	edges, err := s.tx.Edges(leaf, edgeMember, storage.Outgoing)
	if err != nil {
		return nil, err
	}
	out := make([]*Point[T], len(edges))
	for i, e := range edges {
		if out[i], err = s.loadPoint(e.To); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func pow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}
