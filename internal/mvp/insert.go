package mvp

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

type pending[T vector.Element] struct {
	node   storage.NodeID
	points []*Point[T]
}

type pointState struct {
	node   storage.NodeID
	active bool
	path   []float64
}

// AddPoints inserts points into the tree. Every point needs a unique,
// non-empty id not already indexed and a vector of the tree's dimension.
// Points without a storage node get one. The insert is all-or-nothing.
func (t *Tree[T]) AddPoints(ctx context.Context, points []*Point[T]) error {
	if len(points) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	saved := make([]pointState, len(points))
	for i, p := range points {
		if p == nil {
			return &TreeError{Op: "add", Err: dataErrorf("point %d is nil", i)}
		}
		saved[i] = pointState{node: p.node, active: p.active, path: p.path}
	}

	var ops int64
	err := t.run(ctx, "add", func(s *session[T]) error {
		if err := s.register(points); err != nil {
			return err
		}
		if err := s.insert(points); err != nil {
			return err
		}
		ops = s.distanceOps
		return t.saveParams(s, len(points[0].Vector))
	})
	if err != nil {
		for i, p := range points {
			p.node, p.active, p.path = saved[i].node, saved[i].active, saved[i].path
		}
		return err
	}
	t.logger.Debug("points added", zap.Int("count", len(points)), zap.Int64("distance_ops", ops))
	return nil
}

// register validates the batch and records each point as active in the id
// index.
func (s *session[T]) register(points []*Point[T]) error {
	dim, err := s.t.dimension(s)
	if err != nil {
		return err
	}
	if dim == 0 {
		dim = len(points[0].Vector)
	}
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		switch {
		case p.ID == "":
			return dataErrorf("point without id")
		case len(p.Vector) == 0:
			return dataErrorf("point %q has an empty vector", p.ID)
		case len(p.Vector) != dim:
			return dataErrorf("point %q has dimension %d, want %d", p.ID, len(p.Vector), dim)
		case p.active:
			return dataErrorf("point %q is already indexed", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return dataErrorf("duplicate point id %q in batch", p.ID)
		}
		seen[p.ID] = struct{}{}
		if _, ok, err := s.tx.IndexGet(p.ID); err != nil {
			return err
		} else if ok {
			return dataErrorf("point %q is already indexed", p.ID)
		}

		if p.node == 0 {
			if p.node, err = s.newPointNode(); err != nil {
				return err
			}
		} else if ok, err := s.tx.NodeExists(p.node); err != nil {
			return err
		} else if !ok {
			return dataErrorf("point %q refers to a deleted node", p.ID)
		}
		if err := s.tx.SetProperty(p.node, propID, p.ID); err != nil {
			return err
		}
		if err := s.tx.SetProperty(p.node, propData, vector.Canonical(p.Vector)); err != nil {
			return err
		}
		if err := s.tx.SetProperty(p.node, propActive, true); err != nil {
			return err
		}
		if err := s.tx.IndexAdd(p.ID, p.node); err != nil {
			return err
		}
		p.active = true
	}
	return nil
}

// insert walks the tree breadth first, nl levels per stride, pushing the
// points down to the nodes that take them. Nodes produced in a stride are
// linked to their parents before the next stride starts.
func (s *session[T]) insert(points []*Point[T]) error {
	root, err := s.root()
	if err != nil {
		return err
	}
	fanout := s.t.fanout
	current := map[int]*pending[T]{0: {node: root, points: points}}
	var parents map[int]storage.NodeID
	for stride := 0; len(current) > 0; stride++ {
		produced := make(map[int]storage.NodeID, len(current))
		next := make(map[int]*pending[T])
		for _, idx := range sortedKeys(current) {
			p := current[idx]
			id, buckets, err := s.place(p.node, p.points)
			if err != nil {
				return err
			}
			if id == 0 {
				continue
			}
			produced[idx] = id
			if len(buckets) == 0 {
				continue
			}
			kids, err := s.children(id)
			if err != nil {
				return err
			}
			for _, ord := range sortedKeys(buckets) {
				next[idx*fanout+ord] = &pending[T]{node: kids[ord], points: buckets[ord]}
			}
		}
		if err := s.link(stride, parents, produced); err != nil {
			return err
		}
		parents = produced
		current = next
	}
	return nil
}

func (s *session[T]) link(stride int, parents, produced map[int]storage.NodeID) error {
	if stride == 0 {
		id, ok := produced[0]
		if !ok || id == s.rootID {
			return nil
		}
		return s.markRoot(id)
	}
	fanout := s.t.fanout
	for _, idx := range sortedKeys(produced) {
		parent, ok := parents[idx/fanout]
		if !ok {
			return consistencyErrorf("node at index %d has no parent", idx)
		}
		if err := s.setChild(parent, idx%fanout, produced[idx]); err != nil {
			return err
		}
	}
	return nil
}

// place hands pts to the node at one tree position, creating or replacing
// the node as needed. It returns the node now at that position and, for
// internal nodes, the points to pass down keyed by child ordinal.
func (s *session[T]) place(id storage.NodeID, pts []*Point[T]) (storage.NodeID, map[int][]*Point[T], error) {
	t := s.t
	if id == 0 {
		switch {
		case len(pts) >= t.leafLimit:
			return s.newInternal(pts)
		case len(pts) == 0:
			return 0, nil, nil
		}
		leaf, err := s.createNode(nodeLeaf)
		if err != nil {
			return 0, nil, err
		}
		rest, err := s.selectVantagePoints(leaf, pts, t.pl)
		if err != nil {
			return 0, nil, err
		}
		return leaf, nil, s.attachMembers(leaf, rest)
	}

	kind, err := s.nodeType(id)
	if err != nil {
		return 0, nil, err
	}
	if kind == nodeInternal {
		buckets, err := s.collate(id, pts)
		return id, buckets, err
	}

	count, err := s.memberCount(id)
	if err != nil {
		return 0, nil, err
	}
	if count+len(pts) >= t.leafLimit {
		return s.promote(id, pts)
	}
	vps, err := s.vantagePoints(id)
	if err != nil {
		return 0, nil, err
	}
	rest := pts
	if len(vps) < t.pl {
		if rest, err = s.selectVantagePoints(id, pts, t.pl-len(vps)); err != nil {
			return 0, nil, err
		}
	}
	return id, nil, s.attachMembers(id, rest)
}

func (s *session[T]) newInternal(pts []*Point[T]) (storage.NodeID, map[int][]*Point[T], error) {
	id, err := s.createNode(nodeInternal)
	if err != nil {
		return 0, nil, err
	}
	rest, err := s.selectVantagePoints(id, pts, s.t.nl)
	if err != nil {
		return 0, nil, err
	}
	buckets, err := s.collate(id, rest)
	return id, buckets, err
}

// promote replaces an overflowing leaf with an internal node holding the
// incoming points, the leaf's active members and its active vantage points.
// Inactive ones are deleted.
func (s *session[T]) promote(leaf storage.NodeID, incoming []*Point[T]) (storage.NodeID, map[int][]*Point[T], error) {
	members, err := s.members(leaf)
	if err != nil {
		return 0, nil, err
	}
	vps, err := s.loadVantagePoints(leaf)
	if err != nil {
		return 0, nil, err
	}
	all := make([]*Point[T], 0, len(incoming)+len(members)+len(vps))
	all = append(all, incoming...)
	for _, p := range append(members, vps...) {
		if !p.active {
			if err := s.deletePoint(p); err != nil {
				return 0, nil, err
			}
			continue
		}
		all = append(all, p)
	}
	if err := s.tx.DeleteNode(leaf); err != nil {
		return 0, nil, err
	}
	s.t.logger.Debug("leaf promoted",
		zap.Int64("leaf", int64(leaf)), zap.Int("points", len(all)))
	if len(all) < s.t.leafLimit {
		// Reclaimed points brought the leaf back under its limit.
		return s.place(0, all)
	}
	return s.newInternal(all)
}
