package mvp

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

// Persisted names.
const (
	propNodeType      = "NODETYPE"
	propSplitsPrefix  = "SPLITS"
	propTop           = "TOPN"
	propID            = "ID"
	propData          = "DATA"
	propActive        = "ACTIVE"
	propPath          = "PATH"
	propBranchFactor  = "BRANCHFACTOR"
	propPathLength    = "PATHLENGTH"
	propLeafCapacity  = "LEAFCAPACITY"
	propLevelsPerNode = "NLEVELSPERNODE"
	propElementKind   = "ELEMENTKIND"
	propMetric        = "METRIC"
	propDimension     = "DIMENSION"

	labelTop      = "TOP"
	labelInternal = "INTERNAL"
	labelLeaf     = "LEAF"
	labelPoint    = "DATAPOINT"

	edgeVantage = "TO_VP"
	edgeChild   = "TO_CHILD"
	edgeMember  = "TO_DP"
)

const (
	nodeInternal int64 = 0
	nodeLeaf     int64 = 1
)

// splitUnset marks a split boundary that has not been computed.
const splitUnset = -1.0

// session carries the state of one tree operation: its transaction and the
// number of distance computations it made.
type session[T vector.Element] struct {
	t           *Tree[T]
	ctx         context.Context
	tx          storage.Tx
	rootID      storage.NodeID
	rootLoaded  bool
	distanceOps int64
	pruned      int64
}

func (s *session[T]) distance(a, b []T) (float64, error) {
	d, err := s.t.metric.Distance(a, b)
	if err != nil {
		return 0, classify(err)
	}
	s.distanceOps++
	if d < 0 || math.IsNaN(d) {
		return 0, dataErrorf("metric %s returned invalid distance %v", s.t.metric.Name(), d)
	}
	return d, nil
}

// root resolves the tree's root node, zero when the tree is empty. More than
// one root is retried with a delay before failing.
func (s *session[T]) root() (storage.NodeID, error) {
	if s.rootLoaded {
		return s.rootID, nil
	}
	attempts := s.t.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		ids, err := s.tx.NodesWithLabel(labelTop)
		if err != nil {
			return 0, err
		}
		switch len(ids) {
		case 0:
			s.rootID, s.rootLoaded = 0, true
			return 0, nil
		case 1:
			s.rootID, s.rootLoaded = ids[0], true
			return ids[0], nil
		}
		s.t.logger.Warn("multiple root nodes found, retrying",
			zap.Int("matches", len(ids)), zap.Int("attempt", i+1))
		if i+1 < attempts {
			select {
			case <-s.ctx.Done():
				return 0, s.ctx.Err()
			case <-time.After(s.t.retryDelay):
			}
		}
	}
	return 0, consistencyErrorf("root lookup still ambiguous after %d attempts", attempts)
}

func (s *session[T]) markRoot(id storage.NodeID) error {
	if err := s.tx.AddLabel(id, labelTop); err != nil {
		return err
	}
	if err := s.tx.SetProperty(id, propTop, 0); err != nil {
		return err
	}
	s.rootID, s.rootLoaded = id, true
	return nil
}

// newPointNode creates the storage node backing a point.
func (s *session[T]) newPointNode() (storage.NodeID, error) {
	id, err := s.tx.CreateNode()
	if err != nil {
		return 0, err
	}
	if err := s.tx.AddLabel(id, labelPoint); err != nil {
		return 0, err
	}
	if err := s.tx.SetProperty(id, propActive, false); err != nil {
		return 0, err
	}
	return id, nil
}

// loadPoint reads a point from its node.
func (s *session[T]) loadPoint(id storage.NodeID) (*Point[T], error) {
	p := &Point[T]{node: id}
	name, ok, err := storage.String(s.tx, id, propID)
	if err != nil {
		return nil, err
	}
	if ok {
		p.ID = name
	}
	raw, ok, err := s.tx.Property(id, propData)
	if err != nil {
		return nil, err
	}
	if ok {
		v, err := vector.FromCanonical[T](raw)
		if err != nil {
			return nil, consistencyErrorf("point node %d: %v", id, err)
		}
		p.Vector = v
	}
	if p.active, err = storage.BoolOr(s.tx, id, propActive, false); err != nil {
		return nil, err
	}
	path, ok, err := storage.Float64s(s.tx, id, propPath)
	if err != nil {
		return nil, err
	}
	if ok {
		p.path = path
	}
	return p, nil
}

func (s *session[T]) deletePoint(p *Point[T]) error {
	s.t.logger.Debug("reclaiming inactive point", zap.String("id", p.ID), zap.Int64("node", int64(p.node)))
	return s.tx.DeleteNode(p.node)
}

func splitsProp(level int) string {
	return propSplitsPrefix + strconv.Itoa(level)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
