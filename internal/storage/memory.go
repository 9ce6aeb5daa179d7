package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/btree"
)

type indexEntry struct {
	key string
	id  NodeID
}

func indexEntryLess(a, b indexEntry) bool {
	return a.key < b.key
}

type memNode struct {
	props  map[string][]byte
	labels map[string]struct{}
	edges  map[EdgeID]struct{}
}

// MemoryStore is a volatile Store. Only one transaction runs at a time; a
// transaction holds the store lock from Begin until Commit or Rollback.
type MemoryStore struct {
	mu       sync.Mutex
	closed   bool
	nodes    map[NodeID]*memNode
	edges    map[EdgeID]*Edge
	labels   map[string]map[NodeID]struct{}
	index    *btree.BTreeG[indexEntry]
	nextNode NodeID
	nextEdge EdgeID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[NodeID]*memNode),
		edges:  make(map[EdgeID]*Edge),
		labels: make(map[string]map[NodeID]struct{}),
		index:  btree.NewBTreeG[indexEntry](indexEntryLess),
	}
}

// Begin starts a transaction, waiting for any running one to finish.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	return &memTx{s: s}, nil
}

// Close releases the store's contents.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.nodes = nil
	s.edges = nil
	s.labels = nil
	return nil
}

type memTx struct {
	s    *MemoryStore
	undo []func()
	done bool
}

func (tx *memTx) record(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *memTx) node(id NodeID) (*memNode, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	n, ok := tx.s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, nil
}

func (tx *memTx) CreateNode() (NodeID, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	s := tx.s
	s.nextNode++
	id := s.nextNode
	s.nodes[id] = &memNode{
		props:  make(map[string][]byte),
		labels: make(map[string]struct{}),
		edges:  make(map[EdgeID]struct{}),
	}
	tx.record(func() {
		delete(s.nodes, id)
		s.nextNode--
	})
	return id, nil
}

func (tx *memTx) DeleteNode(id NodeID) error {
	n, err := tx.node(id)
	if err != nil {
		return err
	}
	for _, eid := range sortedEdgeIDs(n.edges) {
		if err := tx.DeleteEdge(eid); err != nil {
			return err
		}
	}
	for label := range n.labels {
		if err := tx.RemoveLabel(id, label); err != nil {
			return err
		}
	}
	s := tx.s
	delete(s.nodes, id)
	tx.record(func() { s.nodes[id] = n })
	return nil
}

func (tx *memTx) NodeExists(id NodeID) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	_, ok := tx.s.nodes[id]
	return ok, nil
}

func (tx *memTx) Property(id NodeID, name string) (any, bool, error) {
	n, err := tx.node(id)
	if err != nil {
		return nil, false, err
	}
	raw, ok := n.props[name]
	if !ok {
		return nil, false, nil
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (tx *memTx) SetProperty(id NodeID, name string, value any) error {
	n, err := tx.node(id)
	if err != nil {
		return err
	}
	raw, err := EncodeValue(value)
	if err != nil {
		return err
	}
	prev, had := n.props[name]
	n.props[name] = raw
	tx.record(func() {
		if had {
			n.props[name] = prev
		} else {
			delete(n.props, name)
		}
	})
	return nil
}

func (tx *memTx) RemoveProperty(id NodeID, name string) error {
	n, err := tx.node(id)
	if err != nil {
		return err
	}
	prev, had := n.props[name]
	if !had {
		return nil
	}
	delete(n.props, name)
	tx.record(func() { n.props[name] = prev })
	return nil
}

func (tx *memTx) AddLabel(id NodeID, label string) error {
	n, err := tx.node(id)
	if err != nil {
		return err
	}
	if _, ok := n.labels[label]; ok {
		return nil
	}
	s := tx.s
	n.labels[label] = struct{}{}
	set, ok := s.labels[label]
	if !ok {
		set = make(map[NodeID]struct{})
		s.labels[label] = set
	}
	set[id] = struct{}{}
	tx.record(func() {
		delete(n.labels, label)
		delete(set, id)
	})
	return nil
}

func (tx *memTx) HasLabel(id NodeID, label string) (bool, error) {
	n, err := tx.node(id)
	if err != nil {
		return false, err
	}
	_, ok := n.labels[label]
	return ok, nil
}

func (tx *memTx) RemoveLabel(id NodeID, label string) error {
	n, err := tx.node(id)
	if err != nil {
		return err
	}
	if _, ok := n.labels[label]; !ok {
		return nil
	}
	set := tx.s.labels[label]
	delete(n.labels, label)
	delete(set, id)
	tx.record(func() {
		n.labels[label] = struct{}{}
		set[id] = struct{}{}
	})
	return nil
}

func (tx *memTx) NodesWithLabel(label string) ([]NodeID, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	set := tx.s.labels[label]
	ids := make([]NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (tx *memTx) CreateEdge(from, to NodeID, label string, ordinal int) (EdgeID, error) {
	src, err := tx.node(from)
	if err != nil {
		return 0, err
	}
	dst, err := tx.node(to)
	if err != nil {
		return 0, err
	}
	s := tx.s
	s.nextEdge++
	id := s.nextEdge
	s.edges[id] = &Edge{ID: id, From: from, To: to, Label: label, Ordinal: ordinal}
	src.edges[id] = struct{}{}
	dst.edges[id] = struct{}{}
	tx.record(func() {
		delete(s.edges, id)
		delete(src.edges, id)
		delete(dst.edges, id)
		s.nextEdge--
	})
	return id, nil
}

func (tx *memTx) DeleteEdge(id EdgeID) error {
	if tx.done {
		return ErrTxDone
	}
	s := tx.s
	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	src, dst := s.nodes[e.From], s.nodes[e.To]
	delete(s.edges, id)
	delete(src.edges, id)
	delete(dst.edges, id)
	tx.record(func() {
		s.edges[id] = e
		src.edges[id] = struct{}{}
		dst.edges[id] = struct{}{}
	})
	return nil
}

func (tx *memTx) Edges(id NodeID, label string, dir Direction) ([]Edge, error) {
	n, err := tx.node(id)
	if err != nil {
		return nil, err
	}
	var out []Edge
	for _, eid := range sortedEdgeIDs(n.edges) {
		e := tx.s.edges[eid]
		if label != "" && e.Label != label {
			continue
		}
		if matchDirection(*e, id, dir) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (tx *memTx) IndexAdd(key string, id NodeID) error {
	if tx.done {
		return ErrTxDone
	}
	idx := tx.s.index
	if _, ok := idx.Get(indexEntry{key: key}); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	idx.Set(indexEntry{key: key, id: id})
	tx.record(func() { idx.Delete(indexEntry{key: key}) })
	return nil
}

func (tx *memTx) IndexRemove(key string) error {
	if tx.done {
		return ErrTxDone
	}
	idx := tx.s.index
	prev, ok := idx.Delete(indexEntry{key: key})
	if ok {
		tx.record(func() { idx.Set(prev) })
	}
	return nil
}

func (tx *memTx) IndexGet(key string) (NodeID, bool, error) {
	if tx.done {
		return 0, false, ErrTxDone
	}
	e, ok := tx.s.index.Get(indexEntry{key: key})
	return e.id, ok, nil
}

func (tx *memTx) IndexCount() (int64, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	return int64(tx.s.index.Len()), nil
}

func (tx *memTx) IndexClear() error {
	if tx.done {
		return ErrTxDone
	}
	s := tx.s
	prev := s.index
	s.index = btree.NewBTreeG[indexEntry](indexEntryLess)
	tx.record(func() { s.index = prev })
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.finish()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.finish()
	return nil
}

func (tx *memTx) finish() {
	tx.undo = nil
	tx.done = true
	tx.s.mu.Unlock()
}

func sortedEdgeIDs(set map[EdgeID]struct{}) []EdgeID {
	ids := make([]EdgeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func matchDirection(e Edge, id NodeID, dir Direction) bool {
	switch dir {
	case Outgoing:
		return e.From == id
	case Incoming:
		return e.To == id
	default:
		return e.From == id || e.To == id
	}
}
