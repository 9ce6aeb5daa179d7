package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Key prefixes. Everything a node owns is stored under prefixNode + node id,
// so a node is read or deleted with a single prefix scan.
const (
	prefixNode  byte = 0x01 // node id [+ scope ...]
	prefixLabel byte = 0x03 // label + 0x00 + node id -> empty
	prefixEdge  byte = 0x05 // edge id -> edge record
	prefixIndex byte = 0x08 // point key -> node id
	prefixMeta  byte = 0x09
)

// Scopes following prefixNode + node id.
const (
	scopeProp     byte = 'p' // + name -> encoded value
	scopeLabel    byte = 'l' // + label -> empty
	scopeOutgoing byte = 'o' // + label + 0x00 + edge id -> edge record
	scopeIncoming byte = 'i' // + label + 0x00 + edge id -> edge record
)

var (
	seqNodeKey    = []byte{prefixMeta, 'n'}
	seqEdgeKey    = []byte{prefixMeta, 'e'}
	indexCountKey = []byte{prefixMeta, 'c'}
)

type edgeRecord struct {
	From    int64  `msgpack:"f"`
	To      int64  `msgpack:"t"`
	Label   string `msgpack:"l"`
	Ordinal int    `msgpack:"o"`
}

// BadgerStore implements Store on a Badger key-value database. Writers are
// serialized by a store level lock so transactions never conflict.
type BadgerStore struct {
	db      *badger.DB
	mu      sync.Mutex
	nodeSeq *badger.Sequence
	edgeSeq *badger.Sequence
	closed  bool
}

// NewBadgerStore opens or creates a Badger database in dir. An empty dir
// opens an in-memory database.
func NewBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.WithLogger(badgerLogger{logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	nodeSeq, err := db.GetSequence(seqNodeKey, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to allocate node sequence: %w", err)
	}
	edgeSeq, err := db.GetSequence(seqEdgeKey, 128)
	if err != nil {
		_ = nodeSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("failed to allocate edge sequence: %w", err)
	}
	return &BadgerStore{db: db, nodeSeq: nodeSeq, edgeSeq: edgeSeq}, nil
}

// Begin starts a read-write transaction. It blocks while another
// transaction is open.
func (s *BadgerStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	return &badgerTx{s: s, txn: s.db.NewTransaction(true)}, nil
}

// Close releases the id sequences and closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return multierr.Combine(s.nodeSeq.Release(), s.edgeSeq.Release(), s.db.Close())
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(f string, args ...interface{})   { b.l.Errorf(f, args...) }
func (b badgerLogger) Warningf(f string, args ...interface{}) { b.l.Warnf(f, args...) }
func (b badgerLogger) Infof(f string, args ...interface{})    { b.l.Debugf(f, args...) }
func (b badgerLogger) Debugf(f string, args ...interface{})   { b.l.Debugf(f, args...) }

func be64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func key(prefix byte, parts ...[]byte) []byte {
	k := []byte{prefix}
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func nodeKey(id NodeID) []byte { return key(prefixNode, be64(int64(id))) }

func nodeScopeKey(id NodeID, scope byte, parts ...[]byte) []byte {
	k := key(prefixNode, be64(int64(id)), []byte{scope})
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func propKey(id NodeID, name string) []byte {
	return nodeScopeKey(id, scopeProp, []byte(name))
}

func labelKey(label string, id NodeID) []byte {
	return key(prefixLabel, []byte(label), []byte{0x00}, be64(int64(id)))
}

func labelPrefix(label string) []byte {
	return key(prefixLabel, []byte(label), []byte{0x00})
}

func nodeLabelKey(id NodeID, label string) []byte {
	return nodeScopeKey(id, scopeLabel, []byte(label))
}

func edgeKey(id EdgeID) []byte { return key(prefixEdge, be64(int64(id))) }

func adjacencyKey(scope byte, node NodeID, label string, edge EdgeID) []byte {
	return nodeScopeKey(node, scope, []byte(label), []byte{0x00}, be64(int64(edge)))
}

// adjacencyPrefix covers the node's edges in one direction, all labels when
// label is empty.
func adjacencyPrefix(scope byte, node NodeID, label string) []byte {
	if label == "" {
		return nodeScopeKey(node, scope)
	}
	return nodeScopeKey(node, scope, []byte(label), []byte{0x00})
}

func indexKey(k string) []byte { return key(prefixIndex, []byte(k)) }

type badgerTx struct {
	s    *BadgerStore
	txn  *badger.Txn
	done bool
}

func (t *badgerTx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *badgerTx) exists(k []byte) (bool, error) {
	_, err := t.txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *badgerTx) value(k []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// scan calls fn with a copy of every key under prefix, and of its value when
// values is set. The iterator is closed before fn runs so fn may write; a
// read-write transaction allows one open iterator at a time.
func (t *badgerTx) scan(prefix []byte, values bool, fn func(k, v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)

	var ks, vs [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		ks = append(ks, item.KeyCopy(nil))
		if values {
			v, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			vs = append(vs, v)
		}
	}
	it.Close()

	for i, k := range ks {
		var v []byte
		if values {
			v = vs[i]
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// keys collects every key with the given prefix.
func (t *badgerTx) keys(prefix []byte) ([][]byte, error) {
	var out [][]byte
	err := t.scan(prefix, false, func(k, _ []byte) error {
		out = append(out, k)
		return nil
	})
	return out, err
}

func (t *badgerTx) mustExist(id NodeID) error {
	if err := t.check(); err != nil {
		return err
	}
	ok, err := t.exists(nodeKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return nil
}

func (t *badgerTx) CreateNode() (NodeID, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n, err := t.s.nodeSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate node id: %w", err)
	}
	id := NodeID(n + 1)
	if err := t.txn.Set(nodeKey(id), nil); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteNode removes the node with its properties, labels and incident edges
// in one scan of the node's key range.
func (t *badgerTx) DeleteNode(id NodeID) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	head := len(nodeKey(id))
	return t.scan(nodeKey(id), true, func(k, v []byte) error {
		if len(k) > head {
			switch k[head] {
			case scopeLabel:
				if err := t.txn.Delete(labelKey(string(k[head+1:]), id)); err != nil {
					return err
				}
			case scopeOutgoing, scopeIncoming:
				e, err := decodeEdge(EdgeID(binary.BigEndian.Uint64(k[len(k)-8:])), v)
				if err != nil {
					return err
				}
				if err := t.deleteEdgeKeys(e); err != nil {
					return err
				}
			}
		}
		return t.txn.Delete(k)
	})
}

func (t *badgerTx) NodeExists(id NodeID) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	return t.exists(nodeKey(id))
}

func (t *badgerTx) Property(id NodeID, name string) (any, bool, error) {
	if err := t.mustExist(id); err != nil {
		return nil, false, err
	}
	raw, ok, err := t.value(propKey(id, name))
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *badgerTx) SetProperty(id NodeID, name string, value any) error {
	raw, err := EncodeValue(value)
	if err != nil {
		return err
	}
	if err := t.mustExist(id); err != nil {
		return err
	}
	return t.txn.Set(propKey(id, name), raw)
}

func (t *badgerTx) RemoveProperty(id NodeID, name string) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	return t.txn.Delete(propKey(id, name))
}

func (t *badgerTx) AddLabel(id NodeID, label string) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	if err := t.txn.Set(labelKey(label, id), nil); err != nil {
		return err
	}
	return t.txn.Set(nodeLabelKey(id, label), nil)
}

func (t *badgerTx) HasLabel(id NodeID, label string) (bool, error) {
	if err := t.mustExist(id); err != nil {
		return false, err
	}
	return t.exists(nodeLabelKey(id, label))
}

func (t *badgerTx) RemoveLabel(id NodeID, label string) error {
	if err := t.mustExist(id); err != nil {
		return err
	}
	if err := t.txn.Delete(labelKey(label, id)); err != nil {
		return err
	}
	return t.txn.Delete(nodeLabelKey(id, label))
}

func (t *badgerTx) NodesWithLabel(label string) ([]NodeID, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	prefix := labelPrefix(label)
	keys, err := t.keys(prefix)
	if err != nil {
		return nil, err
	}
	var ids []NodeID
	for _, k := range keys {
		if len(k) != len(prefix)+8 {
			continue
		}
		ids = append(ids, NodeID(binary.BigEndian.Uint64(k[len(prefix):])))
	}
	return ids, nil
}

func (t *badgerTx) CreateEdge(from, to NodeID, label string, ordinal int) (EdgeID, error) {
	if err := t.mustExist(from); err != nil {
		return 0, err
	}
	if err := t.mustExist(to); err != nil {
		return 0, err
	}
	n, err := t.s.edgeSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate edge id: %w", err)
	}
	id := EdgeID(n + 1)
	rec, err := msgpack.Marshal(edgeRecord{From: int64(from), To: int64(to), Label: label, Ordinal: ordinal})
	if err != nil {
		return 0, err
	}
	for _, k := range [][]byte{
		edgeKey(id),
		adjacencyKey(scopeOutgoing, from, label, id),
		adjacencyKey(scopeIncoming, to, label, id),
	} {
		if err := t.txn.Set(k, rec); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func decodeEdge(id EdgeID, raw []byte) (Edge, error) {
	var rec edgeRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return Edge{}, fmt.Errorf("failed to decode edge %d: %w", id, err)
	}
	return Edge{ID: id, From: NodeID(rec.From), To: NodeID(rec.To), Label: rec.Label, Ordinal: rec.Ordinal}, nil
}

func (t *badgerTx) DeleteEdge(id EdgeID) error {
	if err := t.check(); err != nil {
		return err
	}
	raw, ok, err := t.value(edgeKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	e, err := decodeEdge(id, raw)
	if err != nil {
		return err
	}
	return t.deleteEdgeKeys(e)
}

func (t *badgerTx) deleteEdgeKeys(e Edge) error {
	for _, k := range [][]byte{
		edgeKey(e.ID),
		adjacencyKey(scopeOutgoing, e.From, e.Label, e.ID),
		adjacencyKey(scopeIncoming, e.To, e.Label, e.ID),
	} {
		if err := t.txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Edges reads the edge records stored with the node's adjacency entries, one
// prefix scan per direction, ordered by edge id.
func (t *badgerTx) Edges(id NodeID, label string, dir Direction) ([]Edge, error) {
	if err := t.mustExist(id); err != nil {
		return nil, err
	}
	var out []Edge
	seen := make(map[EdgeID]struct{})
	collect := func(scope byte) error {
		return t.scan(adjacencyPrefix(scope, id, label), true, func(k, v []byte) error {
			e, err := decodeEdge(EdgeID(binary.BigEndian.Uint64(k[len(k)-8:])), v)
			if err != nil {
				return err
			}
			if _, dup := seen[e.ID]; !dup {
				seen[e.ID] = struct{}{}
				out = append(out, e)
			}
			return nil
		})
	}
	if dir == Outgoing || dir == Both {
		if err := collect(scopeOutgoing); err != nil {
			return nil, err
		}
	}
	if dir == Incoming || dir == Both {
		if err := collect(scopeIncoming); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *badgerTx) indexDelta(delta int64) error {
	n, err := t.IndexCount()
	if err != nil {
		return err
	}
	return t.txn.Set(indexCountKey, be64(n+delta))
}

func (t *badgerTx) IndexAdd(k string, id NodeID) error {
	if err := t.check(); err != nil {
		return err
	}
	ok, err := t.exists(indexKey(k))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, k)
	}
	if err := t.txn.Set(indexKey(k), be64(int64(id))); err != nil {
		return err
	}
	return t.indexDelta(1)
}

func (t *badgerTx) IndexRemove(k string) error {
	if err := t.check(); err != nil {
		return err
	}
	ok, err := t.exists(indexKey(k))
	if err != nil || !ok {
		return err
	}
	if err := t.txn.Delete(indexKey(k)); err != nil {
		return err
	}
	return t.indexDelta(-1)
}

func (t *badgerTx) IndexGet(k string) (NodeID, bool, error) {
	if err := t.check(); err != nil {
		return 0, false, err
	}
	raw, ok, err := t.value(indexKey(k))
	if err != nil || !ok {
		return 0, false, err
	}
	return NodeID(binary.BigEndian.Uint64(raw)), true, nil
}

func (t *badgerTx) IndexCount() (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	raw, ok, err := t.value(indexCountKey)
	if err != nil || !ok {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (t *badgerTx) IndexClear() error {
	if err := t.check(); err != nil {
		return err
	}
	keys, err := t.keys([]byte{prefixIndex})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return err
		}
	}
	return t.txn.Delete(indexCountKey)
}

func (t *badgerTx) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	defer t.s.mu.Unlock()
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (t *badgerTx) Rollback() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	t.txn.Discard()
	t.s.mu.Unlock()
	return nil
}
