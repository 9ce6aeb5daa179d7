// Package storage defines the graph persistence interface used by the tree:
// nodes with typed properties and labels, ordered labelled edges, and a
// unique secondary index from point id to node. All access goes through a
// transaction.
package storage

import (
	"context"
	"errors"
)

// NodeID identifies a stored node. The zero value means no node.
type NodeID int64

// EdgeID identifies a stored edge. The zero value means no edge.
type EdgeID int64

// Direction selects which incident edges Edges returns.
type Direction int

const (
	// Outgoing selects edges whose From is the node.
	Outgoing Direction = iota
	// Incoming selects edges whose To is the node.
	Incoming
	// Both selects every incident edge.
	Both
)

// Edge is a directed, labelled relationship. Ordinal orders siblings that
// share a label.
type Edge struct {
	ID      EdgeID
	From    NodeID
	To      NodeID
	Label   string
	Ordinal int
}

// Other returns the endpoint of e that is not id.
func (e Edge) Other(id NodeID) NodeID {
	if e.From == id {
		return e.To
	}
	return e.From
}

var (
	// ErrNotFound is returned for operations on a node or edge that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when an index key is already registered.
	ErrDuplicateKey = errors.New("duplicate index key")
	// ErrTxDone is returned for any use of a committed or rolled back transaction.
	ErrTxDone = errors.New("transaction already finished")
	// ErrPropertyType is returned when a property holds an unexpected type.
	ErrPropertyType = errors.New("property has unexpected type")
	// ErrUnsupportedValue is returned when a property value cannot be encoded.
	ErrUnsupportedValue = errors.New("unsupported property value")
	// ErrClosed is returned when beginning a transaction on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store opens transactions over a graph.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a unit of work. Every change made through a Tx is visible to later
// calls on the same Tx and becomes durable only on Commit. Rollback discards
// everything.
type Tx interface {
	// Node operations
	CreateNode() (NodeID, error)
	DeleteNode(id NodeID) error
	NodeExists(id NodeID) (bool, error)

	// Property operations
	Property(id NodeID, name string) (any, bool, error)
	SetProperty(id NodeID, name string, value any) error
	RemoveProperty(id NodeID, name string) error

	// Label operations
	AddLabel(id NodeID, label string) error
	HasLabel(id NodeID, label string) (bool, error)
	RemoveLabel(id NodeID, label string) error
	NodesWithLabel(label string) ([]NodeID, error)

	// Edge operations
	CreateEdge(from, to NodeID, label string, ordinal int) (EdgeID, error)
	DeleteEdge(id EdgeID) error
	Edges(id NodeID, label string, dir Direction) ([]Edge, error)

	// Secondary index
	IndexAdd(key string, id NodeID) error
	IndexRemove(key string) error
	IndexGet(key string) (NodeID, bool, error)
	IndexCount() (int64, error)
	IndexClear() error

	Commit() error
	Rollback() error
}
