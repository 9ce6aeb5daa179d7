package mvp

import (
	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/vector"
)

// Vectored is anything with coordinates a metric can measure.
type Vectored[T vector.Element] interface {
	Data() []T
}

// Point is an indexed point. A point obtained from CreatePoint is detached
// and inactive until passed to AddPoints; the caller sets ID and Vector
// before inserting it.
type Point[T vector.Element] struct {
	ID     string
	Vector []T

	node   storage.NodeID
	active bool
	path   []float64
}

// NewPoint returns a detached point. Its storage node is created when it is
// inserted.
func NewPoint[T vector.Element](id string, v []T) *Point[T] {
	return &Point[T]{ID: id, Vector: v}
}

// Data implements Vectored.
func (p *Point[T]) Data() []T { return p.Vector }

// Active reports whether the point is part of the index.
func (p *Point[T]) Active() bool { return p.active }

// Node returns the storage handle of the point, zero if none was created yet.
func (p *Point[T]) Node() storage.NodeID { return p.node }

// Path returns the distances from the point to the vantage points of the
// leaf holding it. It is empty for vantage points.
func (p *Point[T]) Path() []float64 { return p.path }

// QueryTarget is an ephemeral query vector. It is never persisted.
type QueryTarget[T vector.Element] struct {
	Vector []T
}

// Data implements Vectored.
func (q QueryTarget[T]) Data() []T { return q.Vector }
