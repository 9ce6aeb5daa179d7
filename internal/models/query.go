package models

import (
	"fmt"
	"math"
	"strings"
)

// QueryRequest is a range query: either the id of an indexed point or an
// inline vector, and a radius.
type QueryRequest struct {
	ID     string   `json:"id,omitempty"`
	Vector []string `json:"vector,omitempty"`
	Radius float64  `json:"radius"`
}

// Validate ensures exactly one target is given and the radius is usable.
func (q *QueryRequest) Validate() error {
	q.ID = strings.TrimSpace(q.ID)
	switch {
	case q.ID == "" && len(q.Vector) == 0:
		return fmt.Errorf("query needs a point id or a vector")
	case q.ID != "" && len(q.Vector) > 0:
		return fmt.Errorf("query takes a point id or a vector, not both")
	case math.IsNaN(q.Radius) || math.IsInf(q.Radius, 0):
		return fmt.Errorf("radius must be finite, got %v", q.Radius)
	case q.Radius < 0:
		return fmt.Errorf("radius must not be negative, got %v", q.Radius)
	}
	return nil
}
