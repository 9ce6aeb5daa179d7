// Package models defines the data shapes exchanged by the CLI and the
// ingest pipeline: point records, query requests and query responses.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PointInput is one point record as read from a JSON lines file or typed on
// the command line. Coordinates are kept as json.Number so integer kinds are
// parsed without a float round trip.
type PointInput struct {
	ID     string        `json:"id,omitempty"`
	Vector []json.Number `json:"vector"`
}

// Validate checks that the record carries a vector. The id may be empty;
// callers derive one.
func (p *PointInput) Validate() error {
	p.ID = strings.TrimSpace(p.ID)
	if len(p.Vector) == 0 {
		return fmt.Errorf("point %q has no vector", p.ID)
	}
	return nil
}

// Strings returns the coordinates in their textual form.
func (p *PointInput) Strings() []string {
	out := make([]string, len(p.Vector))
	for i, n := range p.Vector {
		out[i] = n.String()
	}
	return out
}
