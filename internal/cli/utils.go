// Package cli provides output formatting for the mvptree command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/mvptree/internal/models"
	"github.com/hyperjump/mvptree/internal/mvp"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one hit per line, id and distance separated by a tab.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, compact or json)", s)
	}
}

const maxIDWidth = 48

// WriteQueryResults writes the hits of a range query to w in the given format.
func WriteQueryResults(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, hit := range response.Hits {
			if _, err := fmt.Fprintf(w, "%s\t%g\n", hit.ID, hit.Distance); err != nil {
				return err
			}
		}
		return nil
	default:
		writeQueryResultsText(w, response)
		return nil
	}
}

func writeQueryResultsText(w io.Writer, response *models.QueryResponse) {
	fmt.Fprintf(w, "\nFound %d points within radius %g in %dms (%d distance computations, %d pruned)\n\n",
		response.Total, response.Radius, response.QueryTime, response.DistanceOps, response.Pruned)
	if len(response.Hits) == 0 {
		return
	}
	fmt.Fprintf(w, "%-5s %-*s %s\n", "#", maxIDWidth+3, "ID", "DISTANCE")
	for i, hit := range response.Hits {
		fmt.Fprintf(w, "%-5d %-*s %.6f\n", i+1, maxIDWidth+3, Truncate(hit.ID, maxIDWidth), hit.Distance)
	}
	fmt.Fprintln(w)
}

// WriteStats writes tree statistics to w.
func WriteStats(w io.Writer, stats *mvp.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	rows := []struct {
		label string
		value any
	}{
		{"Indexed points", stats.TotalPoints},
		{"Vantage points", stats.VantagePoints},
		{"Leaf points", stats.LeafPoints},
		{"Internal nodes", stats.InternalNodes},
		{"Leaf nodes", stats.LeafNodes},
		{"Fringe nodes", stats.FringeNodes},
		{"Depth", stats.Depth},
		{"Min leaf size", stats.MinLeafSize},
		{"Max leaf size", stats.MaxLeafSize},
		{"Avg leaf size", fmt.Sprintf("%.2f", stats.AvgLeafSize)},
	}
	for _, r := range rows {
		sep := ": "
		if format == OutputCompact {
			sep = "\t"
		}
		if _, err := fmt.Fprintf(w, "%s%s%v\n", r.label, sep, r.value); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
