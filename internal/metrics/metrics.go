// Package metrics exposes Prometheus counters for tree operations.
package metrics

import (
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	// OperationsTotal counts tree operations by outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvptree_operations_total",
			Help: "Total number of tree operations",
		},
		[]string{"op", "status"},
	)

	// OperationDuration measures tree operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mvptree_operation_duration_seconds",
			Help:    "Duration of tree operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"op"},
	)

	// DistanceComputations counts metric evaluations.
	DistanceComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvptree_distance_computations_total",
			Help: "Total number of distance computations",
		},
		[]string{"op"},
	)

	// QueryPruned counts leaf members skipped by their cached paths.
	QueryPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mvptree_query_pruned_total",
			Help: "Leaf members excluded without an exact distance computation",
		},
	)

	// IndexedPoints tracks the active point count reported by the last stats call.
	IndexedPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mvptree_indexed_points",
			Help: "Number of active indexed points",
		},
	)
)

// ObserveOperation records the outcome and duration of an operation.
func ObserveOperation(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(op, status).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddDistanceOps records n distance computations made by op.
func AddDistanceOps(op string, n int64) {
	if n > 0 {
		DistanceComputations.WithLabelValues(op).Add(float64(n))
	}
}

// WriteText writes every mvptree metric family in the text exposition format.
func WriteText(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "mvptree_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
