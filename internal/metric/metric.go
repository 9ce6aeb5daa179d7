// Package metric provides distance functions over typed vectors.
//
// A Metric must be nonnegative, symmetric and satisfy the triangle inequality;
// the tree's pruning is only exact under those conditions.
package metric

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/hyperjump/mvptree/internal/vector"
)

// ErrDimensionMismatch is returned when two vectors differ in length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Names of the built-in metrics.
const (
	NameL1      = "L1"
	NameL2      = "L2"
	NameHamming = "HAMMING"
)

// Metric computes the distance between two vectors of equal length.
type Metric[T vector.Element] interface {
	Name() string
	Distance(a, b []T) (float64, error)
}

func checkLen(a, b int) error {
	if a != b {
		return fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, a, b)
	}
	return nil
}

// L1 is the mean absolute coordinate difference.
type L1[T vector.Element] struct{}

// Name implements Metric.
func (L1[T]) Name() string { return NameL1 }

// Distance implements Metric.
func (L1[T]) Distance(a, b []T) (float64, error) {
	if err := checkLen(len(a), len(b)); err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Distance(vector.Float64s(a), vector.Float64s(b), 1) / float64(len(a)), nil
}

// L2 is the Euclidean norm of the difference divided by the dimension.
type L2[T vector.Element] struct{}

// Name implements Metric.
func (L2[T]) Name() string { return NameL2 }

// Distance implements Metric.
func (L2[T]) Distance(a, b []T) (float64, error) {
	if err := checkLen(len(a), len(b)); err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Distance(vector.Float64s(a), vector.Float64s(b), 2) / float64(len(a)), nil
}

// Hamming counts differing bits between corresponding coordinates, each
// reinterpreted as a 64-bit integer. Floating point coordinates are truncated
// toward zero first; bytes are treated as unsigned.
type Hamming[T vector.Element] struct{}

// Name implements Metric.
func (Hamming[T]) Name() string { return NameHamming }

// Distance implements Metric.
func (Hamming[T]) Distance(a, b []T) (float64, error) {
	if err := checkLen(len(a), len(b)); err != nil {
		return 0, err
	}
	var sum int
	for i := range a {
		sum += bits.OnesCount64(uint64(toInt64(a[i]) ^ toInt64(b[i])))
	}
	return float64(sum), nil
}

func toInt64[T vector.Element](x T) int64 {
	switch v := any(x).(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	}
	f := float64(x)
	if math.IsNaN(f) {
		return 0
	}
	return int64(f)
}

// Func adapts a plain function into a named Metric.
type Func[T vector.Element] struct {
	MetricName string
	Fn         func(a, b []T) float64
}

// Name implements Metric.
func (f Func[T]) Name() string { return f.MetricName }

// Distance implements Metric.
func (f Func[T]) Distance(a, b []T) (float64, error) {
	if err := checkLen(len(a), len(b)); err != nil {
		return 0, err
	}
	return f.Fn(a, b), nil
}

// ByName returns the built-in metric with the given name (case-insensitive).
func ByName[T vector.Element](name string) (Metric[T], error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case NameL1, "":
		return L1[T]{}, nil
	case NameL2:
		return L2[T]{}, nil
	case NameHamming:
		return Hamming[T]{}, nil
	default:
		return nil, fmt.Errorf("unknown metric: %q (supported: L1, L2, HAMMING)", name)
	}
}
