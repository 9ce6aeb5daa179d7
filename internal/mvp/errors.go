package mvp

import (
	"errors"
	"fmt"

	"github.com/hyperjump/mvptree/internal/metric"
)

var (
	// ErrConfiguration is returned for invalid tree parameters or a missing metric.
	ErrConfiguration = errors.New("configuration error")
	// ErrData is returned for malformed points or a metric producing an invalid distance.
	ErrData = errors.New("data error")
	// ErrConsistency is returned when the persisted tree violates a structural invariant.
	ErrConsistency = errors.New("consistency error")
	// ErrStorage wraps any failure reported by the storage backend.
	ErrStorage = errors.New("storage error")
)

// TreeError reports the operation that failed and its cause. The cause is
// always classified under one of the package sentinels.
type TreeError struct {
	Op  string
	Err error
}

func (e *TreeError) Error() string {
	return fmt.Sprintf("mvptree %s: %v", e.Op, e.Err)
}

func (e *TreeError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func dataErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

func consistencyErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// classify maps err onto the error taxonomy. Anything not already
// classified came from the storage layer.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrData),
		errors.Is(err, ErrConsistency), errors.Is(err, ErrStorage):
		return err
	case errors.Is(err, metric.ErrDimensionMismatch):
		return fmt.Errorf("%w: %w", ErrData, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}
