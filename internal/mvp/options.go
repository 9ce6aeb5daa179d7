package mvp

import (
	"time"

	"go.uber.org/zap"
)

// Default tree parameters.
const (
	DefaultBranchFactor      = 2
	DefaultPathLength        = 8
	DefaultLeafMinimum       = 10
	DefaultLevelsPerNode     = 2
	DefaultRootRetryAttempts = 5
	DefaultRootRetryDelay    = time.Second
)

type options struct {
	branchFactor  int
	pathLength    int
	leafMinimum   int
	levelsPerNode int
	retryAttempts int
	retryDelay    time.Duration
	logger        *zap.Logger
}

func defaultOptions() options {
	return options{
		branchFactor:  DefaultBranchFactor,
		pathLength:    DefaultPathLength,
		leafMinimum:   DefaultLeafMinimum,
		levelsPerNode: DefaultLevelsPerNode,
		retryAttempts: DefaultRootRetryAttempts,
		retryDelay:    DefaultRootRetryDelay,
	}
}

// Option configures a Tree.
type Option func(*options)

// WithBranchFactor sets the number of partitions per vantage point.
func WithBranchFactor(bf int) Option {
	return func(o *options) { o.branchFactor = bf }
}

// WithPathLength sets the number of vantage points held by a leaf.
func WithPathLength(pl int) Option {
	return func(o *options) { o.pathLength = pl }
}

// WithLeafMinimum sets the per-child capacity used to derive the leaf
// overflow threshold.
func WithLeafMinimum(lm int) Option {
	return func(o *options) { o.leafMinimum = lm }
}

// WithLevelsPerNode sets the number of vantage points per internal node.
func WithLevelsPerNode(nl int) Option {
	return func(o *options) { o.levelsPerNode = nl }
}

// WithRootRetry bounds how often an ambiguous root lookup is retried.
func WithRootRetry(attempts int, delay time.Duration) Option {
	return func(o *options) {
		o.retryAttempts = attempts
		o.retryDelay = delay
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}
