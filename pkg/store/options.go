package store

import (
	"log/slog"
	"time"

	"cfkv/pkg/compaction"
	"cfkv/pkg/metrics"
)

type iTimeProvider interface {
	Now() time.Time
}

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

type options struct {
	logger  *slog.Logger
	metrics metrics.Collector
	tp      iTimeProvider
	expiry  compaction.ExpiryPolicy
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithTimeProvider replaces the wall clock used to stamp writes.
func WithTimeProvider(tp iTimeProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tp = tp
		}
	}
}

// WithExpiry installs the retention policy applied by compaction and reads.
func WithExpiry(p compaction.ExpiryPolicy) Option {
	return func(o *options) {
		o.expiry = p
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		metrics: metrics.Noop{},
		tp:      systemTime{},
		expiry:  compaction.NeverExpire,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
