package compaction

import (
	"log/slog"

	"cfkv/pkg/cellkey"
	"cfkv/pkg/schema"
)

// ExpiryPolicy decides whether a record of the given family written at ts has
// outlived its retention.
type ExpiryPolicy func(family schema.Family, ts int64) bool

// NeverExpire is the default policy.
func NeverExpire(schema.Family, int64) bool {
	return false
}

type options struct {
	logger  *slog.Logger
	decoder cellkey.Decoder
	expired ExpiryPolicy
}

type Option func(*options)

// WithLogger sets the logger used for diagnostics about malformed keys.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDecoder replaces the raw key codec, e.g. with cellkey.InternalDecoder
// when the stream carries storage internal keys.
func WithDecoder(d cellkey.Decoder) Option {
	return func(o *options) {
		if d != nil {
			o.decoder = d
		}
	}
}

// WithExpiry installs a retention policy.
func WithExpiry(p ExpiryPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.expired = p
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		decoder: cellkey.Codec{},
		expired: NeverExpire,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
