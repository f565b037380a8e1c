package compaction

import (
	"cfkv/pkg/iterator"
	"cfkv/pkg/schema"
)

// Filter is one decision variant bound to a Strategy: a keep/drop verdict per
// record plus the matching atomic merge mode.
type Filter interface {
	Drop(key []byte) bool
	Merge(it iterator.Forward) (key, value []byte, merged bool)
}

type compactionFilter struct {
	s *Strategy
}

func (f compactionFilter) Drop(key []byte) bool { return f.s.Drop(key) }

func (f compactionFilter) Merge(it iterator.Forward) ([]byte, []byte, bool) {
	return f.s.MergeAtomicOps(it)
}

type scanFilter struct {
	s *Strategy
}

func (f scanFilter) Drop(key []byte) bool { return f.s.ScanDrop(key) }

func (f scanFilter) Merge(it iterator.Forward) ([]byte, []byte, bool) {
	return f.s.ScanMergedValue(it)
}

// Compaction returns the streaming variant used when rewriting tables.
func (s *Strategy) Compaction() Filter {
	return compactionFilter{s: s}
}

// Scan returns the variant used by full scans and reads.
func (s *Strategy) Scan() Filter {
	return scanFilter{s: s}
}

// Factory produces one fresh Strategy per job. It is safe for concurrent use;
// instances it returns are not.
type Factory struct {
	index *schema.Index
	opts  []Option
}

func NewFactory(index *schema.Index, opts ...Option) *Factory {
	return &Factory{
		index: index,
		opts:  opts,
	}
}

func (f *Factory) NewInstance() *Strategy {
	return New(f.index, f.opts...)
}

func (f *Factory) Index() *schema.Index {
	return f.index
}
