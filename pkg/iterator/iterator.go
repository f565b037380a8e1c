package iterator

import (
	"bytes"
	"sort"

	"cfkv/pkg/types"
)

// Forward is the pull-style cursor consumed by compaction filters. It never
// moves backwards.
type Forward interface {
	// Valid reports whether the iterator points to a valid entry.
	Valid() bool
	// Key returns the current key.
	Key() types.Key
	// Value returns the current value.
	Value() types.Value
	// Next advances to the next key.
	Next()
}

// Iterator iterates over a sorted sequence of key-value pairs.
type Iterator interface {
	Forward

	// Seek moves the iterator to the first key >= target.
	Seek(target types.Key)
	// First moves to the smallest key.
	First()
	// Close releases resources.
	Close() error
}

// Entry is a single key-value pair.
type Entry struct {
	Key   types.Key
	Value types.Value
}

// Slice iterates over entries already sorted by key.
type Slice struct {
	entries []Entry
	pos     int
}

// NewSlice returns an iterator positioned at the first entry.
func NewSlice(entries []Entry) *Slice {
	return &Slice{entries: entries}
}

func (s *Slice) Valid() bool        { return s.pos >= 0 && s.pos < len(s.entries) }
func (s *Slice) Key() types.Key     { return s.entries[s.pos].Key }
func (s *Slice) Value() types.Value { return s.entries[s.pos].Value }
func (s *Slice) Next()              { s.pos++ }
func (s *Slice) First()             { s.pos = 0 }
func (s *Slice) Close() error       { return nil }

func (s *Slice) Seek(target types.Key) {
	s.pos = sort.Search(len(s.entries), func(i int) bool {
		return bytes.Compare(s.entries[i].Key, target) >= 0
	})
}

// Visible skips the entries of it whose key keep rejects.
type Visible struct {
	Iterator
	keep func(types.Key) bool
}

func NewVisible(it Iterator, keep func(types.Key) bool) *Visible {
	v := &Visible{Iterator: it, keep: keep}
	v.skip()
	return v
}

func (v *Visible) skip() {
	for v.Iterator.Valid() && !v.keep(v.Iterator.Key()) {
		v.Iterator.Next()
	}
}

func (v *Visible) Next() {
	v.Iterator.Next()
	v.skip()
}

func (v *Visible) Seek(target types.Key) {
	v.Iterator.Seek(target)
	v.skip()
}

func (v *Visible) First() {
	v.Iterator.First()
	v.skip()
}

// Err forwards the error of the wrapped iterator, if it tracks one.
func (v *Visible) Err() error {
	if e, ok := v.Iterator.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
