package memtable

import (
	"bytes"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"cfkv/pkg/config"
	"cfkv/pkg/iterator"
	"cfkv/pkg/types"
)

var (
	ErrTooLargeEntry = errors.New("entry is too large")
	ErrClosed        = errors.New("memtable is closed")
)

type concurrentSet = skipmap.FuncMap[[]byte, Item]

// SortedSet is a frozen memtable waiting to be written to disk.
type SortedSet interface {
	Sorted() []Item
	MaxSeq() types.SeqN
	// Flushed is closed once the set has been released.
	Flushed() <-chan struct{}
}

type sortedSet struct {
	*concurrentSet

	size    atomic.Uint64
	maxSeq  atomic.Uint64
	flushed chan struct{}
}

func newSortedSet() *sortedSet {
	return &sortedSet{
		concurrentSet: skipmap.NewFunc[[]byte, Item](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
		flushed: make(chan struct{}),
	}
}

func (s *sortedSet) Sorted() []Item {
	result := make([]Item, 0, s.Len())
	s.Range(func(_ []byte, value Item) bool {
		result = append(result, value)
		return true
	})
	return result
}

func (s *sortedSet) MaxSeq() types.SeqN {
	return s.maxSeq.Load()
}

func (s *sortedSet) Flushed() <-chan struct{} {
	return s.flushed
}

// entries returns the items under prefix visible at snapshot, in key order
func (s *sortedSet) entries(snapshot types.SeqN, prefix []byte) []iterator.Entry {
	var result []iterator.Entry
	s.Range(func(key []byte, value Item) bool {
		if !bytes.HasPrefix(key, prefix) {
			// keys are sorted, nothing after the prefix range can match
			return bytes.Compare(key, prefix) < 0
		}
		if value.SeqN <= snapshot {
			result = append(result, iterator.Entry{Key: key, Value: value.Value})
		}
		return true
	})
	return result
}

// Memtable is the in-memory part of the tree: one active set taking writes
// and the frozen sets that are queued for flushing.
type Memtable struct {
	cfg *config.MemtableConfig

	mu     sync.RWMutex
	active *sortedSet
	// frozen sets, oldest first; they leave only through Release
	imm []*sortedSet

	// serialises rotation with the send on flushChan
	rotateMu  sync.Mutex
	closed    bool
	flushChan chan SortedSet
}

func New(cfg config.MemtableConfig) *Memtable {
	return &Memtable{
		cfg:       &cfg,
		active:    newSortedSet(),
		flushChan: make(chan SortedSet, cfg.FlushChanBuffSize),
	}
}

// Upsert stores one write. Once the active set reaches the flush threshold it
// is frozen and handed to the flush channel.
func (mt *Memtable) Upsert(k, value []byte, seqN types.SeqN) error {
	const seqNSize = 8

	var (
		entSize   = uint64(len(k)) + uint64(len(value)) + seqNSize
		threshold = uint64(mt.cfg.FlushThresholdBytes)
	)
	if entSize > threshold {
		return ErrTooLargeEntry
	}

	mt.mu.RLock()
	active := mt.active
	active.Store(k, Item{Key: k, Value: value, SeqN: seqN})
	size := active.size.Add(entSize)
	for {
		cur := active.maxSeq.Load()
		if seqN <= cur || active.maxSeq.CompareAndSwap(cur, seqN) {
			break
		}
	}
	mt.mu.RUnlock()

	if size >= threshold {
		_, err := mt.rotate(active)
		return err
	}
	return nil
}

// Rotate freezes the active set, if it holds anything, and queues it for
// flushing. It returns the frozen set or nil.
func (mt *Memtable) Rotate() (SortedSet, error) {
	mt.mu.RLock()
	active := mt.active
	mt.mu.RUnlock()

	if active.Len() == 0 {
		return nil, nil
	}
	return mt.rotate(active)
}

func (mt *Memtable) rotate(expected *sortedSet) (SortedSet, error) {
	mt.rotateMu.Lock()
	defer mt.rotateMu.Unlock()

	if mt.closed {
		return nil, ErrClosed
	}

	mt.mu.Lock()
	if mt.active != expected {
		// someone else rotated it already
		mt.mu.Unlock()
		return nil, nil
	}
	mt.imm = append(mt.imm, expected)
	mt.active = newSortedSet()
	mt.mu.Unlock()

	mt.flushChan <- expected
	return expected, nil
}

// Release drops a flushed set from memory and wakes up everyone waiting on
// its Flushed channel.
func (mt *Memtable) Release(set SortedSet) {
	mt.mu.Lock()
	mt.imm = slices.DeleteFunc(mt.imm, func(s *sortedSet) bool {
		return SortedSet(s) == set
	})
	mt.mu.Unlock()

	if s, ok := set.(*sortedSet); ok {
		close(s.flushed)
	}
}

// Snapshot returns one sorted slice per set, newest set first, holding the
// entries under prefix written at or before seq. A nil prefix matches all.
func (mt *Memtable) Snapshot(seq types.SeqN, prefix []byte) [][]iterator.Entry {
	mt.mu.RLock()
	sets := make([]*sortedSet, 0, len(mt.imm)+1)
	sets = append(sets, mt.active)
	for i := len(mt.imm) - 1; i >= 0; i-- {
		sets = append(sets, mt.imm[i])
	}
	mt.mu.RUnlock()

	out := make([][]iterator.Entry, 0, len(sets))
	for _, s := range sets {
		if entries := s.entries(seq, prefix); len(entries) > 0 {
			out = append(out, entries)
		}
	}
	return out
}

// Size returns the bytes held by the active set.
func (mt *Memtable) Size() uint64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.active.size.Load()
}

// Empty reports whether nothing is held in memory, frozen sets included.
func (mt *Memtable) Empty() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.active.Len() == 0 && len(mt.imm) == 0
}

func (mt *Memtable) FlushChan() <-chan SortedSet {
	return mt.flushChan
}

func (mt *Memtable) Close() {
	mt.rotateMu.Lock()
	defer mt.rotateMu.Unlock()

	if !mt.closed {
		mt.closed = true
		close(mt.flushChan)
	}
}
