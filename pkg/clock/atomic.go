package clock

import (
	"sync/atomic"

	"cfkv/pkg/types"
)

// Sequence hands out write sequence numbers. It is safe for concurrent use.
type Sequence struct {
	atomic.Uint64
}

func NewSequence(init types.SeqN) *Sequence {
	var s Sequence
	s.Store(init)
	return &s
}

// Val returns the last sequence number handed out.
func (s *Sequence) Val() types.SeqN {
	return s.Load()
}

func (s *Sequence) Next() types.SeqN {
	return s.Add(1)
}

// Advance moves the sequence forward to seq. It never moves it back.
func (s *Sequence) Advance(seq types.SeqN) {
	for {
		cur := s.Load()
		if seq <= cur || s.CompareAndSwap(cur, seq) {
			return
		}
	}
}
