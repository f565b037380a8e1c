package store

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventFlush      EventKind = "flush"
	EventCompaction EventKind = "compaction"
)

// Event reports a finished background job.
type Event struct {
	Kind    EventKind `json:"kind"`
	JobID   string    `json:"job_id,omitempty"`
	TableID uint64    `json:"table_id,omitempty"`
	Records int       `json:"records"`
	Bytes   int64     `json:"bytes"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

const subscriberBuffer = 32

// broadcaster fans events out to subscribers. Slow subscribers lose events
// instead of blocking the job that produced them.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
