package clock

import (
	"time"

	"cfkv/pkg/types"
)

// Millis issues strictly increasing millisecond timestamps, so two writes
// never share a version even within one millisecond or when the wall clock
// steps back. It is not safe for concurrent use.
type Millis struct {
	now  func() time.Time
	last types.Timestamp
}

func NewMillis(now func() time.Time) *Millis {
	if now == nil {
		now = time.Now
	}
	return &Millis{now: now}
}

// Next returns max(now, last+1).
func (m *Millis) Next() types.Timestamp {
	ts := m.now().UnixMilli()
	if ts <= m.last {
		ts = m.last + 1
	}
	m.last = ts
	return ts
}

// Observe records a timestamp issued before a restart.
func (m *Millis) Observe(ts types.Timestamp) {
	if ts > m.last {
		m.last = ts
	}
}

func (m *Millis) Last() types.Timestamp {
	return m.last
}
