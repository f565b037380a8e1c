package compaction

import (
	"bytes"

	"cfkv/pkg/cellkey"
)

// level is the nesting granularity of a boundary or tombstone.
type level uint8

const (
	levelNone level = iota
	levelQualifier
	levelFamily
	levelRow
)

func (l level) String() string {
	switch l {
	case levelQualifier:
		return "qualifier"
	case levelFamily:
		return "family"
	case levelRow:
		return "row"
	}
	return "none"
}

// seedRule says which tombstones a marker opens when it is the first record
// after a boundary at least as coarse as minBoundary.
type seedRule struct {
	marker      cellkey.RecordType
	minBoundary level
	levels      []level
}

// A delete-row marker also acts as a delete at every finer level, and so on down.
var seedRules = []seedRule{
	{marker: cellkey.DeleteRow, minBoundary: levelRow, levels: []level{levelRow, levelFamily, levelQualifier}},
	{marker: cellkey.DeleteColumnFamily, minBoundary: levelFamily, levels: []level{levelFamily, levelQualifier}},
	{marker: cellkey.DeleteQualifierAll, minBoundary: levelQualifier, levels: []level{levelQualifier}},
}

type tombstone struct {
	ts  int64
	set bool
}

// covers reports whether a record at ts is hidden by the tombstone.
func (t tombstone) covers(ts int64, inclusive bool) bool {
	if !t.set {
		return false
	}
	if inclusive {
		return t.ts >= ts
	}
	return t.ts > ts
}

// cellState is the per-job position in the sorted stream.
type cellState struct {
	started       bool
	lastRow       []byte
	lastFamily    string
	lastQualifier []byte

	tombstones [levelRow + 1]tombstone

	versions int
	hasValue bool
}

// advance moves the state onto p. It returns the granularity of the boundary
// crossed (levelNone when p belongs to the current cell) and whether an active
// tombstone hides p. Checks for a level only run when no coarser boundary was
// crossed, because crossing it already reset that level.
func (s *cellState) advance(p cellkey.Parts) (level, bool) {
	switch {
	case !s.started || !bytes.Equal(p.Row, s.lastRow):
		s.started = true
		s.enter(levelRow, p)
		return levelRow, false
	case s.tombstones[levelRow].covers(p.Timestamp, true):
		// the same-timestamp row marker goes too
		return levelNone, true
	case p.Family != s.lastFamily:
		s.enter(levelFamily, p)
		return levelFamily, false
	case s.tombstones[levelFamily].covers(p.Timestamp, false):
		return levelNone, true
	case !bytes.Equal(p.Qualifier, s.lastQualifier):
		s.enter(levelQualifier, p)
		return levelQualifier, false
	case s.tombstones[levelQualifier].covers(p.Timestamp, false):
		return levelNone, true
	}
	return levelNone, false
}

// enter resets everything at and below boundary and seeds new tombstones.
func (s *cellState) enter(boundary level, p cellkey.Parts) {
	if boundary == levelRow {
		s.lastRow = append(s.lastRow[:0], p.Row...)
	}
	if boundary >= levelFamily {
		s.lastFamily = p.Family
	}
	s.lastQualifier = append(s.lastQualifier[:0], p.Qualifier...)

	for l := levelQualifier; l <= boundary; l++ {
		s.tombstones[l] = tombstone{}
	}
	s.versions = 0
	s.hasValue = false

	for _, rule := range seedRules {
		if rule.marker != p.Type || boundary < rule.minBoundary {
			continue
		}
		for _, l := range rule.levels {
			s.tombstones[l] = tombstone{ts: p.Timestamp, set: true}
		}
		break
	}
}

// inCell reports whether p addresses the cell the state is positioned on.
func (s *cellState) inCell(p cellkey.Parts) bool {
	return s.started &&
		p.Family == s.lastFamily &&
		bytes.Equal(p.Row, s.lastRow) &&
		bytes.Equal(p.Qualifier, s.lastQualifier)
}
