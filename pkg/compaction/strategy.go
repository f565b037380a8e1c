package compaction

import (
	"log/slog"

	"cfkv/pkg/cellkey"
	"cfkv/pkg/iterator"
	"cfkv/pkg/schema"
)

const (
	strategyName = "cfkv.DefaultCompactStrategy"

	// a single merge call folds at most this many Value records
	maxFoldedValues = 1

	unresolvedFamily = -1
)

// Strategy decides, record by record, what survives a compaction or a scan of
// one table. An instance holds the position of exactly one job in the sorted
// stream and must not be shared between jobs or goroutines.
type Strategy struct {
	index   *schema.Index
	decoder cellkey.Decoder
	expired ExpiryPolicy
	logger  *slog.Logger

	state cellState

	curType cellkey.RecordType
	curTS   int64

	// scan only
	lastType cellkey.RecordType
	buried   bool

	// set by the last Consolidate call
	foldedValue bool
}

// New creates a strategy for a single job.
func New(index *schema.Index, opts ...Option) *Strategy {
	o := buildOptions(opts)
	return &Strategy{
		index:   index,
		decoder: o.decoder,
		expired: o.expired,
		logger:  o.logger,
	}
}

func (s *Strategy) Name() string {
	return strategyName
}

// Drop reports whether the record with the given key is garbage during
// compaction. Keys must arrive in stream order.
func (s *Strategy) Drop(key []byte) bool {
	p, ord, ok := s.inspect(key)
	if !ok {
		return true
	}

	if _, suppressed := s.state.advance(p); suppressed {
		return true
	}

	if p.Type == cellkey.Value {
		s.state.hasValue = true
		s.state.versions++
		if s.state.versions > s.familyOf(ord, key).MaxVersions {
			return true
		}
	}

	// deltas older than a value were already applied to it
	if cellkey.IsAtomic(p.Type) && s.state.hasValue {
		return true
	}

	return s.isExpired(p, ord)
}

// ScanDrop reports whether the record with the given key is hidden from a full
// scan. Unlike Drop it hides delete markers themselves and the single version
// directly beneath a DeleteQualifierLatest marker.
func (s *Strategy) ScanDrop(key []byte) bool {
	s.buried = false
	p, ord, ok := s.inspect(key)
	if !ok {
		return true
	}

	boundary, suppressed := s.state.advance(p)
	if suppressed {
		return true
	}

	if boundary != levelNone {
		s.lastType = p.Type
	} else {
		switch {
		case p.Type == cellkey.DeleteQualifierAll:
			s.state.tombstones[levelQualifier] = tombstone{ts: p.Timestamp, set: true}
		case s.lastType == cellkey.DeleteQualifierLatest:
			// this is the version the marker deletes
			s.lastType = p.Type
			s.buried = true
			if p.Type == cellkey.Value {
				s.state.versions++
			}
			return true
		default:
			s.lastType = p.Type
		}
	}

	if p.Type != cellkey.Value && !cellkey.IsAtomic(p.Type) {
		return true
	}

	if p.Type == cellkey.Value {
		s.state.hasValue = true
	}
	if cellkey.IsAtomic(p.Type) && s.state.hasValue {
		return true
	}

	family := s.familyOf(ord, key)
	if p.Type == cellkey.Value {
		s.state.versions++
		if s.state.versions > family.MaxVersions {
			return true
		}
	}

	return s.isExpired(p, ord)
}

// Buried reports whether the last ScanDrop call hid its record as the version
// beneath a DeleteQualifierLatest marker.
func (s *Strategy) Buried() bool {
	return s.buried
}

// Consolidate folds the run of atomic records starting at the record last
// passed to Drop or ScanDrop into one record. it must be positioned on that
// record. On return it points at the first record that was not folded.
//
// With mergePut set, at most one Value below the run is folded in as well, so
// the result already carries the net effect. merged is false, and it is left
// untouched, when the current record is not atomic.
func (s *Strategy) Consolidate(it iterator.Forward, mergePut bool) (key, value []byte, merged bool) {
	s.foldedValue = false
	if !cellkey.IsAtomic(s.curType) {
		return nil, nil, false
	}

	acc := newAccumulator(it.Key(), it.Value(), s.curType)
	it.Next()

	lastTS := s.curTS
	folded := 0
	for it.Valid() {
		if folded >= maxFoldedValues {
			break
		}

		p, err := s.decoder.Decode(it.Key())
		if err != nil {
			s.logger.Warn("invalid cell key in atomic run", "key", it.Key(), "error", err)
			break
		}
		if !s.state.inCell(p) {
			break
		}
		if !cellkey.IsAtomic(p.Type) && p.Type != cellkey.Value {
			break
		}
		if p.Type == cellkey.Value {
			if !mergePut {
				break
			}
			folded++
			s.foldedValue = true
			// the base value is consumed here and never reaches Drop
			s.state.hasValue = true
			s.state.versions++
		}

		// repeated writes at one timestamp count once
		if p.Timestamp != lastTS || p.Type == cellkey.Value {
			acc.fold(it.Value())
		}
		lastTS = p.Timestamp
		it.Next()
	}

	key, value = acc.finish()
	return key, value, true
}

// FoldedValue reports whether the last Consolidate call folded a Value into
// its result. Such a result is the complete cell value, not a delta.
func (s *Strategy) FoldedValue() bool {
	return s.foldedValue
}

// ScanMergedValue consolidates for a read: a trailing Value is never folded.
func (s *Strategy) ScanMergedValue(it iterator.Forward) (key, value []byte, merged bool) {
	return s.Consolidate(it, false)
}

// MergeAtomicOps consolidates for compaction: one trailing Value is folded.
func (s *Strategy) MergeAtomicOps(it iterator.Forward) (key, value []byte, merged bool) {
	return s.Consolidate(it, true)
}

// inspect decodes key, caches its type and timestamp, and resolves the column
// family. ok is false when the record must be dropped outright.
func (s *Strategy) inspect(key []byte) (p cellkey.Parts, ord int, ok bool) {
	p, err := s.decoder.Decode(key)
	if err != nil {
		s.logger.Warn("invalid cell key", "key", key, "error", err)
		return p, unresolvedFamily, false
	}

	s.curType = p.Type
	s.curTS = p.Timestamp

	ord = unresolvedFamily
	if p.Type != cellkey.DeleteRow {
		resolved, known := s.index.Lookup(p.Family)
		if !known {
			return p, unresolvedFamily, false
		}
		ord = resolved
	}

	return p, ord, true
}

func (s *Strategy) familyOf(ord int, key []byte) schema.Family {
	if ord < 0 || ord >= s.index.Len() {
		panic(&InvariantError{Key: append([]byte(nil), key...), Err: ErrUnresolvedFamily})
	}
	return s.index.Family(ord)
}

func (s *Strategy) isExpired(p cellkey.Parts, ord int) bool {
	if ord < 0 || (p.Type != cellkey.Value && !cellkey.IsAtomic(p.Type)) {
		return false
	}
	return s.expired(s.index.Family(ord), p.Timestamp)
}
