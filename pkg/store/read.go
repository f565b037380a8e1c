package store

import (
	"bytes"
	"fmt"

	"cfkv/pkg/cellkey"
	"cfkv/pkg/compaction"
	"cfkv/pkg/iterator"
	"cfkv/pkg/persistence"
	"cfkv/pkg/types"
)

// Cell is one visible record of a row. Atomic deltas that were not folded
// into a value yet are reported with their atomic type.
type Cell struct {
	Family    string
	Qualifier []byte
	Timestamp int64
	Type      cellkey.RecordType
	Value     []byte
}

// Get returns the current value of the cell with pending atomic deltas
// applied on top of the latest version.
func (t *Table) Get(row []byte, family string, qualifier []byte) ([]byte, bool, error) {
	if err := t.validate(row, family); err != nil {
		return nil, false, err
	}

	var (
		found  bool
		kind   cellkey.RecordType
		result []byte
	)
	err := t.scanRow(row, func(c Cell) bool {
		if c.Family != family || !bytes.Equal(c.Qualifier, qualifier) {
			// cells come in order, once ours is behind us we are done
			return !found
		}

		if !found {
			found = true
			if c.Type == cellkey.Value {
				result = c.Value
				return false
			}
			kind, result = c.Type, c.Value
			return true
		}

		// older deltas and at most one base value fold underneath
		result = compaction.Resolve(kind, result, c.Value)
		return c.Type != cellkey.Value
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return result, true, nil
}

// GetString is Get for text cells.
func (t *Table) GetString(row []byte, family string, qualifier []byte) (string, bool, error) {
	v, ok, err := t.Get(row, family, qualifier)
	return string(v), ok, err
}

// GetCounter is Get for cells updated with Add.
func (t *Table) GetCounter(row []byte, family string, qualifier []byte) (int64, bool, error) {
	v, ok, err := t.Get(row, family, qualifier)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("%w: %d byte value is not a counter", ErrValueTypeMismatch, len(v))
	}
	return compaction.DecodeCounter(v), true, nil
}

// GetInt64 is Get for cells updated with AddInt64.
func (t *Table) GetInt64(row []byte, family string, qualifier []byte) (int64, bool, error) {
	v, ok, err := t.Get(row, family, qualifier)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("%w: %d byte value is not a counter", ErrValueTypeMismatch, len(v))
	}
	return compaction.DecodeInt64Counter(v), true, nil
}

// ScanRow returns every visible record of row, in stream order.
func (t *Table) ScanRow(row []byte) ([]Cell, error) {
	if len(row) == 0 {
		return nil, ErrEmptyRow
	}

	var cells []Cell
	err := t.scanRow(row, func(c Cell) bool {
		cells = append(cells, c)
		return true
	})
	return cells, err
}

// scanRow runs the scan filter over a consistent view of row and hands every
// surviving record to visit until it returns false.
func (t *Table) scanRow(row []byte, visit func(Cell) bool) (err error) {
	stream, release := t.openRow(row)
	defer release()
	defer func() { err = compaction.RecoverInvariant(recover(), err) }()

	emit := func(key, value []byte) bool {
		p, derr := (cellkey.InternalDecoder{}).Decode(key)
		if derr != nil {
			return true
		}
		return visit(Cell{
			Family:    p.Family,
			Qualifier: bytes.Clone(p.Qualifier),
			Timestamp: p.Timestamp,
			Type:      p.Type,
			Value:     bytes.Clone(value),
		})
	}

	strategy := t.factory.NewInstance()
	filter := strategy.Scan()

	// set while the deltas under a DeleteQualifierLatest marker are hidden,
	// together with the value they apply to
	var hiding *cellkey.Parts

	for stream.Valid() {
		dropped := filter.Drop(stream.Key())

		if hiding != nil {
			p, derr := (cellkey.InternalDecoder{}).Decode(stream.Key())
			if derr == nil && p.SameCell(*hiding) && (cellkey.IsAtomic(p.Type) || p.Type == cellkey.Value) {
				if p.Type == cellkey.Value {
					hiding = nil
				}
				stream.Next()
				continue
			}
			hiding = nil
		}

		if strategy.Buried() {
			if p, derr := (cellkey.InternalDecoder{}).Decode(stream.Key()); derr == nil && cellkey.IsAtomic(p.Type) {
				hiding = &cellkey.Parts{Row: bytes.Clone(p.Row), Family: p.Family, Qualifier: bytes.Clone(p.Qualifier)}
			}
		}

		if dropped {
			stream.Next()
			continue
		}
		if k, v, ok := filter.Merge(stream); ok {
			if !emit(k, v) {
				break
			}
			continue
		}
		if !emit(stream.Key(), stream.Value()) {
			break
		}
		stream.Next()
	}

	if serr := stream.Err(); serr != nil {
		return fmt.Errorf("failed to read row: %w", serr)
	}
	return nil
}

type rowStream struct {
	*iterator.Prefix
	merged *iterator.Merging
}

func (s rowStream) Err() error {
	return s.merged.Err()
}

// openRow merges the memtable and every table that may hold row. Writes
// acknowledged after the call are not visible: the memtable is cut at the
// current seq before the tables are acquired, and table entries above that seq
// are skipped, since a flush in between may already have moved newer writes
// into a table.
func (t *Table) openRow(row []byte) (rowStream, func()) {
	snapshot := t.seqN.Val()
	prefix := cellkey.RowPrefix(row)

	var sources []iterator.Iterator
	for _, entries := range t.mt.Snapshot(snapshot, prefix) {
		sources = append(sources, iterator.NewSlice(entries))
	}
	if t.beforeAcquire != nil {
		t.beforeAcquire()
	}

	tables := t.levelManager.Acquire()
	visible := func(k types.Key) bool {
		_, seq, err := cellkey.SplitInternal(k)
		return err == nil && seq <= snapshot
	}
	for _, table := range tables {
		if table.MayContain(prefix) {
			sources = append(sources, iterator.NewVisible(table.NewIterator(), visible))
		}
	}

	merged := iterator.NewMerging(sources...)
	stream := rowStream{Prefix: iterator.NewPrefix(merged, prefix), merged: merged}

	return stream, func() {
		if err := merged.Close(); err != nil {
			t.logger.Warn("failed to close row iterator", "error", err)
		}
		persistence.Release(tables)
	}
}
