package store

import (
	"fmt"
	"time"

	"cfkv/pkg/listener"
	"cfkv/pkg/memtable"
	"cfkv/pkg/metrics"
)

// Flusher writes frozen memtables to L0 tables, one at a time, in the order
// they were frozen.
type Flusher struct {
	*listener.Listener[memtable.SortedSet]

	t *Table
}

func newFlusher(t *Table) *Flusher {
	f := &Flusher{t: t}
	f.Listener = listener.New("flusher", t.mt.FlushChan(), f.handle)
	return f
}

func (f *Flusher) handle(set memtable.SortedSet) error {
	start := time.Now()

	event, err := f.flush(set)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		event.Error = err.Error()
		select {
		case f.t.flushErrs <- err:
		default:
		}
	}

	f.t.metrics.IncCounter(metrics.FlushesTotal, map[string]string{"outcome": outcome}, 1)
	f.t.metrics.ObserveHistogram(metrics.FlushDuration, nil, time.Since(start).Seconds())
	f.t.events.publish(event)

	if err != nil {
		return fmt.Errorf("failed to flush memtable: %w", err)
	}

	f.t.reportLevels()
	f.t.requestCompaction()
	f.truncateJournal()
	return nil
}

func (f *Flusher) flush(set memtable.SortedSet) (Event, error) {
	items := set.Sorted()
	event := Event{Kind: EventFlush, Records: len(items), Time: time.Now()}

	id, w, err := f.t.levelManager.NewTableWriter(0)
	if err != nil {
		return event, err
	}
	event.TableID = id

	for _, item := range items {
		if err := w.Add(item.Key, item.Value); err != nil {
			w.Abort()
			return event, fmt.Errorf("failed to write SSTable data: %w", err)
		}
	}

	meta, err := w.Finish()
	if err != nil {
		return event, err
	}
	event.Bytes = meta.Size

	if err := f.t.levelManager.InstallFlushed(id, w.Path(), meta, set.MaxSeq()); err != nil {
		return event, fmt.Errorf("failed to install table %d: %w", id, err)
	}
	f.t.mt.Release(set)

	f.t.logger.Debug("memtable flushed", "table_id", id, "records", meta.Count, "bytes", meta.Size)
	return event, nil
}

// Flush holds the write lock while it waits for us, so this is best effort.
func (f *Flusher) truncateJournal() {
	if !f.t.writeMu.TryLock() {
		return
	}
	defer f.t.writeMu.Unlock()

	if f.t.closed {
		return
	}
	if err := f.t.truncateJournal(); err != nil {
		f.t.logger.Warn("failed to truncate WAL", "error", err)
	}
}
