package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cfkv/pkg/cellkey"
	"cfkv/pkg/compaction"
	"cfkv/pkg/iterator"
	"cfkv/pkg/metrics"
	"cfkv/pkg/persistence"
)

// output level of every compaction
const compactedLevel = 1

// how many records are copied between two context checks
const cancelCheckEvery = 1024

// Report summarises one compaction job.
type Report struct {
	JobID       string        `json:"job_id"`
	Inputs      int           `json:"inputs"`
	Read        int           `json:"read"`
	Written     int           `json:"written"`
	Dropped     int           `json:"dropped"`
	Merged      int           `json:"merged"`
	OutputID    uint64        `json:"output_id,omitempty"`
	OutputBytes int64         `json:"output_bytes"`
	Duration    time.Duration `json:"duration"`
}

// Compact merges every table into one, dropping what the compaction filter
// marks as garbage and folding atomic deltas into their base values. The
// memtable is not part of the job.
func (t *Table) Compact(ctx context.Context) (Report, error) {
	t.compactMu.Lock()
	defer t.compactMu.Unlock()

	start := time.Now()
	rep := Report{JobID: uuid.NewString()}
	logger := t.logger.With("job_id", rep.JobID)

	rep, err := t.compact(ctx, rep)
	rep.Duration = time.Since(start)

	outcome := "ok"
	event := Event{
		Kind:    EventCompaction,
		JobID:   rep.JobID,
		TableID: rep.OutputID,
		Records: rep.Written,
		Bytes:   rep.OutputBytes,
		Time:    time.Now(),
	}
	if err != nil {
		outcome = "error"
		event.Error = err.Error()
		logger.Error("compaction failed", "error", err)
	} else {
		logger.Info("compaction finished",
			"inputs", rep.Inputs,
			"read", rep.Read,
			"written", rep.Written,
			"dropped", rep.Dropped,
			"merged", rep.Merged,
			"duration", rep.Duration,
		)
	}

	t.metrics.IncCounter(metrics.JobsTotal, map[string]string{"outcome": outcome}, 1)
	t.metrics.ObserveHistogram(metrics.CompactionDuration, nil, rep.Duration.Seconds())
	t.reportLevels()
	t.events.publish(event)

	return rep, err
}

func (t *Table) compact(ctx context.Context, rep Report) (_ Report, err error) {
	inputs := t.levelManager.Acquire()
	defer persistence.Release(inputs)

	rep.Inputs = len(inputs)
	if len(inputs) == 0 {
		return rep, nil
	}

	sources := make([]iterator.Iterator, 0, len(inputs))
	for _, table := range inputs {
		sources = append(sources, table.NewIterator())
	}
	stream := iterator.NewMerging(sources...)
	defer stream.Close()

	id, w, err := t.levelManager.NewTableWriter(compactedLevel)
	if err != nil {
		return rep, err
	}
	finished := false
	defer func() {
		if !finished {
			w.Abort()
		}
	}()

	if err := t.rewrite(ctx, stream, w, &rep); err != nil {
		return rep, err
	}

	path := ""
	var meta persistence.TableMeta
	if w.Count() > 0 {
		if meta, err = w.Finish(); err != nil {
			return rep, err
		}
		path = w.Path()
		rep.OutputID = id
		rep.OutputBytes = meta.Size
	} else {
		w.Abort()
	}
	finished = true

	if err := t.levelManager.InstallCompaction(inputs, id, path, meta, compactedLevel); err != nil {
		return rep, fmt.Errorf("failed to install compaction output: %w", err)
	}
	return rep, nil
}

// rewrite drives the compaction filter over stream and writes the survivors.
func (t *Table) rewrite(ctx context.Context, stream *iterator.Merging, w *persistence.Writer, rep *Report) (err error) {
	defer func() { err = compaction.RecoverInvariant(recover(), err) }()

	strategy := t.factory.NewInstance()
	filter := strategy.Compaction()
	labels := func(verdict string) map[string]string {
		return map[string]string{"job": "compaction", "verdict": verdict}
	}
	defer func() {
		t.metrics.IncCounter(metrics.RecordsTotal, labels("dropped"), float64(rep.Dropped))
		t.metrics.IncCounter(metrics.RecordsTotal, labels("merged"), float64(rep.Merged))
		t.metrics.IncCounter(metrics.RecordsTotal, labels("kept"), float64(rep.Written))
	}()

	for stream.Valid() {
		if rep.Read%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rep.Read++

		if filter.Drop(stream.Key()) {
			rep.Dropped++
			stream.Next()
			continue
		}

		if k, v, ok := filter.Merge(stream); ok {
			rep.Merged++
			if strategy.FoldedValue() {
				// the result is the whole cell value now, reads must not
				// apply it on top of older versions again
				if k, err = asValue(k); err != nil {
					return err
				}
			}
			if err := w.Add(k, v); err != nil {
				return err
			}
			rep.Written++
			continue
		}

		if err := w.Add(stream.Key(), stream.Value()); err != nil {
			return err
		}
		rep.Written++
		stream.Next()
	}

	return stream.Err()
}

// asValue retypes a merged internal key as a Value record of the same cell,
// timestamp and sequence.
func asValue(ikey []byte) ([]byte, error) {
	raw, seq, err := cellkey.SplitInternal(ikey)
	if err != nil {
		return nil, err
	}
	p, err := cellkey.Codec{}.Decode(raw)
	if err != nil {
		return nil, err
	}
	p.Type = cellkey.Value
	return cellkey.MakeInternal(cellkey.Codec{}.Encode(p), seq), nil
}

func (t *Table) requestCompaction() {
	select {
	case t.compactCh <- struct{}{}:
	default:
	}
}

func (t *Table) compactIfNeeded(struct{}) error {
	trigger := t.cfg.Compaction.L0Trigger
	if trigger <= 0 || t.levelManager.TableCount(0) < trigger {
		return nil
	}
	_, err := t.Compact(t.ctx)
	return err
}
