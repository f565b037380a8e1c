package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cfkv/pkg/cellkey"
	"cfkv/pkg/clock"
	"cfkv/pkg/compaction"
	"cfkv/pkg/config"
	"cfkv/pkg/listener"
	"cfkv/pkg/memtable"
	"cfkv/pkg/metrics"
	"cfkv/pkg/persistence"
	"cfkv/pkg/schema"
	"cfkv/pkg/types"
	"cfkv/pkg/wal"
)

type iJournal interface {
	listener.Job

	Append(e wal.Entry)
	Done() <-chan wal.Ack
	Replay(start types.SeqN, callback func(wal.Entry) error) error
	Reset() error
}

type iClock interface {
	Val() types.SeqN
	Next() types.SeqN
	Advance(seq types.SeqN)
}

// Table is a column-family table backed by an LSM tree. Writes go to the WAL
// and the memtable; frozen memtables are flushed to L0 in the background and
// compaction merges every table into a single L1 table.
type Table struct {
	cfg     config.DB
	index   *schema.Index
	factory *compaction.Factory

	jr      iJournal
	seqN    iClock
	logger  *slog.Logger
	metrics metrics.Collector
	events  *broadcaster

	levelManager *persistence.LevelManager
	mt           *memtable.Memtable

	// serialises writes, so WAL acks arrive in order and timestamps stay unique
	writeMu sync.Mutex
	ts      *clock.Millis
	closed  bool

	flushErrs chan error
	compactMu sync.Mutex
	compactCh chan struct{}

	// runs in openRow between the memtable snapshot and acquiring the tables
	beforeAcquire func()

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	close     func() error
}

// Open opens or creates the table stored under cfg.Persistence.RootPath and
// replays the WAL into the memtable.
func Open(cfg config.DB, opts ...Option) (*Table, error) {
	o := buildOptions(opts)

	index, err := schema.NewIndex(cfg.Schema)
	if err != nil {
		return nil, err
	}

	journal, err := wal.New(cfg.Persistence.RootPath)
	if err != nil {
		return nil, err
	}

	levelManager, err := persistence.NewLevelManager(cfg.Persistence, bloomKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Table{
		cfg:   cfg,
		index: index,
		factory: compaction.NewFactory(index,
			compaction.WithDecoder(cellkey.InternalDecoder{}),
			compaction.WithLogger(o.logger),
			compaction.WithExpiry(o.expiry),
		),
		ts:           clock.NewMillis(o.tp.Now),
		jr:           journal,
		seqN:         clock.NewSequence(levelManager.PersistentID()),
		logger:       o.logger.With("component", "table"),
		metrics:      o.metrics,
		events:       newBroadcaster(),
		levelManager: levelManager,
		mt:           memtable.New(cfg.Memtable),
		flushErrs:    make(chan error, 1),
		compactCh:    make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}

	// replayed writes may rotate the memtable, so the flusher runs first
	flusher := newFlusher(t)
	flusher.Start(ctx)

	if err := t.restoreFromJournal(); err != nil {
		cancel()
		t.mt.Close()
		flusher.Stop()
		levelManager.Close()
		_ = journal.Close()
		return nil, err
	}

	compactor := listener.New("compactor", t.compactCh, t.compactIfNeeded)
	compactor.Start(ctx)

	var ticker sync.WaitGroup
	ticker.Add(1)
	go func() {
		defer ticker.Done()
		t.tick(ctx)
	}()

	t.jr.Start(ctx)

	t.close = func() error {
		err := t.flush()

		t.writeMu.Lock()
		t.closed = true
		t.writeMu.Unlock()

		t.cancel()
		ticker.Wait()
		compactor.Stop()
		t.mt.Close()
		flusher.Stop()
		t.jr.Stop()
		t.levelManager.Close()
		t.events.close()
		return err
	}

	t.reportLevels()
	t.logger.Info("table opened",
		"path", cfg.Persistence.RootPath,
		"families", index.Len(),
		"seq", t.seqN.Val(),
	)

	return t, nil
}

// bloom filters are keyed by row, so point reads can skip whole tables
func bloomKey(ikey []byte) []byte {
	p, err := (cellkey.InternalDecoder{}).Decode(ikey)
	if err != nil {
		return ikey
	}
	return cellkey.RowPrefix(p.Row)
}

func (t *Table) restoreFromJournal() error {
	if t.jr == nil {
		return ErrWALNotInitialized
	}

	// Replay from the last known persistent entry seq number
	return t.jr.Replay(t.seqN.Val()+1, func(entry wal.Entry) error {
		t.seqN.Advance(entry.SeqNum)
		if p, err := (cellkey.InternalDecoder{}).Decode(entry.Key); err == nil {
			t.ts.Observe(p.Timestamp)
		}

		return t.mt.Upsert(entry.Key, entry.Value, entry.SeqNum)
	})
}

// Put writes a new version of the cell.
func (t *Table) Put(row []byte, family string, qualifier, value []byte) error {
	return t.write(row, family, qualifier, cellkey.Value, value)
}

// Add adds delta to the big-endian int64 counter stored in the cell.
func (t *Table) Add(row []byte, family string, qualifier []byte, delta int64) error {
	return t.write(row, family, qualifier, cellkey.AtomicAdd, compaction.EncodeCounter(delta))
}

// AddInt64 is Add for cells holding a little-endian int64.
func (t *Table) AddInt64(row []byte, family string, qualifier []byte, delta int64) error {
	return t.write(row, family, qualifier, cellkey.AtomicAddInt64, compaction.EncodeInt64Counter(delta))
}

// Append appends suffix to the current value of the cell.
func (t *Table) Append(row []byte, family string, qualifier, suffix []byte) error {
	return t.write(row, family, qualifier, cellkey.AtomicAppend, suffix)
}

// PutIfAbsent sets the cell unless it already holds a value.
func (t *Table) PutIfAbsent(row []byte, family string, qualifier, value []byte) error {
	return t.write(row, family, qualifier, cellkey.AtomicPutIfAbsent, value)
}

// DeleteRow deletes every cell of row written so far.
func (t *Table) DeleteRow(row []byte) error {
	return t.write(row, "", nil, cellkey.DeleteRow, nil)
}

// DeleteFamily deletes every cell of row in family written so far.
func (t *Table) DeleteFamily(row []byte, family string) error {
	return t.write(row, family, nil, cellkey.DeleteColumnFamily, nil)
}

// DeleteColumn deletes every version of the cell.
func (t *Table) DeleteColumn(row []byte, family string, qualifier []byte) error {
	return t.write(row, family, qualifier, cellkey.DeleteQualifierAll, nil)
}

// DeleteLatest deletes the most recent version of the cell.
func (t *Table) DeleteLatest(row []byte, family string, qualifier []byte) error {
	return t.write(row, family, qualifier, cellkey.DeleteQualifierLatest, nil)
}

func (t *Table) validate(row []byte, family string) error {
	if len(row) == 0 {
		return ErrEmptyRow
	}
	if _, ok := t.index.Lookup(family); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	return nil
}

func (t *Table) write(row []byte, family string, qualifier []byte, typ cellkey.RecordType, value []byte) error {
	if typ == cellkey.DeleteRow {
		if len(row) == 0 {
			return ErrEmptyRow
		}
	} else if err := t.validate(row, family); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed {
		return ErrClosed
	}

	entryID := t.seqN.Next()
	key := cellkey.MakeInternal(cellkey.Encode(row, family, qualifier, t.ts.Next(), typ), entryID)
	if len(key)+len(value)+8 > t.cfg.Memtable.FlushThresholdBytes {
		return ErrEntryTooLarge
	}

	t.jr.Append(wal.Entry{
		SeqNum: entryID,
		Key:    key,
		Value:  value,
	})
	// wait for the WAL to confirm write
	ack, ok := <-t.jr.Done()
	if !ok {
		return ErrClosed
	}
	if ack.Err != nil {
		return fmt.Errorf("failed to log write: %w", ack.Err)
	}
	if ack.SeqNum != entryID {
		return fmt.Errorf("WAL acknowledged seq %d, expected %d", ack.SeqNum, entryID)
	}

	if err := t.mt.Upsert(key, value, entryID); err != nil {
		return fmt.Errorf("failed to apply write: %w", err)
	}

	t.metrics.IncCounter(metrics.WritesTotal, map[string]string{"type": typ.String()}, 1)
	return nil
}

// Flush writes the memtable to L0 and waits for it to become durable.
func (t *Table) Flush() error {
	t.writeMu.Lock()
	closed := t.closed
	t.writeMu.Unlock()

	if closed {
		return ErrClosed
	}
	return t.flush()
}

func (t *Table) flush() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	// a failure nobody waited for is stale by now
	select {
	case <-t.flushErrs:
	default:
	}

	set, err := t.mt.Rotate()
	if err != nil {
		return err
	}
	if set != nil {
		select {
		case <-set.Flushed():
		case err := <-t.flushErrs:
			return fmt.Errorf("%w: %w", ErrFlushFailed, err)
		}
	}

	return t.truncateJournal()
}

// truncateJournal drops the WAL once everything it holds is in tables. The
// caller holds writeMu.
func (t *Table) truncateJournal() error {
	if !t.mt.Empty() {
		return nil
	}
	return t.jr.Reset()
}

// Stats describes the table layout.
type Stats struct {
	Levels        []persistence.LevelStats `json:"levels"`
	MemtableBytes uint64                   `json:"memtable_bytes"`
	LastSeq       types.SeqN               `json:"last_seq"`
	PersistentSeq types.SeqN               `json:"persistent_seq"`
	Families      []schema.Family          `json:"families"`
}

func (t *Table) Stats() Stats {
	return Stats{
		Levels:        t.levelManager.Stats(),
		MemtableBytes: t.mt.Size(),
		LastSeq:       t.seqN.Val(),
		PersistentSeq: t.levelManager.PersistentID(),
		Families:      t.index.Families(),
	}
}

// Subscribe returns a stream of flush and compaction events. Call the
// returned function to unsubscribe.
func (t *Table) Subscribe() (<-chan Event, func()) {
	return t.events.subscribe()
}

// Close flushes the memtable and stops the background jobs.
func (t *Table) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.close()
		t.logger.Info("table closed")
	})
	return err
}

func (t *Table) reportLevels() {
	for _, st := range t.levelManager.Stats() {
		labels := map[string]string{"level": fmt.Sprint(st.Level)}
		t.metrics.SetGauge(metrics.Tables, labels, float64(st.Tables))
		t.metrics.SetGauge(metrics.TableBytes, labels, float64(st.Bytes))
	}
}

func (t *Table) tick(ctx context.Context) {
	interval := t.cfg.Compaction.Interval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.requestCompaction()
		case <-ctx.Done():
			return
		}
	}
}
