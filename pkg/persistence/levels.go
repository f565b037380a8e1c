package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"cfkv/pkg/compression"
	"cfkv/pkg/config"
	"cfkv/pkg/types"
)

// LevelManager owns the open tables of the tree. Flushes add tables to L0, a
// compaction replaces its inputs with a single table one level down.
type LevelManager struct {
	mu       sync.RWMutex
	cfg      *config.PersistenceConfig
	levels   map[int][]*SSTable
	manifest *Manifest
	cache    BlockCache
	bloomKey func([]byte) []byte
	logger   *slog.Logger
}

// LevelStats summarises one level.
type LevelStats struct {
	Level  int   `json:"level"`
	Tables int   `json:"tables"`
	Bytes  int64 `json:"bytes"`
}

// NewLevelManager loads the manifest in cfg.RootPath and opens every table it
// lists. bloomKey is applied to keys written to new tables.
func NewLevelManager(cfg config.PersistenceConfig, bloomKey func([]byte) []byte) (*LevelManager, error) {
	if err := os.MkdirAll(cfg.RootPath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lm := &LevelManager{
		cfg:      &cfg,
		levels:   make(map[int][]*SSTable),
		manifest: NewManifest(cfg.RootPath),
		cache:    NewBlockCache(cfg.Cache.Capacity),
		bloomKey: bloomKey,
		logger:   slog.Default().With("component", "levels"),
	}

	if err := lm.manifest.Load(); err != nil {
		return nil, err
	}
	if err := lm.loadSSTablesFromManifest(); err != nil {
		lm.Close()
		return nil, err
	}
	lm.removeOrphans()

	return lm, nil
}

func (lm *LevelManager) loadSSTablesFromManifest() error {
	for level, tables := range lm.manifest.AllTables() {
		for _, info := range tables {
			table, err := OpenSSTable(info.ID, info.FilePath, lm.cache)
			if err != nil {
				return fmt.Errorf("failed to open table %d of level %d: %w", info.ID, level, err)
			}
			lm.levels[level] = append(lm.levels[level], table)
		}
	}
	return nil
}

// removeOrphans deletes table files the manifest does not know about, left
// behind by a crash between writing a table and installing it.
func (lm *LevelManager) removeOrphans() {
	known := make(map[string]struct{})
	for _, tables := range lm.levels {
		for _, t := range tables {
			known[filepath.Clean(t.Path())] = struct{}{}
		}
	}

	for _, pattern := range []string{"*.sst", "*.sst.tmp"} {
		matches, err := filepath.Glob(filepath.Join(lm.cfg.RootPath, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			if _, ok := known[filepath.Clean(path)]; ok {
				continue
			}
			lm.logger.Warn("removing orphaned table file", "path", path)
			if err := os.Remove(path); err != nil {
				lm.logger.Warn("failed to remove orphaned table file", "path", path, "error", err)
			}
		}
	}
}

// NewTableWriter reserves a table id and opens a writer for it.
func (lm *LevelManager) NewTableWriter(level int) (uint64, *Writer, error) {
	id := lm.manifest.NextTableID()
	path := filepath.Join(lm.cfg.RootPath, fmt.Sprintf("L%d_%06d.sst", level, id))

	w, err := NewWriter(path, WriterOptions{
		Compressor: compression.Zstd{Threshold: lm.cfg.SSTable.CompressThreshold},
		FPRate:     lm.cfg.BloomFilter.FPRate,
		BloomKey:   lm.bloomKey,
	})
	if err != nil {
		return 0, nil, err
	}
	return id, w, nil
}

// InstallFlushed opens a table written from the memtable, adds it to L0 and
// records seq as durable.
func (lm *LevelManager) InstallFlushed(id uint64, path string, meta TableMeta, seq types.SeqN) error {
	table, err := OpenSSTable(id, path, lm.cache)
	if err != nil {
		return err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	info := TableInfo{ID: id, FilePath: path, Level: 0, Size: meta.Size, Count: meta.Count}
	if err := lm.manifest.AddFlushed(info, seq); err != nil {
		table.MarkObsolete()
		return err
	}
	lm.levels[0] = append(lm.levels[0], table)

	return nil
}

// InstallCompaction replaces inputs with the output table. path is empty when
// the compaction produced nothing.
func (lm *LevelManager) InstallCompaction(inputs []*SSTable, id uint64, path string, meta TableMeta, level int) error {
	var output *SSTable
	if path != "" {
		var err error
		if output, err = OpenSSTable(id, path, lm.cache); err != nil {
			return err
		}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	removed := make([]uint64, 0, len(inputs))
	for _, t := range inputs {
		removed = append(removed, t.ID())
	}
	info := TableInfo{}
	if output != nil {
		info = TableInfo{ID: id, FilePath: path, Level: level, Size: meta.Size, Count: meta.Count}
	}
	if err := lm.manifest.ApplyCompaction(removed, info); err != nil {
		if output != nil {
			output.MarkObsolete()
		}
		return err
	}

	for lvl, tables := range lm.levels {
		lm.levels[lvl] = slices.DeleteFunc(tables, func(t *SSTable) bool {
			return slices.Contains(removed, t.ID())
		})
	}
	if output != nil {
		lm.levels[level] = append(lm.levels[level], output)
	}
	for _, t := range inputs {
		t.MarkObsolete()
	}

	return nil
}

// Acquire returns every table, each with an extra reference, L0 newest
// first. Pass the result to Release when done.
func (lm *LevelManager) Acquire() []*SSTable {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var out []*SSTable
	for _, level := range lm.sortedLevels() {
		tables := lm.levels[level]
		for i := len(tables) - 1; i >= 0; i-- {
			tables[i].Ref()
			out = append(out, tables[i])
		}
	}
	return out
}

func Release(tables []*SSTable) {
	for _, t := range tables {
		t.Unref()
	}
}

func (lm *LevelManager) TableCount(level int) int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.levels[level])
}

func (lm *LevelManager) Stats() []LevelStats {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	stats := make([]LevelStats, 0, len(lm.levels))
	for _, level := range lm.sortedLevels() {
		st := LevelStats{Level: level, Tables: len(lm.levels[level])}
		for _, t := range lm.levels[level] {
			st.Bytes += t.Size()
		}
		stats = append(stats, st)
	}
	return stats
}

func (lm *LevelManager) PersistentID() types.SeqN {
	return lm.manifest.PersistentID()
}

// Close drops the manager's references. Tables still acquired by readers stay
// open until released.
func (lm *LevelManager) Close() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for level, tables := range lm.levels {
		for _, t := range tables {
			t.Unref()
		}
		delete(lm.levels, level)
	}
}

func (lm *LevelManager) sortedLevels() []int {
	levels := make([]int, 0, len(lm.levels))
	for level := range lm.levels {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}
