package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"cfkv/pkg/types"
)

const manifestFile = "MANIFEST"

var (
	ErrTableNotFound = errors.New("table not found")
)

// Manifest records which table files make up the tree and up to which
// sequence number the tables are durable.
type Manifest struct {
	mu       sync.RWMutex
	filePath string
	metadata ManifestData
}

// ManifestData is the persisted form of the manifest.
type ManifestData struct {
	NextTableID  uint64              `json:"next_table_id"`
	Levels       map[int][]TableInfo `json:"levels"`
	Version      int                 `json:"version"`
	PersistentID types.SeqN          `json:"persistent_id"`
}

// TableInfo represents information about an SSTable.
type TableInfo struct {
	ID       uint64 `json:"id"`
	FilePath string `json:"file_path"`
	Level    int    `json:"level"`
	Size     int64  `json:"size"`
	Count    uint32 `json:"count"`
}

func NewManifest(dataDir string) *Manifest {
	return &Manifest{
		filePath: filepath.Join(dataDir, manifestFile),
		metadata: ManifestData{
			NextTableID: 1,
			Levels:      make(map[int][]TableInfo),
			Version:     1,
		},
	}
}

// Load reads the manifest from disk, creating it when absent.
func (m *Manifest) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return m.save()
		}
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	if err := json.Unmarshal(data, &m.metadata); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.metadata.Levels == nil {
		m.metadata.Levels = make(map[int][]TableInfo)
	}

	return nil
}

// save writes a new manifest file and renames it over the old one.
func (m *Manifest) save() error {
	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.filePath); err != nil {
		return fmt.Errorf("failed to install manifest: %w", err)
	}

	return nil
}

// NextTableID reserves a table id.
func (m *Manifest) NextTableID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.metadata.NextTableID
	m.metadata.NextTableID++
	return id
}

// AddFlushed registers a table written from the memtable and advances the
// persistent sequence number to seq.
func (m *Manifest) AddFlushed(info TableInfo, seq types.SeqN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metadata.Levels[info.Level] = append(m.metadata.Levels[info.Level], info)
	if info.ID >= m.metadata.NextTableID {
		m.metadata.NextTableID = info.ID + 1
	}
	if seq > m.metadata.PersistentID {
		m.metadata.PersistentID = seq
	}

	return m.save()
}

// ApplyCompaction swaps the compacted inputs for the output in one save. A
// zero output ID means the compaction produced no records.
func (m *Manifest) ApplyCompaction(removed []uint64, output TableInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range removed {
		found := false
		for level, tables := range m.metadata.Levels {
			before := len(tables)
			tables = slices.DeleteFunc(tables, func(t TableInfo) bool { return t.ID == id })
			if len(tables) != before {
				found = true
			}
			m.metadata.Levels[level] = tables
		}
		if !found {
			return fmt.Errorf("%w: %d", ErrTableNotFound, id)
		}
	}

	if output.ID != 0 {
		m.metadata.Levels[output.Level] = append(m.metadata.Levels[output.Level], output)
	}

	return m.save()
}

// AllTables returns a copy of all tables by level.
func (m *Manifest) AllTables() map[int][]TableInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[int][]TableInfo, len(m.metadata.Levels))
	for level, tables := range m.metadata.Levels {
		result[level] = slices.Clone(tables)
	}
	return result
}

func (m *Manifest) TotalSize() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, tables := range m.metadata.Levels {
		for _, t := range tables {
			total += t.Size
		}
	}
	return total
}

func (m *Manifest) PersistentID() types.SeqN {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata.PersistentID
}
